package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	gcs "cloud.google.com/go/storage"
	vision "cloud.google.com/go/vision/apiv1"
	firebase "firebase.google.com/go"
	"github.com/google/generative-ai-go/genai"
	"github.com/improbable-eng/grpc-web/go/grpcweb"
	"github.com/ridge/must/v2"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc"

	pagetransAuth "github.com/visionex-project/pagetrans/grpc/auth"
	"github.com/visionex-project/pagetrans/grpc/impl"
	"github.com/visionex-project/pagetrans/grpc/impl/assemble"
	"github.com/visionex-project/pagetrans/grpc/impl/font"
	yaGenai "github.com/visionex-project/pagetrans/grpc/impl/genai"
	"github.com/visionex-project/pagetrans/grpc/impl/jobs"
	"github.com/visionex-project/pagetrans/grpc/impl/lama"
	"github.com/visionex-project/pagetrans/grpc/impl/layout"
	"github.com/visionex-project/pagetrans/grpc/impl/pipeline"
	"github.com/visionex-project/pagetrans/grpc/impl/render"
	"github.com/visionex-project/pagetrans/grpc/impl/source"
	"github.com/visionex-project/pagetrans/grpc/impl/storage"
	"github.com/visionex-project/pagetrans/grpc/impl/translate"
	"github.com/visionex-project/pagetrans/pkg/config"
	"github.com/visionex-project/pagetrans/pkg/env"
	yaHttp "github.com/visionex-project/pagetrans/pkg/http"
	yaOpenai "github.com/visionex-project/pagetrans/pkg/openai"
)

func main() {
	env.Load()
	cfg := must.OK1(config.Load(env.StringVariable("PAGETRANS_CONFIG", "grpc/cmd/config.yaml")))
	cfg.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Missing font files fall back to the embedded Go font, see font.New.
	fontProvider := must.OK1(font.New(cfg.Render.FontDir))
	backend := must.OK1(render.ParseKind(cfg.Render.Backend))
	defaultMode := must.OK1(assemble.ParseMode(cfg.Render.Mode))

	must.OK(os.MkdirAll(cfg.Storage.WorkDir, 0o755))
	registry := must.OK1(jobs.OpenSQLite(ctx, cfg.RegistryPath()))
	defer registry.Close()
	store := must.OK1(jobs.NewStore(ctx, registry, cfg.Storage.WorkDir, jobs.WithValidator(func(params jobs.Params) error {
		_, err := assemble.ParseMode(params.RenderMode)
		return err
	})))

	secrets := &secretSource{}
	defer secrets.Close()

	detector, closeDetector := newDetector(ctx, cfg)
	defer closeDetector()
	translator, closeTranslator := newTranslator(ctx, cfg, secrets)
	defer closeTranslator()

	// Initialize Lama client (optional)
	var inpainter lama.Client
	if lamaURL := os.Getenv("LAMA_URL"); lamaURL != "" {
		inpainter = lama.New(lamaURL)
	}

	var mirror *storage.Mirror
	if bucket := os.Getenv("ARTIFACT_BUCKET"); bucket != "" {
		gcsClient := must.OK1(gcs.NewClient(ctx))
		defer gcsClient.Close()
		mirror = storage.NewMirror(storage.New(gcsClient), bucket, cfg.Storage.Prefix)
	}

	documentSource := source.New(cfg.Render.DPI)
	processor := &pipeline.Context{
		Source:      documentSource,
		Detector:    layout.Serial(detector),
		Translator:  translator,
		Fonts:       fontProvider,
		Compose:     cfg.Compose,
		Backend:     backend,
		Inpainter:   inpainter,
		Writer:      assemble.NewWriter(cfg.Render.DPI),
		Mirror:      mirror,
		Concurrency: cfg.Translator.Concurrency,
		JobDir:      store.JobDir,
	}
	go jobs.NewWorker(store, processor, cfg.Worker.PollInterval).Run(ctx)

	options := []grpc.ServerOption{grpc.MaxRecvMsgSize(100 * 1024 * 1024)}
	if env.StringVariable("AUTH_DISABLED", "") != "true" {
		options = append(options, grpc.UnaryInterceptor(pagetransAuth.UnaryInterceptor(newAuthenticator(ctx))))
	} else {
		log.Warn("authentication is disabled")
	}
	grpcServer := grpc.NewServer(options...)
	server := impl.New(store, documentSource, defaultMode)
	impl.Register(grpcServer, server)

	go runGrpcServer(grpcServer, env.RequiredIntVariable("GRPC_PORT"))
	runGrpcWebServer(ctx, grpcServer, server.ArtifactPath, env.RequiredIntVariable("WEB_PORT"), env.StringVariable("UI_ORIGIN", ""))
	grpcServer.GracefulStop()
}

func newDetector(ctx context.Context, cfg *config.Config) (layout.Detector, func()) {
	switch cfg.Layout.Type {
	case "documentai":
		client := must.OK1(documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(env.RequiredStringVariable("DOCUMENTAI_ENDPOINT"))))
		return layout.NewDocumentAI(client, layout.DocumentAISpec{
			ProjectID:   env.RequiredStringVariable("GCP_PROJECT_ID"),
			Location:    env.RequiredStringVariable("DOCUMENTAI_LOCATION"),
			ProcessorID: env.RequiredStringVariable("DOCUMENTAI_PROCESSOR_ID"),
		}), func() { client.Close() }
	case "vision":
		client := must.OK1(vision.NewImageAnnotatorClient(ctx))
		return layout.NewVision(client), func() { client.Close() }
	case "tesseract":
		return must.OK1(newTesseract(cfg.Layout.Languages)), func() {}
	}
	panic(fmt.Sprintf("unknown layout.type %q", cfg.Layout.Type))
}

func newTranslator(ctx context.Context, cfg *config.Config, secrets *secretSource) (translate.Engine, func()) {
	model := cfg.Translator.Model
	switch cfg.Translator.Type {
	case "openai":
		key := secrets.lookup(ctx, "OPENAI_API_KEY", "OPENAI_KEY_SECRET_NAME")
		return translate.NewLLM(yaOpenai.New(key, cfg.Translator.BaseURL), model), func() {}
	case "gemini":
		key := secrets.lookup(ctx, "GEMINI_API_KEY", "GEMINI_API_KEY_SECRET_NAME")
		client := must.OK1(genai.NewClient(ctx, option.WithAPIKey(key)))
		if !strings.HasPrefix(model, "gemini-") {
			log.WithField("model", model).Warnf("not a Gemini model, using %s", yaGenai.DefaultModel)
			model = yaGenai.DefaultModel
		}
		return translate.NewLLM(yaGenai.New(client), model), func() { client.Close() }
	}
	panic(fmt.Sprintf("unknown translator.type %q", cfg.Translator.Type))
}

func newAuthenticator(ctx context.Context) *pagetransAuth.Authenticator {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: env.RequiredStringVariable("GCP_PROJECT_ID")})
	if err != nil {
		log.Fatalf("error initializing app: %v", err)
	}
	firebaseClient, err := app.Auth(ctx)
	if err != nil {
		log.Fatalf("error getting Auth client: %v", err)
	}
	return pagetransAuth.New(firebaseClient, env.ListVariable("AUTH_EMAIL_DOMAINS", nil))
}

func runGrpcServer(grpcServer *grpc.Server, port int) {
	log.Infof("pagetrans gRPC server listening on port %d", port)
	must.OK(grpcServer.Serve(must.OK1(net.Listen("tcp", fmt.Sprintf(":%d", port)))))
}

func runGrpcWebServer(ctx context.Context, grpcServer *grpc.Server, artifacts yaHttp.ArtifactResolver, port int, origin string) {
	grpcwebServer := grpcweb.WrapServer(grpcServer,
		grpcweb.WithOriginFunc(func(requestOrigin string) bool {
			return origin == "" || requestOrigin == origin
		}),
	)

	staticFileDir := env.StringVariable("STATIC_FILE_DIR", "")
	defaultHandler := func(w http.ResponseWriter, r *http.Request) {
		if grpcwebServer.IsGrpcWebRequest(r) || grpcwebServer.IsAcceptableGrpcCorsRequest(r) {
			grpcwebServer.ServeHTTP(w, r)
			return
		}
		if staticFileDir == "" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, staticFileDir+"/index.html")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", defaultHandler)
	mux.HandleFunc("/artifacts/", yaHttp.HandleArtifacts("/artifacts/", artifacts))
	if staticFileDir != "" {
		mux.HandleFunc("/assets/", yaHttp.HandleFileServer(http.FileServer(http.Dir(staticFileDir))))
	}

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()
	log.Infof("pagetrans gRPC-web server listening on port %d", port)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		must.OK(err)
	}
	log.Info("shutting down")
}

// secretSource reads API keys from the environment, or from Secret Manager when only the
// secret name is set. The Secret Manager client is created on first use.
type secretSource struct {
	client *secretmanager.Client
}

func (s *secretSource) lookup(ctx context.Context, keyVariable string, secretVariable string) string {
	// Direct API keys are meant for local development.
	if key := os.Getenv(keyVariable); key != "" {
		return key
	}
	if s.client == nil {
		s.client = must.OK1(secretmanager.NewClient(ctx))
	}
	secretValue := must.OK1(s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
			env.RequiredStringVariable("GCP_PROJECT_ID"),
			env.RequiredStringVariable(secretVariable),
		),
	}))
	return string(secretValue.Payload.Data)
}

func (s *secretSource) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

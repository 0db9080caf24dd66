package http

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// HandleFileServer returns a handler that serves static files
func HandleFileServer(fs http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Remove any query parameters
		path := r.URL.Path
		if idx := strings.Index(path, "?"); idx != -1 {
			path = path[:idx]
		}
		r.URL.Path = path

		switch {
		case strings.HasSuffix(path, ".js"):
			w.Header().Set("Content-Type", "application/javascript")
		case strings.HasSuffix(path, ".css"):
			w.Header().Set("Content-Type", "text/css")
		case strings.HasSuffix(path, ".html"):
			w.Header().Set("Content-Type", "text/html")
		}

		fs.ServeHTTP(w, r)
	}
}

// ArtifactResolver maps a job name to the local path of its finished artifact. It returns
// ok=false when there is nothing to download.
type ArtifactResolver func(ctx context.Context, name string) (path string, ok bool, err error)

// HandleArtifacts serves <prefix><job name> as a PDF attachment.
func HandleArtifacts(prefix string, resolve ArtifactResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimPrefix(r.URL.Path, prefix)
		if name == "" || strings.Contains(name, "/") {
			http.NotFound(w, r)
			return
		}

		path, ok, err := resolve(r.Context(), name)
		if err != nil {
			log.WithError(err).WithField("job", name).Error("failed to resolve artifact")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}

		download := strings.TrimSuffix(name, filepath.Ext(name)) + "_translated.pdf"
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="`+download+`"`)
		http.ServeFile(w, r, path)
	}
}

package impl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/visionex-project/pagetrans/grpc/impl/jobs"
	"github.com/visionex-project/pagetrans/grpc/impl/translate"
	"github.com/visionex-project/pagetrans/pkg/apperr"
	"github.com/visionex-project/pagetrans/pkg/utils"
)

func (s *server) ListJobs(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	const op = "impl.ListJobs"
	var filter *jobs.Status
	if value := stringField(request.GetFields(), "status"); value != "" {
		status, err := jobs.ParseStatus(value)
		if err != nil {
			return nil, toStatus(op, apperr.Wrap(apperr.KindInput, op, err))
		}
		filter = &status
	}

	list, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, toStatus(op, err)
	}
	response, err := structpb.NewStruct(map[string]any{
		"jobs": utils.Map(list, jobFields),
	})
	if err != nil {
		return nil, toStatus(op, err)
	}
	return response, nil
}

func jobFields(job jobs.Job) any {
	return map[string]any{
		"name":               job.Name,
		"source_path":        job.SourcePath,
		"output_path":        job.OutputPath,
		"status":             job.Status.String(),
		"seq":                job.Seq,
		"error":              job.Error,
		"from_lang":          job.Params.FromLang,
		"to_lang":            job.Params.ToLang,
		"translate_all":      job.Params.TranslateAll,
		"page_from":          job.Params.PageFrom,
		"page_to":            job.Params.PageTo,
		"render_mode":        job.Params.RenderMode,
		"add_boundary_pages": job.Params.AddBoundaryPages,
		"created_at":         job.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":         job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Fetch returns the artifact of the translated job that wrote output_path.
func (s *server) Fetch(ctx context.Context, request *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	const op = "impl.Fetch"
	job, err := s.store.Artifact(ctx, request.GetValue())
	if err != nil {
		return nil, toStatus(op, err)
	}
	content, err := os.ReadFile(job.OutputPath)
	if err != nil {
		return nil, toStatus(op, apperr.Wrap(apperr.KindNotFound, op, err))
	}
	return wrapperspb.Bytes(content), nil
}

func (s *server) Cancel(ctx context.Context, request *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.store.Cancel(ctx, request.GetValue()); err != nil {
		return nil, toStatus("impl.Cancel", err)
	}
	return &emptypb.Empty{}, nil
}

// ClearTemp removes every directory of the work area that no queued or running job uses.
// Files at the top level, such as the registry database, are kept.
func (s *server) ClearTemp(ctx context.Context, request *emptypb.Empty) (*emptypb.Empty, error) {
	const op = "impl.ClearTemp"
	all, err := s.store.List(ctx, nil)
	if err != nil {
		return nil, toStatus(op, err)
	}
	keep := map[string]bool{}
	for _, job := range all {
		if s.store.Active(job.Name) {
			keep[filepath.Clean(s.store.JobDir(job.Name))] = true
			keep[filepath.Clean(filepath.Dir(job.SourcePath))] = true
			keep[filepath.Clean(filepath.Dir(job.OutputPath))] = true
		}
	}

	removed := 0
	for _, dir := range []string{s.store.WorkDir(), filepath.Join(s.store.WorkDir(), uploadDirName)} {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, toStatus(op, err)
		}
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if !entry.IsDir() || keep[path] || (dir == s.store.WorkDir() && entry.Name() == uploadDirName) {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				return nil, toStatus(op, err)
			}
			removed++
		}
	}
	log.WithField("removed", removed).Info("temporary files cleared")
	return &emptypb.Empty{}, nil
}

func (s *server) Languages(ctx context.Context, request *emptypb.Empty) (*structpb.ListValue, error) {
	languages, err := structpb.NewList(utils.Map(translate.Languages(), func(language string) any {
		return language
	}))
	if err != nil {
		return nil, toStatus("impl.Languages", err)
	}
	return languages, nil
}

// ArtifactPath resolves the download of a translated job for the HTTP artifact handler.
func (s *server) ArtifactPath(ctx context.Context, name string) (string, bool, error) {
	job, err := s.store.Get(ctx, name)
	if apperr.Is(err, apperr.KindNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if job.Status != jobs.StatusTranslated {
		return "", false, nil
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		return "", false, nil
	}
	return job.OutputPath, true, nil
}

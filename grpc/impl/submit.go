package impl

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/visionex-project/pagetrans/grpc/impl/assemble"
	"github.com/visionex-project/pagetrans/grpc/impl/jobs"
	"github.com/visionex-project/pagetrans/pkg/apperr"
)

const uploadDirName = "uploads"

func (s *server) Submit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	const op = "impl.Submit"
	fields := request.GetFields()

	sourcePath, err := s.sourcePath(fields)
	if err != nil {
		return nil, toStatus(op, err)
	}

	params := jobs.Params{
		FromLang:         stringField(fields, "from_lang"),
		ToLang:           stringField(fields, "to_lang"),
		TranslateAll:     fields["translate_all"].GetBoolValue(),
		PageFrom:         int(fields["page_from"].GetNumberValue()),
		PageTo:           int(fields["page_to"].GetNumberValue()),
		RenderMode:       stringField(fields, "render_mode"),
		AddBoundaryPages: fields["add_boundary_pages"].GetBoolValue(),
	}
	if params.ToLang == "" {
		return nil, toStatus(op, apperr.Input(op, "to_lang is required"))
	}
	if params.RenderMode == "" {
		params.RenderMode = s.defaultMode.String()
	}
	mode, err := assemble.ParseMode(params.RenderMode)
	if err != nil {
		return nil, toStatus(op, err)
	}
	params.RenderMode = mode.String()

	if !params.TranslateAll {
		count, err := s.source.PageCount(ctx, sourcePath)
		if err != nil {
			return nil, toStatus(op, apperr.Wrap(apperr.KindInput, op, err))
		}
		if params.PageTo > count {
			return nil, toStatus(op, apperr.Input(op, "page_to %d is beyond the %d pages of %s", params.PageTo, count, filepath.Base(sourcePath)))
		}
	}

	job, position, err := s.store.Submit(ctx, sourcePath, stringField(fields, "output_path"), params)
	if err != nil {
		return nil, toStatus(op, err)
	}
	response, err := structpb.NewStruct(map[string]any{
		"position":    position,
		"name":        job.Name,
		"output_path": job.OutputPath,
	})
	if err != nil {
		return nil, toStatus(op, err)
	}
	return response, nil
}

// sourcePath returns source_path, or stores source_content under the upload directory.
func (s *server) sourcePath(fields map[string]*structpb.Value) (string, error) {
	const op = "impl.Submit"
	if path := stringField(fields, "source_path"); path != "" {
		return path, nil
	}

	encoded := stringField(fields, "source_content")
	if encoded == "" {
		return "", apperr.Input(op, "either source_path or source_content is required")
	}
	name := filepath.Base(stringField(fields, "file_name"))
	if name == "." || name == "/" || name == "" {
		return "", apperr.Input(op, "file_name is required with source_content")
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInput, op, fmt.Errorf("source_content is not base64: %w", err))
	}

	// One directory per upload keeps the file name, which is the job identity.
	dir := filepath.Join(s.store.WorkDir(), uploadDirName, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	log.WithFields(log.Fields{"file": name, "bytes": len(content)}).Info("upload stored")
	return path, nil
}

func stringField(fields map[string]*structpb.Value, key string) string {
	return fields[key].GetStringValue()
}

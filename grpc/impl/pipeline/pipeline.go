// Package pipeline runs one translation job end to end: rasterize, detect, translate,
// compose, render and assemble.
package pipeline

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/visionex-project/pagetrans/grpc/impl/assemble"
	"github.com/visionex-project/pagetrans/grpc/impl/compose"
	"github.com/visionex-project/pagetrans/grpc/impl/doc"
	"github.com/visionex-project/pagetrans/grpc/impl/font"
	"github.com/visionex-project/pagetrans/grpc/impl/jobs"
	"github.com/visionex-project/pagetrans/grpc/impl/lama"
	"github.com/visionex-project/pagetrans/grpc/impl/layout"
	"github.com/visionex-project/pagetrans/grpc/impl/render"
	"github.com/visionex-project/pagetrans/grpc/impl/source"
	"github.com/visionex-project/pagetrans/grpc/impl/storage"
	"github.com/visionex-project/pagetrans/grpc/impl/translate"
	"github.com/visionex-project/pagetrans/pkg/apperr"
)

// Context owns the collaborators shared by every job. It is built once at startup and
// handed to the worker.
type Context struct {
	Source source.Source
	// Must be wrapped with layout.Serial.
	Detector   layout.Detector
	Translator translate.Engine
	Fonts      font.Provider
	Compose    compose.Options
	Backend    render.Kind
	// Optional. Raster pages are erased with a plain fill when nil.
	Inpainter lama.Client
	Writer    *assemble.Writer
	// Optional.
	Mirror *storage.Mirror
	// Translation requests in flight per page, and pages rendered at once.
	Concurrency int
	// JobDir returns the scratch directory of a job.
	JobDir func(name string) string
}

var _ jobs.Processor = (*Context)(nil)

// Process implements jobs.Processor.
func (c *Context) Process(ctx context.Context, job jobs.Job) (err error) {
	const op = "pipeline.Process"
	logger := log.WithField("job", job.Name)
	scratch := filepath.Join(c.JobDir(job.Name), "pages")
	defer func() {
		if err == nil {
			return
		}
		if removeErr := os.RemoveAll(scratch); removeErr != nil {
			logger.WithError(removeErr).Warn("failed to remove page artifacts")
		}
		if removeErr := os.Remove(job.OutputPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			logger.WithError(removeErr).Warn("failed to remove partial output")
		}
	}()

	mode, err := assemble.ParseMode(job.Params.RenderMode)
	if err != nil {
		return apperr.Wrap(apperr.KindProcessing, op, err)
	}
	from, to, err := c.pageRange(ctx, job)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	originals, err := c.Source.Pages(ctx, job.SourcePath, from, to)
	if err != nil {
		return apperr.Wrap(apperr.KindProcessing, op, err)
	}
	logger.WithFields(log.Fields{"from": from, "to": to, "elapsed": time.Since(startedAt)}).Info("pages rasterized")

	f := c.Fonts.FontByLanguage(job.Params.ToLang)
	engine := compose.New(f.Metrics, c.Compose)
	backend, err := render.New(c.Backend, f, engine, c.Inpainter)
	if err != nil {
		return apperr.Wrap(apperr.KindProcessing, op, err)
	}

	pages := make([]*doc.Page, len(originals))
	reached := false
	for i, original := range originals {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := c.preparePage(ctx, job, from+i, original, reached, engine, f.Family)
		if err != nil {
			return err
		}
		pages[i] = page
		reached = page.ReachedReferences
	}

	rendered, err := c.render(ctx, backend, pages)
	if err != nil {
		return err
	}

	sheets, err := assemble.Plan(mode, rendered, originals, job.Params.AddBoundaryPages)
	if err != nil {
		return err
	}
	if err := c.Writer.Write(ctx, sheets, scratch, job.OutputPath); err != nil {
		return err
	}
	os.Remove(scratch)

	if c.Mirror != nil {
		if _, err := c.Mirror.Upload(ctx, job.Name, job.OutputPath); err != nil {
			logger.WithError(err).Warn("failed to mirror artifact")
		}
	}
	return nil
}

// pageRange clamps the requested range to the document.
func (c *Context) pageRange(ctx context.Context, job jobs.Job) (int, int, error) {
	const op = "pipeline.pageRange"
	count, err := c.Source.PageCount(ctx, job.SourcePath)
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.KindProcessing, op, err)
	}
	from, to := 0, count
	if !job.Params.TranslateAll {
		from = max(job.Params.PageFrom, 0)
		to = min(job.Params.PageTo, count)
	}
	if from >= to {
		return 0, 0, apperr.Processing(op, "page range [%d, %d) selects nothing in a document of %d pages", job.Params.PageFrom, job.Params.PageTo, count)
	}
	return from, to, nil
}

// preparePage detects the blocks of one page and, unless the references section was
// reached, translates and composes them.
func (c *Context) preparePage(ctx context.Context, job jobs.Job, index int, original image.Image, reached bool, engine *compose.Engine, family string) (*doc.Page, error) {
	const op = "pipeline.preparePage"
	logger := log.WithFields(log.Fields{"job": job.Name, "page": index})

	blocks, err := c.Detector.Detect(ctx, original)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProcessing, op, err)
	}
	page := &doc.Page{Index: index, Image: original, Blocks: blocks}
	page.CropSnippets()
	if page.MarkReferences(reached) {
		if !reached {
			logger.Info("references section reached, remaining pages are copied")
		}
		return page, nil
	}

	if err := translate.TranslateBlocks(ctx, c.Translator, page.Blocks, job.Params.FromLang, job.Params.ToLang, c.Concurrency); err != nil {
		return nil, err
	}
	for _, block := range page.Blocks {
		if !block.Translatable() || block.Translated == nil {
			continue
		}
		text := strings.TrimSpace(*block.Translated)
		block.Translated = &text
		if text == "" {
			// No lines: the original snippet stays on the page.
			continue
		}
		plan := engine.Fit(text, block.Box.Width(), block.Box.Height())
		block.Font = doc.FontPlan{Family: family, Size: plan.Size, LineGain: plan.LineGain}
		block.Lines = plan.Lines
	}
	logger.WithField("blocks", len(page.Blocks)).Info("page prepared")
	return page, nil
}

func (c *Context) render(ctx context.Context, backend render.Backend, pages []*doc.Page) ([]*render.Page, error) {
	rendered := make([]*render.Page, len(pages))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(c.Concurrency, 1))
	for i, page := range pages {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			rendered[i] = render.Draw(groupCtx, backend, page)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return rendered, ctx.Err()
}

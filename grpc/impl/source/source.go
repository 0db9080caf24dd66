// Package source turns a submitted document into page images.
package source

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	log "github.com/sirupsen/logrus"

	"github.com/visionex-project/pagetrans/pkg/apperr"
)

const DefaultDPI = 200

type Source interface {
	PageCount(ctx context.Context, path string) (int, error)
	// Pages rasterizes pages [from, to), 0-based.
	Pages(ctx context.Context, path string, from, to int) ([]image.Image, error)
}

// Document reads PDFs through poppler's pdftoppm and single images directly.
type Document struct {
	dpi int
}

func New(dpi int) *Document {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Document{dpi: dpi}
}

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

func (d *Document) PageCount(ctx context.Context, path string) (int, error) {
	if isImage(path) {
		return 1, nil
	}
	file, reader, err := pdf.Open(path)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInput, "source.PageCount", fmt.Errorf("failed to open %s: %w", path, err))
	}
	defer file.Close()
	return reader.NumPage(), nil
}

func (d *Document) Pages(ctx context.Context, path string, from, to int) ([]image.Image, error) {
	if isImage(path) {
		if from != 0 || to != 1 {
			return nil, apperr.Processing("source.Pages", "an image has a single page, got range [%d, %d)", from, to)
		}
		img, err := loadImage(path)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindProcessing, "source.Pages", err)
		}
		return []image.Image{img}, nil
	}

	tempDir, err := os.MkdirTemp("", "pagetrans-pages-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	pages := make([]image.Image, 0, to-from)
	for index := from; index < to; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := d.rasterize(ctx, path, index, tempDir)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindProcessing, "source.Pages", err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}

func (d *Document) rasterize(ctx context.Context, path string, index int, tempDir string) (image.Image, error) {
	page := strconv.Itoa(index + 1)
	prefix := filepath.Join(tempDir, "page_"+page)
	args := []string{
		"-f", page,
		"-l", page,
		"-png",
		"-r", strconv.Itoa(d.dpi),
		"-singlefile",
		path,
		prefix,
	}

	output, err := exec.CommandContext(ctx, "pdftoppm", args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed on page %d: %w, output: %s", index, err, output)
	}

	img, err := loadImage(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("failed to load page %d: %w", index, err)
	}
	log.WithFields(log.Fields{
		"page":   index,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debug("page rasterized")
	return img, nil
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}

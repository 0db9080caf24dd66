// Package render paints composed blocks back onto page images. Two back ends share one
// contract: Raster draws into pixels and Vector emits a PDF user-space display list.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/visionex-project/pagetrans/grpc/impl/compose"
	"github.com/visionex-project/pagetrans/grpc/impl/doc"
	"github.com/visionex-project/pagetrans/grpc/impl/font"
	"github.com/visionex-project/pagetrans/grpc/impl/lama"
)

type Kind string

const (
	KindRaster Kind = "raster"
	KindVector Kind = "vector"
)

func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindRaster, "":
		return KindRaster, nil
	case KindVector:
		return KindVector, nil
	}
	return "", fmt.Errorf("unknown render backend %q", value)
}

// Backend creates one Canvas per page.
type Backend interface {
	InitPage(ctx context.Context, index int, original image.Image) Canvas
}

type Canvas interface {
	// EraseRegions paints over the boxes of blocks that are about to receive new text.
	EraseRegions(blocks []*doc.Block)
	DrawBlock(block *doc.Block)
	FinishPage() *Page
}

// Page is one rendered page. Raster output sets Image, vector output sets Ops.
type Page struct {
	Index  int
	Width  float64
	Height float64
	Image  image.Image
	Ops    []Op
}

// Op is a display-list entry in PDF user space: origin bottom-left, y increasing upward.
type Op interface {
	isOp()
}

// ImageOp places Image with its bottom-left corner at (X, Y).
type ImageOp struct {
	X, Y, W, H float64
	Image      image.Image
}

// TextOp draws Text with its baseline starting at (X, Y).
type TextOp struct {
	X, Y  float64
	Text  string
	Font  *font.Font
	Size  float64
	Color color.Color
}

func (ImageOp) isOp() {}
func (TextOp) isOp()  {}

// New returns the back end of kind drawing with f. inpainter may be nil.
func New(kind Kind, f *font.Font, engine *compose.Engine, inpainter lama.Client) (Backend, error) {
	switch kind {
	case KindRaster:
		return &Raster{font: f, engine: engine, inpainter: inpainter}, nil
	case KindVector:
		return &Vector{font: f, engine: engine}, nil
	}
	return nil, fmt.Errorf("unknown render backend %q", kind)
}

// Draw renders page through b. Pages at or after the references section come back as the
// original image without any block drawn.
func Draw(ctx context.Context, b Backend, page *doc.Page) *Page {
	canvas := b.InitPage(ctx, page.Index, page.Image)
	if page.ReachedReferences {
		return canvas.FinishPage()
	}

	var composed []*doc.Block
	for _, block := range page.Blocks {
		if hasText(block) {
			composed = append(composed, block)
		}
	}
	canvas.EraseRegions(composed)
	for _, block := range page.Blocks {
		canvas.DrawBlock(block)
	}
	return canvas.FinishPage()
}

// hasText reports whether block is drawn as text rather than as its snippet.
func hasText(block *doc.Block) bool {
	return (block.Type == doc.BlockText || block.Type == doc.BlockList) && len(block.Lines) > 0
}

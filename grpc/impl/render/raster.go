package render

import (
	"context"
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"github.com/visionex-project/pagetrans/grpc/impl/compose"
	"github.com/visionex-project/pagetrans/grpc/impl/doc"
	"github.com/visionex-project/pagetrans/grpc/impl/font"
	"github.com/visionex-project/pagetrans/grpc/impl/lama"
)

// Raster draws justified text into a copy of the page pixels. Coordinates are the
// detector's: origin top-left, no flip.
type Raster struct {
	font      *font.Font
	engine    *compose.Engine
	inpainter lama.Client
}

func (r *Raster) InitPage(ctx context.Context, index int, original image.Image) Canvas {
	page := cloneRGBA(original)
	return &rasterCanvas{
		ctx:      ctx,
		backend:  r,
		index:    index,
		original: original,
		page:     page,
		dc:       gg.NewContextForRGBA(page),
	}
}

type rasterCanvas struct {
	ctx         context.Context
	backend     *Raster
	index       int
	original    image.Image
	page        *image.RGBA
	dc          *gg.Context
	backgrounds map[*doc.Block]color.Color
}

func (c *rasterCanvas) EraseRegions(blocks []*doc.Block) {
	c.backgrounds = erase(c.ctx, c.page, c.original, blocks, c.backend.inpainter, c.index)
}

func (c *rasterCanvas) DrawBlock(block *doc.Block) {
	if !hasText(block) {
		if block.Snippet != nil {
			rect := block.Box.Rect(0, c.page.Bounds())
			c.dc.DrawImage(block.Snippet, rect.Min.X, rect.Min.Y)
		}
		return
	}

	face := font.NewFace(c.backend.font.TrueType, block.Font.Size)
	c.dc.SetFontFace(face)
	c.dc.SetColor(inkFor(block, c.backgrounds, c.original))
	ascent := float64(face.Metrics().Ascent) / 64

	lines := c.backend.engine.Justify(block.Lines, block.Box.Width(), block.Font.Size)
	for i, line := range lines {
		baseline := block.Box.Y0 + float64(i*block.Font.LineGain) + ascent
		for _, word := range line.Words {
			c.dc.DrawString(word.Text, block.Box.X0+word.X, baseline)
		}
	}
}

func (c *rasterCanvas) FinishPage() *Page {
	bounds := c.page.Bounds()
	return &Page{
		Index:  c.index,
		Width:  float64(bounds.Dx()),
		Height: float64(bounds.Dy()),
		Image:  c.page,
	}
}

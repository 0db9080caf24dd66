package render

import (
	"context"
	"image"
	"image/color"

	"github.com/visionex-project/pagetrans/grpc/impl/compose"
	"github.com/visionex-project/pagetrans/grpc/impl/doc"
	"github.com/visionex-project/pagetrans/grpc/impl/font"
)

// Vector emits a display list in PDF user space. Every y coordinate from the detector is
// flipped against the page height.
type Vector struct {
	font   *font.Font
	engine *compose.Engine
}

func (v *Vector) InitPage(ctx context.Context, index int, original image.Image) Canvas {
	return &vectorCanvas{
		ctx:      ctx,
		backend:  v,
		index:    index,
		original: original,
		page:     cloneRGBA(original),
	}
}

type vectorCanvas struct {
	ctx         context.Context
	backend     *Vector
	index       int
	original    image.Image
	page        *image.RGBA
	ops         []Op
	backgrounds map[*doc.Block]color.Color
}

func (c *vectorCanvas) EraseRegions(blocks []*doc.Block) {
	c.backgrounds = erase(c.ctx, c.page, c.original, blocks, nil, c.index)
}

func (c *vectorCanvas) height() float64 {
	return float64(c.page.Bounds().Dy())
}

func (c *vectorCanvas) DrawBlock(block *doc.Block) {
	box := block.Box
	if !hasText(block) {
		if block.Snippet != nil {
			c.ops = append(c.ops, ImageOp{
				X:     box.X0,
				Y:     c.height() - box.Y1,
				W:     box.Width(),
				H:     box.Height(),
				Image: block.Snippet,
			})
		}
		return
	}

	ink := inkFor(block, c.backgrounds, c.original)
	gain := float64(block.Font.LineGain)
	baseline := (c.height() - box.Y0) - gain
	for i, line := range block.Lines {
		x := box.X0
		if i == 0 && len(block.Lines) > 1 {
			x += c.backend.engine.Options().Indent
		}
		if line != "" {
			c.ops = append(c.ops, TextOp{
				X:     x,
				Y:     baseline,
				Text:  line,
				Font:  c.backend.font,
				Size:  float64(block.Font.Size),
				Color: ink,
			})
		}
		baseline -= gain
	}
}

// FinishPage puts the erased page raster underneath everything drawn.
func (c *vectorCanvas) FinishPage() *Page {
	width, height := float64(c.page.Bounds().Dx()), c.height()
	ops := make([]Op, 0, len(c.ops)+1)
	ops = append(ops, ImageOp{W: width, H: height, Image: c.page})
	ops = append(ops, c.ops...)
	return &Page{
		Index:  c.index,
		Width:  width,
		Height: height,
		Ops:    ops,
	}
}

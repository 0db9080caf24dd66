package render

import (
	"context"
	"image"
	"image/color"
	"image/draw"

	"github.com/lucasb-eyer/go-colorful"
	log "github.com/sirupsen/logrus"

	"github.com/visionex-project/pagetrans/grpc/impl/doc"
	"github.com/visionex-project/pagetrans/grpc/impl/lama"
	"github.com/visionex-project/pagetrans/pkg/apperr"
)

const (
	// Pixels added around every erased box so anti-aliased glyph edges disappear too.
	eraseMargin = 3
	// Width of the ring sampled around an erased box to estimate its background.
	ringWidth = 4
	// CIEDE2000 distance (colorful scale, 1.0 = 100) above which a pixel counts as ink.
	inkThreshold = 0.3
)

// erase fills the margin-expanded box of every block on page with its estimated background
// and returns those colours. original is the untouched page the estimates are sampled from.
// With an inpainter, the filled regions are replaced by the inpainted pixels when it succeeds.
func erase(ctx context.Context, page *image.RGBA, original image.Image, blocks []*doc.Block, inpainter lama.Client, index int) map[*doc.Block]color.Color {
	backgrounds := make(map[*doc.Block]color.Color, len(blocks))
	bounds := page.Bounds()

	var rects []image.Rectangle
	for _, block := range blocks {
		rect := block.Box.Rect(eraseMargin, bounds)
		if rect.Empty() {
			continue
		}
		background := BackgroundColor(original, rect, ringWidth)
		backgrounds[block] = background
		draw.Draw(page, rect, image.NewUniform(background), image.Point{}, draw.Src)
		rects = append(rects, rect)
	}

	if inpainter == nil || len(rects) == 0 {
		return backgrounds
	}

	mask := image.NewGray(bounds)
	for _, rect := range rects {
		draw.Draw(mask, rect, image.White, image.Point{}, draw.Src)
	}
	inpainted, err := inpainter.Inpaint(ctx, original, mask)
	if err != nil {
		log.WithField("page", index).WithError(apperr.Wrap(apperr.KindRender, "render.erase", err)).Warn("inpainting failed, keeping background fill")
		return backgrounds
	}
	offset := inpainted.Bounds().Min.Sub(bounds.Min)
	for _, rect := range rects {
		draw.Draw(page, rect, inpainted, rect.Min.Add(offset), draw.Src)
	}
	return backgrounds
}

// BackgroundColor averages, in Lab space, the pixels of the ring of the given width around
// rect. It returns white when the ring lies entirely outside the image.
func BackgroundColor(img image.Image, rect image.Rectangle, width int) color.Color {
	outer := rect.Inset(-width).Intersect(img.Bounds())

	var l, a, b float64
	count := 0
	for y := outer.Min.Y; y < outer.Max.Y; y++ {
		for x := outer.Min.X; x < outer.Max.X; x++ {
			if (image.Point{X: x, Y: y}).In(rect) {
				continue
			}
			c, ok := colorful.MakeColor(img.At(x, y))
			if !ok {
				continue
			}
			pl, pa, pb := c.Lab()
			l, a, b = l+pl, a+pa, b+pb
			count++
		}
	}
	if count == 0 {
		return color.White
	}
	n := float64(count)
	return colorful.Lab(l/n, a/n, b/n).Clamped()
}

// InkColor estimates the text colour of snippet: the Lab average of the pixels far enough
// from background. It returns black when no pixel qualifies.
func InkColor(snippet image.Image, background color.Color) color.Color {
	if snippet == nil {
		return color.Black
	}
	reference, ok := colorful.MakeColor(background)
	if !ok {
		reference = colorful.Color{R: 1, G: 1, B: 1}
	}

	bounds := snippet.Bounds()
	var l, a, b float64
	count := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c, ok := colorful.MakeColor(snippet.At(x, y))
			if !ok || c.DistanceCIEDE2000(reference) < inkThreshold {
				continue
			}
			pl, pa, pb := c.Lab()
			l, a, b = l+pl, a+pa, b+pb
			count++
		}
	}
	if count == 0 {
		return color.Black
	}
	n := float64(count)
	return colorful.Lab(l/n, a/n, b/n).Clamped()
}

// inkFor returns the ink colour of block, sampling its background when it was not erased.
func inkFor(block *doc.Block, backgrounds map[*doc.Block]color.Color, original image.Image) color.Color {
	background, ok := backgrounds[block]
	if !ok {
		background = BackgroundColor(original, block.Box.Rect(eraseMargin, original.Bounds()), ringWidth)
	}
	return InkColor(block.Snippet, background)
}

func cloneRGBA(src image.Image) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}

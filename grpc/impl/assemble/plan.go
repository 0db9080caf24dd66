// Package assemble lays rendered pages and their originals out on output sheets and
// writes the final PDF.
package assemble

import (
	"image"
	"sort"
	"strings"

	"github.com/visionex-project/pagetrans/grpc/impl/render"
	"github.com/visionex-project/pagetrans/pkg/apperr"
)

type Mode string

const (
	SideBySide      Mode = "side-by-side"
	TranslationOnly Mode = "translation-only"
	Interleave      Mode = "interleave"
)

// Modes lists the accepted render modes in display order.
var Modes = []Mode{SideBySide, TranslationOnly, Interleave}

// ParseMode accepts hyphens or underscores in any case. Empty means SideBySide.
func ParseMode(value string) (Mode, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "_", "-")
	if normalized == "" {
		return SideBySide, nil
	}
	for _, mode := range Modes {
		if string(mode) == normalized {
			return mode, nil
		}
	}
	return "", apperr.Input("assemble.ParseMode", "unknown render mode %q", value)
}

// Sheet is one output page, sized in page pixels. Blank sheets carry neither an original
// nor a rendered page.
type Sheet struct {
	Width  float64
	Height float64
	// Original page scaled to Height and placed at the left edge.
	Original      image.Image
	OriginalWidth float64
	// Rendered page placed at RenderedX.
	Rendered  *render.Page
	RenderedX float64
}

func (s Sheet) Blank() bool {
	return s.Original == nil && s.Rendered == nil
}

// Plan orders the rendered pages by index and lays them out according to mode. originals
// holds the source page of each rendered page, in index order.
func Plan(mode Mode, rendered []*render.Page, originals []image.Image, addBoundary bool) ([]Sheet, error) {
	if len(rendered) != len(originals) {
		return nil, apperr.Assembly("assemble.Plan", "%d rendered pages for %d originals", len(rendered), len(originals))
	}
	if len(rendered) == 0 {
		return nil, apperr.Assembly("assemble.Plan", "nothing to assemble")
	}

	pages := make([]*render.Page, len(rendered))
	copy(pages, rendered)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })
	for i := 1; i < len(pages); i++ {
		if pages[i].Index == pages[i-1].Index {
			return nil, apperr.Assembly("assemble.Plan", "page %d rendered twice", pages[i].Index)
		}
	}

	var sheets []Sheet
	switch mode {
	case TranslationOnly:
		for _, page := range pages {
			sheets = append(sheets, Sheet{Width: page.Width, Height: page.Height, Rendered: page})
		}
	case SideBySide:
		for i, page := range pages {
			originalWidth := scaledWidth(originals[i], page.Height)
			sheets = append(sheets, Sheet{
				Width:         originalWidth + page.Width,
				Height:        page.Height,
				Original:      originals[i],
				OriginalWidth: originalWidth,
				Rendered:      page,
				RenderedX:     originalWidth,
			})
		}
	case Interleave:
		for i, page := range pages {
			originalWidth := scaledWidth(originals[i], page.Height)
			sheets = append(sheets,
				Sheet{Width: originalWidth, Height: page.Height, Original: originals[i], OriginalWidth: originalWidth},
				Sheet{Width: page.Width, Height: page.Height, Rendered: page},
			)
		}
		if addBoundary {
			blank := Sheet{Width: pages[0].Width, Height: pages[0].Height}
			sheets = append(append([]Sheet{blank}, sheets...), blank)
		}
	default:
		return nil, apperr.Assembly("assemble.Plan", "unsupported render mode %q", mode)
	}
	return sheets, nil
}

func scaledWidth(original image.Image, height float64) float64 {
	size := original.Bounds().Size()
	if size.Y == 0 {
		return 0
	}
	return float64(size.X) * height / float64(size.Y)
}

func (m Mode) String() string {
	return string(m)
}

// Package doc holds the transient per-job data model shared by detection,
// translation, composition and rendering.
package doc

import (
	"image"
	"image/draw"
	"strings"
)

type BlockType string

const (
	BlockText    BlockType = "text"
	BlockList    BlockType = "list"
	BlockTitle   BlockType = "title"
	BlockFigure  BlockType = "figure"
	BlockTable   BlockType = "table"
	BlockUnknown BlockType = "unknown"
)

// Represents a bounding box in detector coordinates: origin top-left, y increasing downward.
type BBox struct {
	X0, Y0, X1, Y1 float64
}

func (b BBox) Width() float64  { return b.X1 - b.X0 }
func (b BBox) Height() float64 { return b.Y1 - b.Y0 }

// Rect returns the integer pixel rectangle covered by b, expanded by margin and clamped to bounds.
func (b BBox) Rect(margin int, bounds image.Rectangle) image.Rectangle {
	return image.Rect(
		int(b.X0)-margin,
		int(b.Y0)-margin,
		int(b.X1+0.5)+margin,
		int(b.Y1+0.5)+margin,
	).Intersect(bounds)
}

type FontPlan struct {
	// Font family registered with the renderer. E.g., "SansSerif-English"
	Family string
	// Font size in pixels. E.g., 29
	Size int
	// Vertical advance between baselines, round(LineSpacing*Size).
	LineGain int
}

// Block is one detected region of a page.
type Block struct {
	Type BlockType
	Box  BBox
	// Source text recognised inside the box.
	Text string
	// Nil means the original pixels are rendered verbatim.
	Translated *string
	// Copy of the original pixels under Box.
	Snippet image.Image
	Font    FontPlan
	Lines   []string
}

// Translatable reports whether the block carries prose that is sent to the translator and drawn as text.
func (b *Block) Translatable() bool {
	return (b.Type == BlockText || b.Type == BlockList) && strings.TrimSpace(b.Text) != ""
}

// IsReferencesTitle reports whether b is the heading that starts a bibliography.
func (b *Block) IsReferencesTitle() bool {
	return b.Type == BlockTitle && IsReferencesHeading(b.Text)
}

func IsReferencesHeading(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "references", "reference":
		return true
	}
	return false
}

type Page struct {
	// Position of the page in the source document, 0-based.
	Index  int
	Image  image.Image
	Blocks []*Block
	// Sticky for the rest of the document once a references title was seen.
	ReachedReferences bool
}

// CropSnippets copies the pixels under every block box into Block.Snippet.
func (p *Page) CropSnippets() {
	bounds := p.Image.Bounds()
	for _, block := range p.Blocks {
		rect := block.Box.Rect(0, bounds)
		snippet := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Draw(snippet, snippet.Bounds(), p.Image, rect.Min, draw.Src)
		block.Snippet = snippet
	}
}

// MarkReferences sets ReachedReferences when the page was preceded by a references
// section (previous) or contains a references title itself. It returns the new state.
func (p *Page) MarkReferences(previous bool) bool {
	if previous {
		p.ReachedReferences = true
		return true
	}
	for _, block := range p.Blocks {
		if block.IsReferencesTitle() {
			p.ReachedReferences = true
			return true
		}
	}
	return false
}

package font

import (
	"sync"

	"github.com/golang/freetype/truetype"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// Metrics measures rendered text widths for one font. Faces and glyph advances are
// cached per pixel size. Hinting is disabled so widths scale linearly with size.
type Metrics struct {
	font *truetype.Font

	mu       sync.Mutex
	faces    map[int]xfont.Face
	advances map[advanceKey]fixed.Int26_6
}

type advanceKey struct {
	size int
	r    rune
}

func NewMetrics(font *truetype.Font) *Metrics {
	return &Metrics{
		font:     font,
		faces:    map[int]xfont.Face{},
		advances: map[advanceKey]fixed.Int26_6{},
	}
}

func (m *Metrics) faceLocked(size int) xfont.Face {
	face, ok := m.faces[size]
	if !ok {
		face = NewFace(m.font, size)
		m.faces[size] = face
	}
	return face
}

func (m *Metrics) advanceLocked(face xfont.Face, size int, r rune) fixed.Int26_6 {
	key := advanceKey{size: size, r: r}
	advance, ok := m.advances[key]
	if !ok {
		advance, _ = face.GlyphAdvance(r)
		m.advances[key] = advance
	}
	return advance
}

// Measure returns the advance width of text at size, in pixels, including kerning.
// Equivalent to font.MeasureString on a face of that size.
func (m *Metrics) Measure(text string, size int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	face := m.faceLocked(size)
	var total fixed.Int26_6
	previous := rune(-1)
	for _, r := range text {
		if previous >= 0 {
			total += face.Kern(previous, r)
		}
		total += m.advanceLocked(face, size, r)
		previous = r
	}
	return float64(total) / 64
}

// NewFace returns a fresh, unshared face for drawing. Faces are not safe for concurrent use.
func NewFace(font *truetype.Font, size int) xfont.Face {
	return truetype.NewFace(font, &truetype.Options{
		Size:    float64(size),
		DPI:     72,
		Hinting: xfont.HintingNone,
	})
}

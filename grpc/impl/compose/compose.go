// Package compose finds the largest font size at which a translated string
// fits a fixed pixel region, and produces the wrapped and justified lines.
//
// Every function here is pure: identical text, region and metrics always
// yield identical plans.
package compose

import (
	"math"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Metrics returns the rendered advance width of text at an integer pixel size.
type Metrics interface {
	Measure(text string, size int) float64
}

type Options struct {
	// Size the search starts from. E.g., 29
	StartSize int `yaml:"start_size"`
	// Smallest size ever accepted; the search degrades to it rather than failing. E.g., 4
	MinSize int `yaml:"min_size"`
	// Line height as a multiple of the font size. E.g., 1.1
	LineSpacing float64 `yaml:"line_spacing"`
	// Leading indent of the first line, in pixels. E.g., 40
	Indent float64 `yaml:"indent"`
	// Largest inter-word gap the justification pass stretches to. E.g., 40
	MaxGap float64 `yaml:"max_gap"`
}

func DefaultOptions() Options {
	return Options{
		StartSize:   29,
		MinSize:     4,
		LineSpacing: 1.1,
		Indent:      40,
		MaxGap:      40,
	}
}

// withDefaults fills zero fields so a partially configured Options still works.
func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.StartSize <= 0 {
		o.StartSize = defaults.StartSize
	}
	if o.MinSize <= 0 {
		o.MinSize = defaults.MinSize
	}
	if o.MinSize > o.StartSize {
		o.MinSize = o.StartSize
	}
	if o.LineSpacing <= 0 {
		o.LineSpacing = defaults.LineSpacing
	}
	if o.Indent < 0 {
		o.Indent = 0
	}
	if o.MaxGap <= 0 {
		o.MaxGap = defaults.MaxGap
	}
	return o
}

type Plan struct {
	Size     int
	LineGain int
	Lines    []string
	// Set when even MinSize does not fit the region.
	Degraded bool
}

type Engine struct {
	metrics Metrics
	options Options
}

func New(metrics Metrics, options Options) *Engine {
	return &Engine{metrics: metrics, options: options.withDefaults()}
}

func (e *Engine) Options() Options {
	return e.options
}

// Height is the block height of lines wrapped lines at size f.
func Height(lines int, lineSpacing float64, f int) float64 {
	return float64(lines) * lineSpacing * float64(f)
}

// LineGain is the baseline-to-baseline advance at size f.
func LineGain(lineSpacing float64, f int) int {
	return int(math.Round(lineSpacing * float64(f)))
}

// Fit searches for the largest integer size at which text, wrapped to width, stays
// below height. Empty text yields a plan without lines, which tells renderers to fall
// back to the original pixels.
func (e *Engine) Fit(text string, width, height float64) Plan {
	o := e.options
	if text == "" {
		return Plan{Size: o.StartSize, LineGain: LineGain(o.LineSpacing, o.StartSize)}
	}

	f := o.StartSize
	for {
		if f < o.MinSize {
			log.WithFields(log.Fields{
				"width":  width,
				"height": height,
				"size":   o.MinSize,
			}).Warn("text does not fit its region at the minimum size")
			return e.plan(Wrap(e.metrics, text, width, o.MinSize, o.Indent), o.MinSize, true)
		}

		lines := Wrap(e.metrics, text, width, f, o.Indent)
		current := Height(len(lines), o.LineSpacing, f)
		if current >= height {
			f--
			continue
		}

		next := Height(len(Wrap(e.metrics, text, width, f+1, o.Indent)), o.LineSpacing, f+1)
		if next >= height {
			return e.plan(lines, f, false)
		}

		// Still room to grow. A single line would keep growing until it fills the height.
		if len(lines) == 1 {
			return e.plan(lines, f, false)
		}
		f++
	}
}

func (e *Engine) plan(lines []string, size int, degraded bool) Plan {
	return Plan{
		Size:     size,
		LineGain: LineGain(e.options.LineSpacing, size),
		Lines:    lines,
		Degraded: degraded,
	}
}

// Wrap breaks text greedily by character. A newline always breaks; otherwise a line is
// extended while its measured width, plus indent on the first line, stays below width.
// Lines are measured whole so kerning counts as it does when drawn. Every line consumes
// at least one rune so a glyph wider than the region cannot stall.
func Wrap(metrics Metrics, text string, width float64, size int, indent float64) []string {
	var lines []string
	var current []rune

	flush := func() {
		lines = append(lines, string(current))
		current = current[:0]
	}

	for _, r := range text {
		if r == '\n' {
			flush()
			continue
		}

		offset := 0.0
		if len(lines) == 0 {
			offset = indent
		}
		if len(current) > 0 && offset+metrics.Measure(string(append(current, r)), size) >= width {
			flush()
		}
		current = append(current, r)
	}
	if len(current) > 0 {
		flush()
	}
	return lines
}

type Word struct {
	Text string
	// Offset from the left edge of the region.
	X float64
}

type JustifiedLine struct {
	Words []Word
}

// Justify spreads the words of each line across width. The gap is clamped: a gap wider
// than MaxGap (typically a short final line) collapses to size/2.4 and a negative gap to
// zero. The first line of a multi-line block starts at the indent.
func (e *Engine) Justify(lines []string, width float64, size int) []JustifiedLine {
	o := e.options
	multiline := len(lines) > 1

	justified := make([]JustifiedLine, 0, len(lines))
	for i, line := range lines {
		words := strings.Fields(line)
		if len(words) == 0 {
			justified = append(justified, JustifiedLine{})
			continue
		}

		indent := 0.0
		if i == 0 && multiline {
			indent = o.Indent
		}

		widths := make([]float64, len(words))
		total := indent
		for j, word := range words {
			widths[j] = e.metrics.Measure(word, size)
			total += widths[j]
		}

		gap := (width - total) / float64(len(words))
		if gap > o.MaxGap {
			gap = float64(size) / 2.4
		} else if gap < 0 {
			gap = 0
		}

		x := indent
		placed := make([]Word, len(words))
		for j, word := range words {
			placed[j] = Word{Text: word, X: x}
			x += widths[j] + gap
		}
		justified = append(justified, JustifiedLine{Words: placed})
	}
	return justified
}

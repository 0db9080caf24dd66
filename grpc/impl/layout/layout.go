// Package layout finds typed blocks on a page image.
package layout

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"math"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/visionex-project/pagetrans/grpc/impl/doc"
)

type Detector interface {
	// Detect returns the blocks of img in reading order, boxes in img pixels.
	Detect(ctx context.Context, img image.Image) ([]*doc.Block, error)
}

type serial struct {
	mu       *sync.Mutex
	detector Detector
}

// One lock for the whole process: layout models are too heavy to run twice at once.
var detectMu sync.Mutex

// Serial wraps d so that at most one detection runs in the process at a time.
func Serial(d Detector) Detector {
	return &serial{mu: &detectMu, detector: d}
}

func (s *serial) Detect(ctx context.Context, img image.Image) ([]*doc.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.detector.Detect(ctx, img)
}

var listPrefix = regexp.MustCompile(`^\s*([•·▪◦‣∙*\-–]|\(?[0-9]{1,2}[.)]|\(?[a-zA-Z][.)]|\[[0-9]{1,3}\])\s+`)

const maxTitleRunes = 80

// Classify refines the type of text blocks from their content. Other types are kept.
func Classify(block *doc.Block) {
	if block.Type != doc.BlockText {
		return
	}
	text := strings.TrimSpace(block.Text)
	switch {
	case doc.IsReferencesHeading(text):
		block.Type = doc.BlockTitle
	case looksLikeTitle(text):
		block.Type = doc.BlockTitle
	case listPrefix.MatchString(text):
		block.Type = doc.BlockList
	}
}

// A title is a short single line that does not end like a sentence.
func looksLikeTitle(text string) bool {
	if text == "" || strings.ContainsRune(text, '\n') || utf8.RuneCountInString(text) > maxTitleRunes {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(text)
	if strings.ContainsRune(".,;:!?。、．，", last) {
		return false
	}
	return strings.IndexFunc(text, unicode.IsLetter) >= 0
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type position struct {
	top, left, bottom, right float64
}

// unbounded is the start of a bounding box fold.
var unbounded = position{top: math.MaxInt32, left: math.MaxInt32}

// extend grows p to include the point (x, y).
func (p position) extend(x, y float64) position {
	return position{
		top:    math.Min(p.top, y),
		left:   math.Min(p.left, x),
		bottom: math.Max(p.bottom, y),
		right:  math.Max(p.right, x),
	}
}

func (p position) box() doc.BBox {
	return doc.BBox{X0: p.left, Y0: p.top, X1: p.right, Y1: p.bottom}
}

//go:build tesseract

package layout

import (
	"context"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/visionex-project/pagetrans/grpc/impl/doc"
	"github.com/visionex-project/pagetrans/pkg/apperr"
)

// Tesseract detects text blocks locally. It finds no figures or tables; everything it
// cannot read is left untouched on the page.
type Tesseract struct {
	languages []string
}

// NewTesseract uses the given traineddata names, e.g. "eng". Empty means Tesseract's default.
func NewTesseract(languages ...string) *Tesseract {
	return &Tesseract{languages: languages}
}

func (t *Tesseract) Detect(ctx context.Context, img image.Image) ([]*doc.Block, error) {
	content, err := encodePNG(img)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProcessing, "layout.Tesseract", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if len(t.languages) > 0 {
		if err := client.SetLanguage(t.languages...); err != nil {
			return nil, apperr.Wrap(apperr.KindProcessing, "layout.Tesseract", err)
		}
	}
	if err := client.SetImageFromBytes(content); err != nil {
		return nil, apperr.Wrap(apperr.KindProcessing, "layout.Tesseract", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_BLOCK)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProcessing, "layout.Tesseract", err)
	}

	blocks := make([]*doc.Block, 0, len(boxes))
	for _, box := range boxes {
		text := strings.Join(strings.Fields(box.Word), " ")
		if text == "" || box.Box.Empty() {
			continue
		}
		block := &doc.Block{
			Type: doc.BlockText,
			Box: doc.BBox{
				X0: float64(box.Box.Min.X),
				Y0: float64(box.Box.Min.Y),
				X1: float64(box.Box.Max.X),
				Y1: float64(box.Box.Max.Y),
			},
			Text: text,
		}
		Classify(block)
		blocks = append(blocks, block)
	}
	return blocks, nil
}

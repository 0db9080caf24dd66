package layout

import (
	"context"
	"image"
	"strings"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	gax "github.com/googleapis/gax-go/v2"
	log "github.com/sirupsen/logrus"

	"github.com/visionex-project/pagetrans/grpc/impl/doc"
	"github.com/visionex-project/pagetrans/pkg/apperr"
	"github.com/visionex-project/pagetrans/pkg/utils"
)

// VisionClient is the subset of vision.ImageAnnotatorClient used here.
// Ref: https://pkg.go.dev/cloud.google.com/go/vision/apiv1
type VisionClient interface {
	DetectDocumentText(ctx context.Context, image *visionpb.Image, imageContext *visionpb.ImageContext, opts ...gax.CallOption) (*visionpb.TextAnnotation, error)
}

// Vision detects blocks with Cloud Vision document text detection.
type Vision struct {
	client VisionClient
}

func NewVision(client VisionClient) *Vision {
	return &Vision{client: client}
}

func (v *Vision) Detect(ctx context.Context, img image.Image) ([]*doc.Block, error) {
	content, err := encodePNG(img)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProcessing, "layout.Vision", err)
	}
	annotation, err := v.client.DetectDocumentText(ctx, &visionpb.Image{Content: content}, nil)
	if err != nil {
		log.WithError(err).Error("failed to detect document text")
		return nil, apperr.Wrap(apperr.KindProcessing, "layout.Vision", err)
	}
	return visionBlocks(annotation), nil
}

func visionBlocks(annotation *visionpb.TextAnnotation) []*doc.Block {
	blocks := utils.FlatMap(annotation.GetPages(), func(page *visionpb.Page) []*visionpb.Block {
		return page.GetBlocks()
	})

	result := make([]*doc.Block, 0, len(blocks))
	for _, block := range blocks {
		converted := &doc.Block{
			Type: visionBlockType(block.GetBlockType()),
			Box:  verticesPosition(block.GetBoundingBox().GetVertices()).box(),
			Text: blockText(block),
		}
		if converted.Box.Width() <= 0 || converted.Box.Height() <= 0 {
			continue
		}
		Classify(converted)
		result = append(result, converted)
	}
	return result
}

func visionBlockType(blockType visionpb.Block_BlockType) doc.BlockType {
	switch blockType {
	case visionpb.Block_TEXT:
		return doc.BlockText
	case visionpb.Block_TABLE:
		return doc.BlockTable
	case visionpb.Block_PICTURE:
		return doc.BlockFigure
	default:
		return doc.BlockUnknown
	}
}

func verticesPosition(vertices []*visionpb.Vertex) position {
	return utils.Fold(vertices, unbounded, func(current position, vertex *visionpb.Vertex) position {
		return current.extend(float64(vertex.GetX()), float64(vertex.GetY()))
	})
}

// blockText rebuilds the text of block from its symbols. Wrapped lines join with a space,
// hyphenated line ends join without one and paragraphs are separated by newlines.
func blockText(block *visionpb.Block) string {
	paragraphs := utils.Map(block.GetParagraphs(), func(paragraph *visionpb.Paragraph) string {
		var text strings.Builder
		for _, word := range paragraph.GetWords() {
			for _, symbol := range word.GetSymbols() {
				text.WriteString(symbol.GetText())
				switch symbol.GetProperty().GetDetectedBreak().GetType() {
				case visionpb.TextAnnotation_DetectedBreak_SPACE,
					visionpb.TextAnnotation_DetectedBreak_SURE_SPACE,
					visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE,
					visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
					text.WriteString(" ")
				}
			}
		}
		return text.String()
	})
	return utils.JoinNonEmpty(paragraphs, "\n")
}

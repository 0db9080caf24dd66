package layout

import (
	"context"
	"fmt"
	"image"
	"slices"
	"sort"
	"strings"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	log "github.com/sirupsen/logrus"

	"github.com/visionex-project/pagetrans/grpc/impl/doc"
	"github.com/visionex-project/pagetrans/pkg/apperr"
	"github.com/visionex-project/pagetrans/pkg/utils"
)

// DocumentAIClient is the subset of documentai.DocumentProcessorClient used here.
// Ref: https://pkg.go.dev/cloud.google.com/go/documentai
type DocumentAIClient interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
}

type DocumentAISpec struct {
	ProjectID   string
	Location    string
	ProcessorID string
}

func (s DocumentAISpec) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", s.ProjectID, s.Location, s.ProcessorID)
}

// DocumentAI detects blocks, tables and visual elements with a Document AI OCR processor.
type DocumentAI struct {
	client DocumentAIClient
	spec   DocumentAISpec
}

func NewDocumentAI(client DocumentAIClient, spec DocumentAISpec) *DocumentAI {
	return &DocumentAI{client: client, spec: spec}
}

func (d *DocumentAI) Detect(ctx context.Context, img image.Image) ([]*doc.Block, error) {
	content, err := encodePNG(img)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProcessing, "layout.DocumentAI", err)
	}
	request := &documentaipb.ProcessRequest{
		Name: d.spec.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: "image/png",
			},
		},
		SkipHumanReview: true,
	}
	response, err := d.client.ProcessDocument(ctx, request)
	if err != nil {
		log.WithError(err).Error("failed to process document")
		return nil, apperr.Wrap(apperr.KindProcessing, "layout.DocumentAI", err)
	}
	bounds := img.Bounds()
	return documentBlocks(response.GetDocument(), float64(bounds.Dx()), float64(bounds.Dy())), nil
}

func documentBlocks(document *documentaipb.Document, width, height float64) []*doc.Block {
	text := []rune(document.GetText())
	var result []*doc.Block
	add := func(blockType doc.BlockType, layout *documentaipb.Document_Page_Layout, withText bool) {
		box := layoutPosition(layout, width, height).box()
		if box.Width() <= 0 || box.Height() <= 0 {
			return
		}
		block := &doc.Block{Type: blockType, Box: box}
		if withText {
			block.Text = anchorText(layout.GetTextAnchor(), text)
		}
		result = append(result, block)
	}

	for _, page := range document.GetPages() {
		// Blocks inside tables are drawn as part of the table.
		tables := utils.Map(page.GetTables(), func(table *documentaipb.Document_Page_Table) doc.BBox {
			return layoutPosition(table.GetLayout(), width, height).box()
		})
		for _, table := range page.GetTables() {
			add(doc.BlockTable, table.GetLayout(), false)
		}
		for _, element := range page.GetVisualElements() {
			add(doc.BlockFigure, element.GetLayout(), false)
		}
		for _, block := range page.GetBlocks() {
			box := layoutPosition(block.GetLayout(), width, height).box()
			if slices.ContainsFunc(tables, func(table doc.BBox) bool { return contains(table, box) }) {
				continue
			}
			add(doc.BlockText, block.GetLayout(), true)
		}
	}

	for _, block := range result {
		Classify(block)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Box.Y0 < result[j].Box.Y0
	})
	return result
}

// layoutPosition prefers absolute vertices and falls back to normalized ones scaled to the page.
func layoutPosition(layout *documentaipb.Document_Page_Layout, width, height float64) position {
	if vertices := layout.GetBoundingPoly().GetVertices(); len(vertices) > 0 {
		return utils.Fold(vertices, unbounded, func(current position, vertex *documentaipb.Vertex) position {
			return current.extend(float64(vertex.GetX()), float64(vertex.GetY()))
		})
	}
	return utils.Fold(layout.GetBoundingPoly().GetNormalizedVertices(), unbounded, func(current position, vertex *documentaipb.NormalizedVertex) position {
		return current.extend(float64(vertex.GetX())*width, float64(vertex.GetY())*height)
	})
}

// Text anchor indices count runes, not bytes.
func anchorText(anchor *documentaipb.Document_TextAnchor, text []rune) string {
	segments := utils.Map(anchor.GetTextSegments(), func(segment *documentaipb.Document_TextAnchor_TextSegment) string {
		start, end := int(segment.GetStartIndex()), int(segment.GetEndIndex())
		if start < 0 || end > len(text) || start >= end {
			return ""
		}
		return string(text[start:end])
	})
	// Document AI ends every line with a newline; wrapped lines are joined with spaces.
	return strings.Join(strings.Fields(strings.Join(segments, "")), " ")
}

func contains(outer, inner doc.BBox) bool {
	return inner.X0 >= outer.X0 && inner.Y0 >= outer.Y0 && inner.X1 <= outer.X1 && inner.Y1 <= outer.Y1
}

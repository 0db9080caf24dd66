package assemble

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"codeberg.org/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	log "github.com/sirupsen/logrus"

	"github.com/visionex-project/pagetrans/grpc/impl/font"
	"github.com/visionex-project/pagetrans/grpc/impl/render"
	"github.com/visionex-project/pagetrans/pkg/apperr"
)

// Writer turns sheets into one PDF: every sheet becomes its own file, then the files are
// merged in index order.
type Writer struct {
	// Points per page pixel.
	scale float64
}

// NewWriter returns a writer for pages rasterized at dpi.
func NewWriter(dpi int) *Writer {
	if dpi <= 0 {
		dpi = 72
	}
	return &Writer{scale: 72 / float64(dpi)}
}

func (w *Writer) Write(ctx context.Context, sheets []Sheet, workDir string, outputPath string) error {
	const op = "assemble.Write"
	if len(sheets) == 0 {
		return apperr.Assembly(op, "no sheets to write")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindAssembly, op, err)
	}

	paths := make([]string, 0, len(sheets))
	defer func() {
		for _, path := range paths {
			os.Remove(path)
		}
	}()
	for i, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(workDir, fmt.Sprintf("%03d.pdf", i))
		if err := w.writeSheet(sheet, path); err != nil {
			return apperr.Wrap(apperr.KindAssembly, op, fmt.Errorf("failed to write sheet %d: %w", i, err))
		}
		paths = append(paths, path)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return apperr.Wrap(apperr.KindAssembly, op, err)
	}
	if err := merge(paths, outputPath); err != nil {
		return apperr.Wrap(apperr.KindAssembly, op, fmt.Errorf("failed to merge sheets: %w", err))
	}

	count, err := api.PageCountFile(outputPath)
	if err != nil {
		return apperr.Wrap(apperr.KindAssembly, op, err)
	}
	if count != len(sheets) {
		return apperr.Assembly(op, "%s has %d pages, want %d", outputPath, count, len(sheets))
	}
	log.WithFields(log.Fields{"output": outputPath, "pages": count}).Info("document assembled")
	return nil
}

func merge(paths []string, outputPath string) error {
	os.Remove(outputPath)
	if len(paths) == 1 {
		data, err := os.ReadFile(paths[0])
		if err != nil {
			return err
		}
		return os.WriteFile(outputPath, data, 0o644)
	}
	return api.MergeCreateFile(paths, outputPath, false, nil)
}

func (w *Writer) writeSheet(sheet Sheet, path string) error {
	size := fpdf.SizeType{Wd: sheet.Width * w.scale, Ht: sheet.Height * w.scale}
	pdf := fpdf.NewCustom(&fpdf.InitType{UnitStr: "pt", Size: size})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPageFormat("P", size)

	s := &sheetWriter{
		pdf:    pdf,
		scale:  w.scale,
		height: sheet.Height,
		images: map[image.Image]string{},
		fonts:  map[string]bool{},
	}
	if sheet.Original != nil {
		if err := s.image(sheet.Original, 0, 0, sheet.OriginalWidth, sheet.Height); err != nil {
			return err
		}
	}
	if sheet.Rendered != nil {
		if err := s.page(sheet.Rendered, sheet.RenderedX); err != nil {
			return err
		}
	}
	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.OutputFileAndClose(path)
}

// sheetWriter places items given in PDF user space, in page pixels, onto an fpdf page
// whose origin is top-left.
type sheetWriter struct {
	pdf    *fpdf.Fpdf
	scale  float64
	height float64
	images map[image.Image]string
	fonts  map[string]bool
}

func (s *sheetWriter) page(page *render.Page, offsetX float64) error {
	if page.Image != nil {
		return s.image(page.Image, offsetX, 0, page.Width, page.Height)
	}
	for _, op := range page.Ops {
		switch op := op.(type) {
		case render.ImageOp:
			if err := s.image(op.Image, offsetX+op.X, op.Y, op.W, op.H); err != nil {
				return err
			}
		case render.TextOp:
			s.text(op, offsetX)
		}
	}
	return nil
}

func (s *sheetWriter) image(img image.Image, x, y, width, height float64) error {
	name, ok := s.images[img]
	if !ok {
		var buf bytes.Buffer
		encoder := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := encoder.Encode(&buf, img); err != nil {
			return err
		}
		name = fmt.Sprintf("image-%d", len(s.images))
		s.pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "PNG"}, &buf)
		s.images[img] = name
	}
	s.pdf.ImageOptions(name,
		x*s.scale, (s.height-y-height)*s.scale,
		width*s.scale, height*s.scale,
		false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	return nil
}

func (s *sheetWriter) text(op render.TextOp, offsetX float64) {
	s.useFont(op.Font)
	s.pdf.SetFont(op.Font.Family, "", op.Size*s.scale)
	r, g, b := rgb(op.Color)
	s.pdf.SetTextColor(r, g, b)
	s.pdf.Text((offsetX+op.X)*s.scale, (s.height-op.Y)*s.scale, op.Text)
}

func (s *sheetWriter) useFont(f *font.Font) {
	if s.fonts[f.Family] {
		return
	}
	s.pdf.AddUTF8FontFromBytes(f.Family, "", f.Bytes)
	s.fonts[f.Family] = true
}

func rgb(c color.Color) (int, int, int) {
	if c == nil {
		return 0, 0, 0
	}
	r, g, b, _ := c.RGBA()
	return int(r >> 8), int(g >> 8), int(b >> 8)
}

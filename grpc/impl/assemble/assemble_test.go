package assemble

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionex-project/pagetrans/grpc/impl/font"
	"github.com/visionex-project/pagetrans/grpc/impl/render"
	"github.com/visionex-project/pagetrans/pkg/apperr"
)

func pages(indices ...int) ([]*render.Page, []image.Image) {
	var rendered []*render.Page
	var originals []image.Image
	for _, index := range indices {
		rendered = append(rendered, &render.Page{
			Index:  index,
			Width:  100,
			Height: 200,
			Image:  image.NewRGBA(image.Rect(0, 0, 100, 200)),
		})
		originals = append(originals, image.NewRGBA(image.Rect(0, 0, 50, 100)))
	}
	return rendered, originals
}

func TestParseMode(t *testing.T) {
	for input, expected := range map[string]Mode{
		"":                 SideBySide,
		"side_by_side":     SideBySide,
		"Translation-Only": TranslationOnly,
		"interleave":       Interleave,
	} {
		mode, err := ParseMode(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, mode, input)
	}

	_, err := ParseMode("booklet")
	assert.True(t, apperr.Is(err, apperr.KindInput))
}

func TestPlanInterleaveWithBoundaryPages(t *testing.T) {
	rendered, originals := pages(0, 1, 2)

	sheets, err := Plan(Interleave, rendered, originals, true)

	require.NoError(t, err)
	require.Len(t, sheets, 8)
	assert.True(t, sheets[0].Blank())
	assert.True(t, sheets[7].Blank())
	assert.Equal(t, 100.0, sheets[0].Width)
	assert.Equal(t, 200.0, sheets[0].Height)
	for i := 0; i < 3; i++ {
		original, translated := sheets[1+2*i], sheets[2+2*i]
		assert.Same(t, originals[i], original.Original)
		assert.Nil(t, original.Rendered)
		assert.Equal(t, 100.0, original.Width)
		assert.Same(t, rendered[i], translated.Rendered)
		assert.Nil(t, translated.Original)
	}
}

func TestPlanInterleaveWithoutBoundaryPages(t *testing.T) {
	rendered, originals := pages(0, 1)

	sheets, err := Plan(Interleave, rendered, originals, false)

	require.NoError(t, err)
	assert.Len(t, sheets, 4)
	assert.False(t, sheets[0].Blank())
}

func TestPlanTranslationOnly(t *testing.T) {
	rendered, originals := pages(0, 1, 2)

	sheets, err := Plan(TranslationOnly, rendered, originals, true)

	require.NoError(t, err)
	require.Len(t, sheets, 3)
	for i, sheet := range sheets {
		assert.Same(t, rendered[i], sheet.Rendered)
		assert.Nil(t, sheet.Original)
	}
}

func TestPlanSideBySideScalesOriginalToRenderedHeight(t *testing.T) {
	rendered, originals := pages(0)

	sheets, err := Plan(SideBySide, rendered, originals, false)

	require.NoError(t, err)
	require.Len(t, sheets, 1)
	sheet := sheets[0]
	assert.Equal(t, 200.0, sheet.Width)
	assert.Equal(t, 200.0, sheet.Height)
	assert.Equal(t, 100.0, sheet.OriginalWidth)
	assert.Equal(t, 100.0, sheet.RenderedX)
}

func TestPlanSortsByIndex(t *testing.T) {
	rendered, originals := pages(2, 0, 1)
	shuffled := []*render.Page{rendered[1], rendered[2], rendered[0]}

	sheets, err := Plan(TranslationOnly, shuffled, originals, false)

	require.NoError(t, err)
	for i, sheet := range sheets {
		assert.Equal(t, i, sheet.Rendered.Index)
	}
}

func TestPlanRejectsMismatches(t *testing.T) {
	rendered, originals := pages(0, 1)

	_, err := Plan(SideBySide, rendered, originals[:1], false)
	assert.True(t, apperr.Is(err, apperr.KindAssembly))

	duplicated, originals := pages(1, 1)
	_, err = Plan(SideBySide, duplicated, originals, false)
	assert.True(t, apperr.Is(err, apperr.KindAssembly))

	_, err = Plan(SideBySide, nil, nil, false)
	assert.True(t, apperr.Is(err, apperr.KindAssembly))
}

func TestWriterMergesSheetsInOrder(t *testing.T) {
	dir := t.TempDir()
	f := font.Builtin().FontByLanguage("English")
	background := image.NewRGBA(image.Rect(0, 0, 100, 200))
	vector := &render.Page{
		Index:  1,
		Width:  100,
		Height: 200,
		Ops: []render.Op{
			render.ImageOp{W: 100, H: 200, Image: background},
			render.TextOp{X: 10, Y: 150, Text: "Bonjour", Font: f, Size: 12, Color: color.Black},
		},
	}
	rendered, originals := pages(0)
	sheets, err := Plan(Interleave, append(rendered, vector), append(originals, image.NewRGBA(image.Rect(0, 0, 50, 100))), true)
	require.NoError(t, err)

	output := filepath.Join(dir, "out", "translated.pdf")
	err = NewWriter(200).Write(context.Background(), sheets, filepath.Join(dir, "work"), output)

	require.NoError(t, err)
	count, err := api.PageCountFile(output)
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	leftovers, err := filepath.Glob(filepath.Join(dir, "work", "*.pdf"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWriterSingleSheet(t *testing.T) {
	dir := t.TempDir()
	rendered, originals := pages(0)
	sheets, err := Plan(TranslationOnly, rendered, originals, false)
	require.NoError(t, err)

	output := filepath.Join(dir, "single.pdf")
	require.NoError(t, NewWriter(200).Write(context.Background(), sheets, dir, output))

	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestWriterStopsWhenCancelled(t *testing.T) {
	rendered, originals := pages(0, 1)
	sheets, err := Plan(TranslationOnly, rendered, originals, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewWriter(200).Write(ctx, sheets, t.TempDir(), filepath.Join(t.TempDir(), "out.pdf"))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriterRejectsEmptyInput(t *testing.T) {
	err := NewWriter(200).Write(context.Background(), nil, t.TempDir(), filepath.Join(t.TempDir(), "out.pdf"))
	assert.True(t, apperr.Is(err, apperr.KindAssembly))
}

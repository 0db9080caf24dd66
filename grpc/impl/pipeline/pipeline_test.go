package pipeline

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionex-project/pagetrans/grpc/impl/assemble"
	"github.com/visionex-project/pagetrans/grpc/impl/compose"
	"github.com/visionex-project/pagetrans/grpc/impl/doc"
	"github.com/visionex-project/pagetrans/grpc/impl/font"
	"github.com/visionex-project/pagetrans/grpc/impl/jobs"
	"github.com/visionex-project/pagetrans/grpc/impl/layout"
	"github.com/visionex-project/pagetrans/grpc/impl/render"
	"github.com/visionex-project/pagetrans/pkg/apperr"
)

type fakeSource struct {
	pages int
}

func (f fakeSource) PageCount(ctx context.Context, path string) (int, error) {
	return f.pages, nil
}

func (f fakeSource) Pages(ctx context.Context, path string, from, to int) ([]image.Image, error) {
	var images []image.Image
	for i := from; i < to; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 200, 100))
		draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
		images = append(images, img)
	}
	return images, nil
}

// fakeDetector returns the blocks of the next page on every call.
type fakeDetector struct {
	pages  [][]*doc.Block
	calls  int
	onCall func(call int)
}

func (f *fakeDetector) Detect(ctx context.Context, img image.Image) ([]*doc.Block, error) {
	call := f.calls
	f.calls++
	if f.onCall != nil {
		f.onCall(call)
	}
	if call >= len(f.pages) {
		return nil, nil
	}
	return f.pages[call], nil
}

type fakeTranslator struct {
	mu     sync.Mutex
	seen   []string
	failOn string
	// Fixed replies by source text.
	replies map[string]string
}

func (f *fakeTranslator) Translate(ctx context.Context, text string, from, to string) (*string, error) {
	f.mu.Lock()
	f.seen = append(f.seen, text)
	f.mu.Unlock()
	if text == f.failOn {
		return nil, errors.New("model unavailable")
	}
	if reply, ok := f.replies[text]; ok {
		return &reply, nil
	}
	translated := strings.ToUpper(text)
	return &translated, nil
}

func textBlock(text string) *doc.Block {
	return &doc.Block{Type: doc.BlockText, Box: doc.BBox{X0: 10, Y0: 10, X1: 190, Y1: 60}, Text: text}
}

func newContext(t *testing.T, detector layout.Detector, translator *fakeTranslator, pages int) (*Context, string) {
	dir := t.TempDir()
	return &Context{
		Source:      fakeSource{pages: pages},
		Detector:    layout.Serial(detector),
		Translator:  translator,
		Fonts:       font.Builtin(),
		Compose:     compose.DefaultOptions(),
		Backend:     render.KindVector,
		Writer:      assemble.NewWriter(200),
		Concurrency: 2,
		JobDir:      func(name string) string { return filepath.Join(dir, name) },
	}, dir
}

func newJob(dir string, params jobs.Params) jobs.Job {
	return jobs.Job{
		Name:       "paper.pdf",
		SourcePath: filepath.Join(dir, "paper.pdf"),
		OutputPath: filepath.Join(dir, "paper", "translated.pdf"),
		Params:     params,
	}
}

func TestProcessStopsTranslatingAtReferences(t *testing.T) {
	intro := textBlock("Hello world")
	heading := &doc.Block{Type: doc.BlockTitle, Box: doc.BBox{X0: 10, Y0: 5, X1: 100, Y1: 20}, Text: "References"}
	entry := textBlock("[1] J. Doe. Layout analysis. 2019.")
	figure := &doc.Block{Type: doc.BlockFigure, Box: doc.BBox{X0: 20, Y0: 20, X1: 80, Y1: 80}}
	late := textBlock("Appendix text")
	detector := &fakeDetector{pages: [][]*doc.Block{{intro}, {heading, entry}, {figure, late}}}
	translator := &fakeTranslator{}
	c, dir := newContext(t, detector, translator, 3)
	job := newJob(dir, jobs.Params{FromLang: "English", ToLang: "German", TranslateAll: true, RenderMode: "translation-only"})

	require.NoError(t, c.Process(context.Background(), job))

	assert.Equal(t, []string{"Hello world"}, translator.seen)
	require.NotNil(t, intro.Translated)
	assert.Equal(t, "HELLO WORLD", *intro.Translated)
	assert.NotEmpty(t, intro.Lines)
	assert.Equal(t, "SansSerif-Builtin", intro.Font.Family)
	for _, block := range []*doc.Block{entry, late} {
		assert.Nil(t, block.Translated)
		assert.Empty(t, block.Lines)
	}
	assert.NotNil(t, figure.Snippet)

	count, err := api.PageCountFile(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	_, err = os.Stat(filepath.Join(dir, "paper.pdf", "pages"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessClampsPageRange(t *testing.T) {
	detector := &fakeDetector{pages: [][]*doc.Block{{textBlock("one")}, {textBlock("two")}}}
	c, dir := newContext(t, detector, &fakeTranslator{}, 3)
	job := newJob(dir, jobs.Params{FromLang: "English", ToLang: "French", PageFrom: 1, PageTo: 10, RenderMode: "interleave", AddBoundaryPages: true})

	require.NoError(t, c.Process(context.Background(), job))

	assert.Equal(t, 2, detector.calls)
	count, err := api.PageCountFile(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestProcessRejectsEmptyRange(t *testing.T) {
	c, dir := newContext(t, &fakeDetector{}, &fakeTranslator{}, 3)
	job := newJob(dir, jobs.Params{PageFrom: 5, PageTo: 7})

	err := c.Process(context.Background(), job)

	assert.True(t, apperr.Is(err, apperr.KindProcessing))
}

func TestProcessFailsWhenTranslationFails(t *testing.T) {
	detector := &fakeDetector{pages: [][]*doc.Block{{textBlock("fine"), textBlock("broken")}}}
	c, dir := newContext(t, detector, &fakeTranslator{failOn: "broken"}, 1)
	job := newJob(dir, jobs.Params{FromLang: "English", ToLang: "German", TranslateAll: true})

	err := c.Process(context.Background(), job)

	assert.True(t, apperr.Is(err, apperr.KindProcessing))
	_, statErr := os.Stat(job.OutputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	detector := &fakeDetector{
		pages:  [][]*doc.Block{{textBlock("one")}, {textBlock("two")}, {textBlock("three")}},
		onCall: func(call int) { cancel() },
	}
	c, dir := newContext(t, detector, &fakeTranslator{}, 3)
	job := newJob(dir, jobs.Params{FromLang: "English", ToLang: "German", TranslateAll: true})

	err := c.Process(ctx, job)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, detector.calls)
}

func TestProcessWithRasterBackend(t *testing.T) {
	block := textBlock("Hello")
	block.Box = doc.BBox{X0: 0, Y0: 0, X1: 200, Y1: 100}
	detector := &fakeDetector{pages: [][]*doc.Block{{block}}}
	c, dir := newContext(t, detector, &fakeTranslator{}, 1)
	c.Backend = render.KindRaster
	job := newJob(dir, jobs.Params{FromLang: "English", ToLang: "Japanese", TranslateAll: true, RenderMode: "side-by-side"})

	require.NoError(t, c.Process(context.Background(), job))

	assert.Greater(t, block.Font.Size, 0)
	assert.NotEmpty(t, block.Lines)
	count, err := api.PageCountFile(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProcessTrimsTranslations(t *testing.T) {
	padded := textBlock("Hello world")
	blank := textBlock("Figure caption")
	detector := &fakeDetector{pages: [][]*doc.Block{{padded, blank}}}
	translator := &fakeTranslator{replies: map[string]string{
		"Hello world":    "\nBonjour le monde\n",
		"Figure caption": "   ",
	}}
	c, dir := newContext(t, detector, translator, 1)
	job := newJob(dir, jobs.Params{FromLang: "English", ToLang: "French", TranslateAll: true, RenderMode: "translation-only"})

	require.NoError(t, c.Process(context.Background(), job))

	require.NotEmpty(t, padded.Lines)
	assert.NotEmpty(t, padded.Lines[0])
	assert.Equal(t, "Bonjour le monde", strings.Join(padded.Lines, ""))
	assert.Equal(t, "Bonjour le monde", *padded.Translated)
	assert.Empty(t, blank.Lines)
	assert.Zero(t, blank.Font.Size)
}

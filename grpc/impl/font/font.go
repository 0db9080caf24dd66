package font

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/freetype/truetype"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/visionex-project/pagetrans/pkg/apperr"
)

type Provider interface {
	// Returns the font used to draw text in the given target language.
	FontByLanguage(language string) *Font
}

type FontFace string

const FontFaceSansSerif FontFace = "SansSerif"

// Font keeps both the raw bytes (embedded into PDF output) and the parsed font (used for measuring and raster drawing).
type Font struct {
	// Family name under which the font is registered with PDF writers. E.g., "SansSerif-Japanese"
	Family   string
	Bytes    []byte
	TrueType *truetype.Font
	Metrics  *Metrics
}

type fontProvider struct {
	basePath string
	fonts    map[string]*Font
}

// Directories looked up under the base path. Each contains SansSerif-Regular.ttf.
var languageDirectories = []string{"English", "Japanese", "Korean", "Chinese"}

func New(basePath string) (Provider, error) {
	fp := &fontProvider{
		basePath: basePath,
		fonts:    map[string]*Font{},
	}

	for _, directory := range languageDirectories {
		font, err := fp.loadFont(directory, FontFaceSansSerif)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s fonts: %w", directory, err)
		}
		fp.fonts[directory] = font
	}
	return fp, nil
}

// Builtin returns a provider that serves the embedded Go Regular font for every language.
func Builtin() Provider {
	font, err := newFont(string(FontFaceSansSerif)+"-Builtin", goregular.TTF)
	if err != nil {
		panic(fmt.Sprintf("embedded font is invalid: %v", err))
	}
	fp := &fontProvider{fonts: map[string]*Font{}}
	for _, directory := range languageDirectories {
		fp.fonts[directory] = font
	}
	return fp
}

// A missing font file is a degraded condition, not a failure: the embedded Go font is used instead.
func (fp *fontProvider) loadFont(directory string, face FontFace) (*Font, error) {
	path := filepath.Join(fp.basePath, directory, string(face)+"-Regular.ttf")
	fontBytes, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.WithError(apperr.Render("font.New", "missing font asset %s", path)).Warn("falling back to embedded font")
		return newFont(string(face)+"-Builtin", goregular.TTF)
	}
	if err != nil {
		return nil, err
	}
	return newFont(string(face)+"-"+directory, fontBytes)
}

func newFont(family string, fontBytes []byte) (*Font, error) {
	parsed, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, err
	}
	return &Font{
		Family:   family,
		Bytes:    fontBytes,
		TrueType: parsed,
		Metrics:  NewMetrics(parsed),
	}, nil
}

func (fp *fontProvider) FontByLanguage(language string) *Font {
	return fp.fonts[languageDirectory(language)]
}

// Defaults to English for all other languages as it uses Latin alphabet which is widely recognized.
func languageDirectory(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "japanese", "ja", "ja-jp":
		return "Japanese"
	case "korean", "ko", "ko-kr":
		return "Korean"
	case "chinese", "zh", "zh-cn", "zh-tw", "simplified chinese", "traditional chinese":
		return "Chinese"
	default:
		return "English"
	}
}

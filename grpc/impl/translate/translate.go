// Package translate sends block text to a translation engine.
package translate

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/visionex-project/pagetrans/grpc/impl/doc"
	"github.com/visionex-project/pagetrans/pkg/apperr"
)

type Engine interface {
	// Translate returns nil when text must not be translated, e.g. a bibliography entry.
	Translate(ctx context.Context, text string, from, to string) (*string, error)
}

// ListReformatter is implemented by engines that can restore one item per line in list
// text that lost its line breaks during recognition.
type ListReformatter interface {
	ReformatList(ctx context.Context, text string) (string, error)
}

// TranslateBlocks translates every translatable block with at most limit requests in
// flight. The first failure cancels the rest and is returned.
func TranslateBlocks(ctx context.Context, engine Engine, blocks []*doc.Block, from, to string, limit int) error {
	if limit <= 0 {
		limit = 1
	}
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	for _, block := range blocks {
		if !block.Translatable() {
			continue
		}
		block := block
		group.Go(func() error {
			text := block.Text
			if reformatter, ok := engine.(ListReformatter); ok && block.Type == doc.BlockList {
				reformatted, err := reformatter.ReformatList(ctx, text)
				if err != nil {
					return apperr.Wrap(apperr.KindProcessing, "translate.TranslateBlocks", err)
				}
				text = reformatted
			}

			translated, err := engine.Translate(ctx, text, from, to)
			if err != nil {
				return apperr.Wrap(apperr.KindProcessing, "translate.TranslateBlocks", err)
			}
			if translated == nil {
				log.WithField("text", abbreviate(text)).Debug("block left untranslated")
			}
			block.Translated = translated
			return nil
		})
	}
	return group.Wait()
}

func abbreviate(text string) string {
	runes := []rune(text)
	if len(runes) <= 40 {
		return text
	}
	return string(runes[:40]) + "…"
}

var languages = []string{
	"Albanian", "Arabic", "Armenian", "Azerbaijani", "Basque", "Belarusian", "Bengali",
	"Bosnian", "Brazilian Portuguese", "Bulgarian", "Cantonese", "Catalan", "Chinese",
	"Croatian", "Czech", "Danish", "Dutch", "English", "Estonian", "Faroese", "Finnish",
	"French", "Galician", "Georgian", "German", "Greek", "Gujarati", "Hindi", "Hungarian",
	"Indonesian", "Irish", "Italian", "Japanese", "Javanese", "Kannada", "Kazakh", "Korean",
	"Kyrgyz", "Latvian", "Lithuanian", "Macedonian", "Malay", "Maltese", "Mandarin Chinese",
	"Marathi", "Mongolian", "Nepali", "Norwegian", "Oriya", "Pashto", "Persian", "Polish",
	"Portuguese", "Punjabi", "Romanian", "Russian", "Sanskrit", "Serbian", "Sindhi",
	"Sinhala", "Slovak", "Slovenian", "Spanish", "Swedish", "Thai", "Turkish", "Ukrainian",
	"Urdu", "Uzbek", "Vietnamese", "Welsh",
}

// Languages lists the language names offered to clients.
func Languages() []string {
	result := make([]string, len(languages))
	copy(result, languages)
	return result
}

// LanguageName turns a BCP 47 code such as "ja" or "pt-BR" into its English name. Anything
// that is not a code is returned trimmed.
func LanguageName(value string) string {
	value = strings.TrimSpace(value)
	if !looksLikeCode(value) {
		return value
	}
	tag, err := language.Parse(value)
	if err != nil {
		return value
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return value
}

func looksLikeCode(value string) bool {
	if value == "" || strings.ContainsRune(value, ' ') {
		return false
	}
	return len(value) <= 3 || strings.ContainsAny(value, "-_")
}

package translate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	chat "github.com/visionex-project/pagetrans/pkg/openai"
)

// ChatClient is the chat-completion surface shared by the OpenAI and Gemini adapters.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const (
	// Retranslations allowed after a translation fails its check.
	maxChecks = 2
	// Attempts to restore list line breaks before the original text is kept.
	maxReformats = 3
	// Votes asked at most to decide whether a text is a bibliography entry.
	maxReferenceVotes = 5
	// Retries of a chat request that failed in transport.
	maxRetries = 4
)

// LLM translates with a chat model. Before translating it asks the model whether the text
// belongs to a bibliography, and it double-checks translations whose line count changed.
type LLM struct {
	client ChatClient
	model  string
	retry  func(ctx context.Context) backoff.BackOff
}

type LLMOption func(*LLM)

// WithRetryInterval sets the pause between retries of a failed chat request.
func WithRetryInterval(interval time.Duration) LLMOption {
	return func(l *LLM) {
		l.retry = func(ctx context.Context) backoff.BackOff {
			return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), maxRetries), ctx)
		}
	}
}

func NewLLM(client ChatClient, model string, options ...LLMOption) *LLM {
	l := &LLM{client: client, model: model}
	WithRetryInterval(2 * time.Second)(l)
	for _, option := range options {
		option(l)
	}
	return l
}

func (l *LLM) complete(ctx context.Context, messages ...openai.ChatCompletionMessage) (string, error) {
	var content string
	operation := func() error {
		response, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    l.model,
			Messages: messages,
		})
		if err != nil {
			return err
		}
		content, err = chat.GetCompletionContent(response)
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait).Warn("chat request failed, retrying")
	}
	if err := backoff.RetryNotify(operation, l.retry(ctx), notify); err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	return content, nil
}

func system(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: content}
}

func user(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: content}
}

func (l *LLM) Translate(ctx context.Context, text string, from, to string) (*string, error) {
	reference, err := l.isReference(ctx, text)
	if err != nil {
		return nil, err
	}
	if reference {
		log.WithField("text", abbreviate(text)).Info("skipping reference entry")
		return nil, nil
	}

	from, to = LanguageName(from), LanguageName(to)
	instructions := fmt.Sprintf("You translate %s into %s.\n"+
		"- Keep special characters, HTML tags and links exactly as in the source.\n"+
		"- Ignore http links when translating.\n"+
		"- Reply with the %s translation only.\n", from, to, to)

	feedback := ""
	var translated string
	for check := 0; ; check++ {
		prompt := instructions
		if feedback != "" {
			prompt += fmt.Sprintf("A previous translation of this text was rejected with this feedback: %s\nTake it into account.\n", feedback)
		}
		prompt += "Translate the following text:\n\n" + text

		translated, err = l.complete(ctx, user(prompt))
		if err != nil {
			return nil, err
		}

		var ok bool
		ok, feedback, err = l.check(ctx, text, translated, from, to)
		if err != nil {
			return nil, err
		}
		if ok {
			return &translated, nil
		}
		if check >= maxChecks {
			log.WithFields(log.Fields{"text": abbreviate(text), "checks": check + 1}).Warn("translation kept despite failing its check")
			return &translated, nil
		}
		log.WithField("text", abbreviate(text)).Warn("translation rejected, translating again")
	}
}

// check accepts translations with the same number of non-empty lines as the source and asks
// the model to judge the others. It returns the judge's feedback on rejection.
func (l *LLM) check(ctx context.Context, text, translated, from, to string) (bool, string, error) {
	if countLines(text) == countLines(translated) {
		return true, "", nil
	}
	judge := fmt.Sprintf("You review %s-to-%s translations. The translation had to keep special characters, HTML tags and links, "+
		"contain only %s, and may span several lines.\n"+
		"Answer 'correct' alone if the translation is right. Otherwise answer 'incorrect' followed by the reason.", from, to, to)
	response, err := l.complete(ctx, system(judge), user(fmt.Sprintf("<text> %s\n<translation> %s", text, translated)))
	if err != nil {
		return false, "", err
	}
	lowered := strings.ToLower(response)
	switch {
	case strings.Contains(lowered, "incorrect"):
		return false, response, nil
	case strings.Contains(lowered, "correct"):
		return true, "", nil
	}
	log.WithField("response", response).Error("unexpected judge response")
	return false, "", nil
}

func countLines(text string) int {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		if line != "" {
			count++
		}
	}
	return count
}

// isReference asks until one answer has a strict majority of at least two votes. A first
// "no" settles it immediately.
func (l *LLM) isReference(ctx context.Context, text string) (bool, error) {
	yes, no := 0, 0
	for attempt := 0; attempt < maxReferenceVotes; attempt++ {
		vote, known, err := l.referenceVote(ctx, text)
		if err != nil {
			return false, err
		}
		if known {
			if vote {
				yes++
			} else {
				no++
			}
		}
		if attempt == 0 && known && !vote {
			return false, nil
		}
		if yes+no >= 2 && yes != no {
			return yes > no, nil
		}
	}
	return yes > no, nil
}

func (l *LLM) referenceVote(ctx context.Context, text string) (bool, bool, error) {
	instructions := "You check whether a text is a bibliography reference.\n" +
		"- References usually list citations or links, often numbered or bulleted.\n" +
		"- Answer exactly one word: \"yes\" if it is a reference, \"no\" otherwise.\n\n" +
		"Examples:\n" +
		"\"1. https://example.com\" -> yes\n" +
		"\"[4] J. Doe and R. Roe. Fast layout analysis. In Proc. of ICDAR, 2019.\" -> yes\n" +
		"\"We propose a new method for document translation.\" -> no"
	response, err := l.complete(ctx, system(instructions), user("Is the following text a reference? Answer yes or no.\n\n"+text))
	if err != nil {
		return false, false, err
	}
	lowered := strings.ToLower(response)
	switch {
	case strings.Contains(lowered, "yes"):
		return true, true, nil
	case strings.Contains(lowered, "no"):
		return false, true, nil
	}
	log.WithField("response", response).Warn("unexpected reference vote")
	return false, false, nil
}

// ReformatList puts every list item on its own line. A reply that changes the text beyond
// the added line breaks is retried, and after maxReformats the original text is kept.
func (l *LLM) ReformatList(ctx context.Context, text string) (string, error) {
	instructions := "You fix text formatting. Complete the task and reply with the result only."
	prompt := "The following text is a list whose line breaks were lost. Insert a newline before every item " +
		"and change nothing else. Mind the numbering:\n" + text

	flattened := strings.ReplaceAll(text, "\n", "")
	tolerance := math.Max(float64(len([]rune(text)))*0.05, 5)
	for attempt := 0; attempt < maxReformats; attempt++ {
		response, err := l.complete(ctx, system(instructions), user(prompt))
		if err != nil {
			return "", err
		}
		candidate := strings.ReplaceAll(response, "\n", "")
		if len(candidate) == len(flattened) || float64(levenshtein(candidate, flattened)) < tolerance {
			return response, nil
		}
		log.WithField("attempt", attempt+1).Warn("list reformat changed the text, retrying")
	}
	return text, nil
}

// levenshtein is the rune edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	previous := make([]int, len(rb)+1)
	current := make([]int, len(rb)+1)
	for j := range previous {
		previous[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		current[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			current[j] = min(previous[j]+1, current[j-1]+1, previous[j-1]+cost)
		}
		previous, current = current, previous
	}
	return previous[len(rb)]
}

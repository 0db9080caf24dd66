package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
)

// Client answers OpenAI-shaped chat requests with a Gemini model, so translators can switch
// providers without changing their prompts.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type client struct {
	genaiClient *genai.Client
}

func New(genaiClient *genai.Client) Client {
	return &client{genaiClient: genaiClient}
}

const DefaultModel = "gemini-1.5-flash"

func (c *client) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	model, err := validateModel(request.Model)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	if len(request.Messages) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("no messages in request")
	}

	chatSession := c.genaiClient.GenerativeModel(model).StartChat()
	history, last := toHistory(request.Messages)
	chatSession.History = history

	resp, err := chatSession.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("no response from model")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(fmt.Sprintf("%s", part))
	}
	return openai.ChatCompletionResponse{
		Model: model,
		Choices: []openai.ChatCompletionChoice{
			{
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: text.String(),
				},
			},
		},
	}, nil
}

// toHistory converts every message but the last into chat history. System messages become
// user turns prefixed with "System:", and the last message is returned as plain text.
func toHistory(messages []openai.ChatCompletionMessage) ([]*genai.Content, string) {
	history := []*genai.Content{}
	for _, message := range messages[:len(messages)-1] {
		content := message.Content
		if message.Role == openai.ChatMessageRoleSystem {
			content = "System: " + content
		}
		history = append(history, &genai.Content{
			Parts: []genai.Part{genai.Text(content)},
			Role:  toGenaiRole(message.Role),
		})
	}
	return history, messages[len(messages)-1].Content
}

func toGenaiRole(role string) string {
	switch role {
	case openai.ChatMessageRoleAssistant:
		return "model"
	default:
		return "user"
	}
}

// An empty model selects DefaultModel. Only Gemini models are served.
func validateModel(model string) (string, error) {
	switch {
	case model == "":
		return DefaultModel, nil
	case strings.HasPrefix(model, "gemini-"):
		return model, nil
	default:
		return "", fmt.Errorf("invalid model %q", model)
	}
}

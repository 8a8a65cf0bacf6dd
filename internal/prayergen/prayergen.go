// Package prayergen writes a short prayer for a newly created request.
//
// Generation is optional enrichment: callers log a failure and keep the
// request. With no API key configured, New returns a Noop writer.
package prayergen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-prayer-backend/internal/config"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("prayer generation disabled")

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("model returned an empty prayer")

// maxPrayerRunes bounds stored text regardless of what the model returns.
const maxPrayerRunes = 2000

const systemPrompt = `You write short, warm, non-denominational Christian prayers ` +
	`for members of a prayer community. Write in the first person plural, ` +
	`address God directly, stay under 120 words, and do not repeat personal ` +
	`details beyond what the request states. Reply with the prayer text only.`

// Writer produces prayer text for a request.
type Writer interface {
	// Write returns the prayer and the model that wrote it.
	Write(ctx context.Context, title, text string) (prayer, model string, err error)
}

// New returns an OpenAI-backed writer, or Noop when cfg.APIKey is empty.
func New(cfg config.OpenAIConfig) Writer {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Noop{}
	}
	return NewOpenAI(openai.NewClient(cfg.APIKey), cfg.Model)
}

// Noop never writes a prayer.
type Noop struct{}

func (Noop) Write(context.Context, string, string) (string, string, error) {
	return "", "", ErrDisabled
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIWriter asks a chat-completion model for the prayer.
type OpenAIWriter struct {
	client chatCompleter
	model  string
}

// NewOpenAI wraps client. An empty model defaults to gpt-4o-mini.
func NewOpenAI(client chatCompleter, model string) *OpenAIWriter {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIWriter{client: client, model: model}
}

func (w *OpenAIWriter) Write(ctx context.Context, title, text string) (string, string, error) {
	resp, err := w.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       w.model,
		Temperature: 0.7,
		MaxTokens:   300,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Title: %s\n\nRequest: %s", title, text)},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", ErrEmptyCompletion
	}
	prayer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if prayer == "" {
		return "", "", ErrEmptyCompletion
	}
	if utf8.RuneCountInString(prayer) > maxPrayerRunes {
		prayer = string([]rune(prayer)[:maxPrayerRunes])
	}
	model := resp.Model
	if model == "" {
		model = w.model
	}
	return prayer, model, nil
}

// Package narrative turns an analysis response into a short plain-language
// summary for growers.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/croprisk/internal/analysis"
	"github.com/lox/croprisk/internal/htmlutil"
)

var ErrNoAPIKey = errors.New("openai api key not set")

const systemPrompt = `You are an agronomist. Summarise the climate risk analysis for a grower in
three to five sentences. Mention the most likely risks with their
probabilities, the rainfall range and any clear trend. Do not invent numbers
that are not in the facts.`

type Writer interface {
	Write(ctx context.Context, resp *analysis.Response) (string, error)
}

// Generator writes narratives with an OpenAI chat model.
type Generator struct {
	client openai.Client
	model  openai.ChatModel
}

func NewGenerator(apiKey string, opts ...option.RequestOption) (*Generator, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &Generator{
		client: client,
		model:  openai.ChatModelGPT4oMini,
	}, nil
}

func (g *Generator) Write(ctx context.Context, resp *analysis.Response) (string, error) {
	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(Facts(resp)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("narrative completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no narrative returned")
	}
	text := strings.TrimSpace(htmlutil.ToText(completion.Choices[0].Message.Content))
	if text == "" {
		return "", errors.New("empty narrative returned")
	}
	return text, nil
}

// Describe asks w for a narrative and falls back to the template text when w
// is nil or fails.
func Describe(ctx context.Context, w Writer, resp *analysis.Response, logger *slog.Logger) string {
	if w != nil {
		text, err := w.Write(ctx, resp)
		if err == nil {
			return text
		}
		if logger != nil {
			logger.Warn("narrative generation failed, using template", "component", "narrative", "error", err)
		}
	}
	text, _ := Template{}.Write(ctx, resp)
	return text
}

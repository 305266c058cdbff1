package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/eleven-am/echolens/internal/llm"
	"github.com/eleven-am/echolens/internal/shared"
	"github.com/openai/openai-go/v2"
)

const (
	defaultOpenAIModel = "gpt-4-turbo"
	defaultMaxTokens   = 300
)

// OpenAIDescriber sends the image inline as a data URL to a
// vision-capable chat completion model.
type OpenAIDescriber struct {
	client    openai.Client
	model     string
	maxTokens int64
}

func NewOpenAIDescriber(client openai.Client, cfg Config) *OpenAIDescriber {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAIDescriber{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}
}

func (d *OpenAIDescriber) Describe(ctx context.Context, image []byte, contentType, prompt string) (string, error) {
	if len(image) == 0 {
		return "", shared.NewPermanent(ProviderOpenAI, "describe", errors.New("no image data provided"))
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(d.model),
		MaxCompletionTokens: openai.Int(d.maxTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
	})
	if err != nil {
		return "", llm.Classify(ProviderOpenAI, "describe", err)
	}

	if len(resp.Choices) == 0 {
		return "", shared.NewPermanent(ProviderOpenAI, "describe", errors.New("no choices returned"))
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", shared.NewPermanent(ProviderOpenAI, "describe", errors.New("empty description"))
	}
	return text, nil
}

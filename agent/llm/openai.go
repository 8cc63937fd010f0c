package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

// OpenAICompleter calls the chat completions endpoint without a graph.
type OpenAICompleter struct {
	client       *openaisdk.Client
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int64
}

var _ contractx.Completer = (*OpenAICompleter)(nil)

func NewOpenAICompleter(client *openaisdk.Client, cfg Config, systemPrompt string) (*OpenAICompleter, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	return &OpenAICompleter{
		client:       client,
		model:        strings.TrimSpace(cfg.Model),
		systemPrompt: systemPrompt,
		temperature:  float64(cfg.Temperature),
		maxTokens:    int64(cfg.MaxCompletionToken),
	}, nil
}

func (c *OpenAICompleter) Complete(ctx context.Context, question string, qc contractx.QueryContext) (string, error) {
	input, err := buildInput(question, qc)
	if err != nil {
		return "", err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(c.systemPrompt),
			openaisdk.UserMessage(input),
		},
		Temperature: openaisdk.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(c.maxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

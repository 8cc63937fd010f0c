package llm

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	promptx "github.com/tanpawarit/chative-crm-assistant/agent/prompt"
)

// NewCompleter builds the completion backend selected by cfg.Backend.
func NewCompleter(ctx context.Context, cfg Config) (contractx.Completer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prompts := promptx.LoadPromptSet()

	switch cfg.Backend {
	case BackendOpenAI:
		client := cfg.OpenRouter().Client()
		if client == nil {
			return nil, errors.New("openai client could not be created")
		}
		return NewOpenAICompleter(client, cfg, prompts.Answer)
	default:
		chatModel, err := cfg.OpenRouter().ChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("create chat model: %w", err)
		}
		return NewEinoCompleter(ctx, chatModel, prompts.Answer)
	}
}

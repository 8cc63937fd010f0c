package llm

import (
	"context"
	"errors"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

// EinoCompleter answers through a prompt -> chat model graph.
type EinoCompleter struct {
	runner compose.Runnable[map[string]any, *schema.Message]
}

var _ contractx.Completer = (*EinoCompleter)(nil)

func NewEinoCompleter(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*EinoCompleter, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add answer prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add answer model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add answer edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add answer edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add answer edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("llm.answer_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile answer graph: %w", err)
	}
	return &EinoCompleter{runner: runner}, nil
}

func (c *EinoCompleter) Complete(ctx context.Context, question string, qc contractx.QueryContext) (string, error) {
	input, err := buildInput(question, qc)
	if err != nil {
		return "", err
	}
	msg, err := c.runner.Invoke(ctx, map[string]any{"input": input})
	if err != nil {
		return "", fmt.Errorf("answer graph invoke: %w", err)
	}
	if msg == nil {
		return "", errors.New("answer graph returned no message")
	}
	return msg.Content, nil
}

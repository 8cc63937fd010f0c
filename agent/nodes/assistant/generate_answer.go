package assistantnode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

func GenerateAnswer(
	ctx context.Context,
	in *GraphState,
	completer contractx.Completer,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	answer, err := completer.Complete(ctx, in.Question.Content, in.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contractx.ErrAIGenerationFailed, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, fmt.Errorf("%w: completion is empty", contractx.ErrAIGenerationFailed)
	}

	in.Answer = answer
	return in, nil
}

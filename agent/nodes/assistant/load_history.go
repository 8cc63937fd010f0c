package assistantnode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

// LoadHistory adds the recent conversation, oldest first, without the
// question being answered.
func LoadHistory(
	ctx context.Context,
	in *GraphState,
	messages contractx.MessageStore,
	limit int,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if limit <= 0 {
		in.Context.ConversationHistory = []contractx.HistoryItem{}
		return in, nil
	}

	recent, err := messages.ListRecent(ctx, in.Question.UserID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("load conversation history: %w", err)
	}

	history := make([]contractx.HistoryItem, 0, len(recent))
	for _, m := range recent {
		if m.ID == in.Question.ID {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		history = append(history, contractx.HistoryItem{Type: m.Type, Content: m.Content})
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	in.Context.ConversationHistory = history
	return in, nil
}

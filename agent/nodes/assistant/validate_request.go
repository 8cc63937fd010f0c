package assistantnode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

type GraphInput struct {
	Question contractx.ChatMessage
}

type GraphOutput struct {
	Reply contractx.ChatMessage
}

type GraphState struct {
	Question contractx.ChatMessage
	Now      time.Time

	Credentials map[contractx.Provider]contractx.Credential
	Context     contractx.QueryContext

	Answer string
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	q := in.Question
	if strings.TrimSpace(q.UserID) == "" {
		return nil, fmt.Errorf("%w: question has no user id", contractx.ErrValidation)
	}
	if strings.TrimSpace(q.Content) == "" {
		return nil, contractx.ErrEmptyMessage
	}
	if len(q.Metadata.TaggedContacts) == 0 {
		return nil, contractx.ErrNoContactsTagged
	}

	return &GraphState{
		Question: q,
		Now:      nowFn().UTC(),
	}, nil
}

package assistantnode

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

func PersistReply(
	ctx context.Context,
	in *GraphState,
	messages contractx.MessageStore,
) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply, err := messages.Create(ctx, contractx.ChatMessage{
		ID:                   uuid.NewString(),
		UserID:               in.Question.UserID,
		Content:              in.Answer,
		Type:                 contractx.MessageTypeAssistant,
		TaggedContactIDs:     in.Question.TaggedContactIDs,
		TaggedContactSources: in.Question.TaggedContactSources,
		Metadata: contractx.MessageMetadata{
			TaggedContacts: in.Question.Metadata.TaggedContacts,
			ContactsUsed:   len(in.Context.Contacts),
			MeetingsUsed:   len(in.Context.Meetings),
		},
		CreatedAt: in.Now,
	})
	if err != nil {
		return GraphOutput{}, fmt.Errorf("persist assistant reply: %w", err)
	}
	return GraphOutput{Reply: reply}, nil
}

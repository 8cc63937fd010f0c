package assistantnode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

// LoadMeetings attaches recent meetings that include a resolved contact.
// Meetings are supplementary: a lookup failure is logged and the answer is
// produced without them.
func LoadMeetings(
	ctx context.Context,
	in *GraphState,
	meetings contractx.MeetingStore,
	limit int,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Context.Meetings = []contractx.Meeting{}
	if meetings == nil || limit <= 0 {
		return in, nil
	}

	emails := make([]string, 0, len(in.Context.Contacts))
	seen := make(map[string]struct{}, len(in.Context.Contacts))
	for _, c := range in.Context.Contacts {
		email := strings.ToLower(strings.TrimSpace(c.Email))
		if email == "" {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		emails = append(emails, email)
	}
	if len(emails) == 0 {
		return in, nil
	}

	found, err := meetings.ListForContacts(ctx, in.Question.UserID, emails, limit)
	if err != nil {
		log.Warn().Err(err).Str("user_id", in.Question.UserID).Msg("meeting lookup failed, answering without transcripts")
		return in, nil
	}
	in.Context.Meetings = found
	return in, nil
}

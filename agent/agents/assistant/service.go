package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	nodex "github.com/tanpawarit/chative-crm-assistant/agent/nodes/assistant"
)

type Config struct {
	HistoryLimit int `envconfig:"HISTORY_LIMIT" split_words:"true" default:"10"`
	MeetingLimit int `envconfig:"MEETING_LIMIT" split_words:"true" default:"5"`
}

// Assistant assembles the query context for a sent message, asks the
// completion service and records the outcome. Every Answer ends in a persisted
// assistant message, an apology when anything upstream failed.
type Assistant struct {
	credentials contractx.CredentialStore
	resolver    nodex.Resolver
	messages    contractx.MessageStore
	meetings    contractx.MeetingStore
	completer   contractx.Completer
	logger      zerolog.Logger

	historyLimit int
	meetingLimit int

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(
	credentials contractx.CredentialStore,
	resolver nodex.Resolver,
	messages contractx.MessageStore,
	meetings contractx.MeetingStore,
	completer contractx.Completer,
	cfg Config,
	logger zerolog.Logger,
) (*Assistant, error) {
	if credentials == nil {
		return nil, errors.New("credential store is required")
	}
	if resolver == nil {
		return nil, errors.New("contact resolver is required")
	}
	if messages == nil {
		return nil, errors.New("message store is required")
	}
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}

	a := &Assistant{
		credentials:  credentials,
		resolver:     resolver,
		messages:     messages,
		meetings:     meetings,
		completer:    completer,
		logger:       logger,
		historyLimit: cfg.HistoryLimit,
		meetingLimit: cfg.MeetingLimit,
		now:          time.Now,
	}

	graphRunner, err := a.compileAnswerGraph(context.Background())
	if err != nil {
		return nil, err
	}
	a.graphRunner = graphRunner

	return a, nil
}

func (a *Assistant) Answer(ctx context.Context, question contractx.ChatMessage) (contractx.ChatMessage, error) {
	out, err := a.graphRunner.Invoke(ctx, nodex.GraphInput{Question: question})
	if err == nil {
		return out.Reply, nil
	}

	reason := FailureReason(err)
	a.logger.Error().
		Err(err).
		Str("user_id", question.UserID).
		Str("question_id", question.ID).
		Str("reason", reason).
		Msg("answer failed, recording apology")

	apology, perr := a.messages.Create(ctx, contractx.ChatMessage{
		ID:                   uuid.NewString(),
		UserID:               question.UserID,
		Content:              apologyFor(err),
		Type:                 contractx.MessageTypeAssistant,
		TaggedContactIDs:     question.TaggedContactIDs,
		TaggedContactSources: question.TaggedContactSources,
		Metadata: contractx.MessageMetadata{
			TaggedContacts: question.Metadata.TaggedContacts,
			Failure:        reason,
		},
		CreatedAt: a.now().UTC(),
	})
	if perr != nil {
		return contractx.ChatMessage{}, fmt.Errorf("persist apology: %w (answer error: %v)", perr, err)
	}
	return apology, nil
}

var failureReasons = []error{
	contractx.ErrNoContactDataAvailable,
	contractx.ErrAllProvidersFailed,
	contractx.ErrMissingCredential,
	contractx.ErrTokenRefreshFailed,
	contractx.ErrAIGenerationFailed,
	contractx.ErrEmptyMessage,
	contractx.ErrNoContactsTagged,
}

// FailureReason maps an answer error to its stable reason code.
func FailureReason(err error) string {
	for _, target := range failureReasons {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "internal_error"
}

func apologyFor(err error) string {
	switch {
	case errors.Is(err, contractx.ErrNoContactDataAvailable),
		errors.Is(err, contractx.ErrAllProvidersFailed),
		errors.Is(err, contractx.ErrTokenRefreshFailed):
		return "Sorry, I couldn't load the tagged contacts from your CRM. Please check the connection and try again."
	case errors.Is(err, contractx.ErrMissingCredential):
		return "Sorry, no CRM account is connected yet. Connect HubSpot or Salesforce and ask again."
	case errors.Is(err, contractx.ErrAIGenerationFailed):
		return "Sorry, I couldn't generate an answer right now. Please try again in a moment."
	default:
		return "Sorry, something went wrong while answering. Please try again."
	}
}

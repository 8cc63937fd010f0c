package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	fanoutx "github.com/tanpawarit/chative-crm-assistant/agent/fanout"
	statex "github.com/tanpawarit/chative-crm-assistant/agent/state"
)

// View is the input surface and transcript the loop drives.
type View interface {
	Render(text string, tagged []contractx.Contact)
	Results(kind statex.SearchKind, contacts []contractx.Contact, searching bool)
	Message(msg contractx.ChatMessage)
	Error(err error)
}

type Searcher interface {
	SearchEach(
		ctx context.Context,
		creds map[contractx.Provider]contractx.Credential,
		query string,
		emit func(fanoutx.ProviderResult),
	) int
}

// Assistant answers a persisted user message and returns the persisted reply.
type Assistant interface {
	Answer(ctx context.Context, question contractx.ChatMessage) (contractx.ChatMessage, error)
}

type Config struct {
	SessionID   string
	UserID      string
	Credentials map[contractx.Provider]contractx.Credential
	EventBuffer int
	// AnswerTimeout bounds an answer task, which outlives the session.
	AnswerTimeout time.Duration
}

// Loop owns one session's state. Every mutation happens on the goroutine
// running Run; background searches and answers report back through events.
type Loop struct {
	session   *statex.Session
	creds     map[contractx.Provider]contractx.Credential
	events    chan Event
	searcher  Searcher
	messages  contractx.MessageStore
	assistant Assistant
	view      View
	logger    zerolog.Logger
	now       func() time.Time

	answerTimeout time.Duration

	tasks conc.WaitGroup
}

func New(
	cfg Config,
	searcher Searcher,
	messages contractx.MessageStore,
	assistant Assistant,
	view View,
	logger zerolog.Logger,
) (*Loop, error) {
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", contractx.ErrValidation)
	}
	if searcher == nil || messages == nil || assistant == nil || view == nil {
		return nil, errors.New("searcher, message store, assistant and view are required")
	}
	sessionID := strings.TrimSpace(cfg.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 32
	}
	answerTimeout := cfg.AnswerTimeout
	if answerTimeout <= 0 {
		answerTimeout = 2 * time.Minute
	}

	now := time.Now
	return &Loop{
		session:   statex.NewSession(sessionID, cfg.UserID, now()),
		creds:     cfg.Credentials,
		events:    make(chan Event, buffer),
		searcher:  searcher,
		messages:  messages,
		assistant: assistant,
		view:      view,
		logger:    logger.With().Str("session_id", sessionID).Str("user_id", cfg.UserID).Logger(),
		now:       now,

		answerTimeout: answerTimeout,
	}, nil
}

// Post delivers ev to the loop. It blocks while the buffer is full.
func (l *Loop) Post(ctx context.Context, ev Event) error {
	select {
	case l.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush returns once every event posted before it has been processed.
func (l *Loop) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := l.Post(ctx, barrier{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is done, then waits for background tasks.
func (l *Loop) Run(ctx context.Context) error {
	defer l.tasks.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-l.events:
			l.handle(ctx, ev)
			l.session.Touch(l.now())
		}
	}
}

func (l *Loop) handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case TextChanged:
		l.startSearch(ctx, statex.SearchMention, l.session.TextChanged(e.Text))
	case SearchQueryChanged:
		l.startSearch(ctx, statex.SearchExplicit, l.session.SetSearchQuery(e.Query))
	case MentionQueryChanged:
		l.startSearch(ctx, statex.SearchMention, l.session.SetMentionQuery(e.Query))
	case ContactSelected:
		if err := l.session.SelectContact(e.Contact); err != nil {
			l.view.Error(err)
			return
		}
		l.clearResults()
		l.render()
	case ContactRemoved:
		if l.session.RemoveContact(e.Key) {
			l.render()
		}
	case Synced:
		if l.session.Sync(e.Text, e.Mentions) {
			l.render()
		}
	case SendRequested:
		l.send(ctx)
	case searchAnswered:
		if l.session.ApplySearchResult(e.kind, e.seq, e.result) {
			l.view.Results(e.kind, l.session.Results(e.kind), l.session.Searching(e.kind))
		}
	case assistantReplied:
		if e.err != nil {
			l.view.Error(e.err)
			return
		}
		l.view.Message(e.reply)
	case barrier:
		close(e.done)
	default:
		l.logger.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("unknown event ignored")
	}
}

func (l *Loop) startSearch(ctx context.Context, kind statex.SearchKind, req *statex.SearchRequest) {
	if req == nil {
		// query cleared or too short
		if l.session.Query(kind) == "" {
			l.view.Results(kind, nil, false)
		}
		return
	}
	for p := range l.creds {
		l.session.MarkInFlight(kind, req.Seq, p)
	}
	l.view.Results(kind, l.session.Results(kind), l.session.Searching(kind))

	l.tasks.Go(func() {
		l.searcher.SearchEach(ctx, l.creds, req.Query, func(res fanoutx.ProviderResult) {
			_ = l.Post(ctx, searchAnswered{kind: req.Kind, seq: req.Seq, result: res})
		})
	})
}

func (l *Loop) send(ctx context.Context) {
	out, err := l.session.PrepareSend()
	if err != nil {
		l.view.Error(err)
		return
	}

	ids := make([]string, len(out.Tagged))
	sources := make([]contractx.Provider, len(out.Tagged))
	for i, c := range out.Tagged {
		ids[i] = c.ID
		sources[i] = c.Provider
	}

	msg, err := l.messages.Create(ctx, contractx.ChatMessage{
		ID:                   uuid.NewString(),
		UserID:               l.session.UserID,
		Content:              out.Content,
		Type:                 contractx.MessageTypeUser,
		TaggedContactIDs:     ids,
		TaggedContactSources: sources,
		Metadata:             contractx.MessageMetadata{TaggedContacts: out.Tagged},
		CreatedAt:            l.now().UTC(),
	})
	if err != nil {
		l.logger.Error().Err(err).Msg("persist user message")
		l.view.Error(fmt.Errorf("message not sent: %w", err))
		return
	}

	l.session.CompleteSend()
	l.clearResults()
	l.render()
	l.view.Message(msg)

	// The user message is already stored; ending the session must not drop
	// its reply.
	answerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.answerTimeout)
	l.tasks.Go(func() {
		defer cancel()
		reply, err := l.assistant.Answer(answerCtx, msg)
		if err != nil {
			l.logger.Error().Err(err).Str("message_id", msg.ID).Msg("answer failed")
		}
		if postErr := l.Post(ctx, assistantReplied{reply: reply, err: err}); postErr != nil && err == nil {
			l.logger.Info().Str("message_id", reply.ID).Msg("reply stored after session ended")
		}
	})
}

func (l *Loop) clearResults() {
	l.view.Results(statex.SearchExplicit, nil, false)
	l.view.Results(statex.SearchMention, nil, false)
}

func (l *Loop) render() {
	l.view.Render(l.session.Text, append([]contractx.Contact(nil), l.session.Tagged...))
}

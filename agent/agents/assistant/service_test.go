package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	credentialx "github.com/tanpawarit/chative-crm-assistant/agent/credential"
)

type fakeResolver struct {
	creds    map[contractx.Provider]contractx.Credential
	full     []contractx.FullContact
	fetchErr error
	fetched  []contractx.Contact
}

func (f *fakeResolver) LoadCredentials(context.Context, contractx.CredentialStore, string) (map[contractx.Provider]contractx.Credential, error) {
	return f.creds, nil
}

func (f *fakeResolver) Fetch(_ context.Context, _ map[contractx.Provider]contractx.Credential, contacts []contractx.Contact) ([]contractx.FullContact, error) {
	f.fetched = contacts
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.full, nil
}

type fakeMessages struct {
	mu      sync.Mutex
	history []contractx.ChatMessage
	created []contractx.ChatMessage
	limit   int
}

func (f *fakeMessages) Create(_ context.Context, msg contractx.ChatMessage) (contractx.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, msg)
	return msg, nil
}

func (f *fakeMessages) ListRecent(_ context.Context, _ string, limit int) ([]contractx.ChatMessage, error) {
	f.limit = limit
	return f.history, nil
}

type fakeMeetings struct {
	emails []string
	err    error
}

func (f *fakeMeetings) ListForContacts(_ context.Context, _ string, emails []string, _ int) ([]contractx.Meeting, error) {
	f.emails = emails
	if f.err != nil {
		return nil, f.err
	}
	return []contractx.Meeting{{ID: "m1", Title: "Kickoff", Duration: 30 * time.Minute, Transcript: "John: hi"}}, nil
}

type fakeCompleter struct {
	answer   string
	err      error
	question string
	qc       contractx.QueryContext
}

func (f *fakeCompleter) Complete(_ context.Context, question string, qc contractx.QueryContext) (string, error) {
	f.question = question
	f.qc = qc
	return f.answer, f.err
}

func question() contractx.ChatMessage {
	john := contractx.Contact{ID: "123", Provider: contractx.ProviderHubSpot, FirstName: "John", DisplayName: "John Smith"}
	return contractx.ChatMessage{
		ID:                   "q1",
		UserID:               "u1",
		Content:              "What is John's email? @John",
		Type:                 contractx.MessageTypeUser,
		TaggedContactIDs:     []string{"123"},
		TaggedContactSources: []contractx.Provider{contractx.ProviderHubSpot},
		Metadata:             contractx.MessageMetadata{TaggedContacts: []contractx.Contact{john}},
	}
}

func hubspotResolver() *fakeResolver {
	return &fakeResolver{
		creds: map[contractx.Provider]contractx.Credential{contractx.ProviderHubSpot: {UserID: "u1"}},
		full: []contractx.FullContact{{
			Contact: contractx.Contact{ID: "123", Provider: contractx.ProviderHubSpot, Email: "John@Acme.io"},
			Title:   "CTO",
		}},
	}
}

func newTestAssistant(t *testing.T, resolver *fakeResolver, messages *fakeMessages, meetings *fakeMeetings, completer *fakeCompleter) *Assistant {
	t.Helper()
	a, err := New(credentialx.NewMemoryStore(), resolver, messages, meetings, completer, Config{HistoryLimit: 2, MeetingLimit: 5}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestAnswerSuccess(t *testing.T) {
	t.Parallel()

	messages := &fakeMessages{history: []contractx.ChatMessage{
		{ID: "old1", Type: contractx.MessageTypeUser, Content: "first"},
		{ID: "old2", Type: contractx.MessageTypeAssistant, Content: "second"},
		{ID: "q1", Type: contractx.MessageTypeUser, Content: "What is John's email? @John"},
	}}
	meetings := &fakeMeetings{}
	completer := &fakeCompleter{answer: "  john@acme.io  "}
	a := newTestAssistant(t, hubspotResolver(), messages, meetings, completer)

	reply, err := a.Answer(context.Background(), question())
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if reply.Content != "john@acme.io" || reply.Type != contractx.MessageTypeAssistant {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Metadata.ContactsUsed != 1 || reply.Metadata.MeetingsUsed != 1 || reply.Metadata.Failure != "" {
		t.Fatalf("metadata = %+v", reply.Metadata)
	}

	if completer.question != "What is John's email? @John" {
		t.Fatalf("question = %q", completer.question)
	}
	if messages.limit != 3 {
		t.Fatalf("ListRecent limit = %d, want history limit + 1", messages.limit)
	}
	history := completer.qc.ConversationHistory
	if len(history) != 2 || history[0].Content != "first" || history[1].Content != "second" {
		t.Fatalf("history = %+v", history)
	}
	if len(meetings.emails) != 1 || meetings.emails[0] != "john@acme.io" {
		t.Fatalf("meeting emails = %v", meetings.emails)
	}
	if len(completer.qc.Contacts) != 1 || completer.qc.Contacts[0].Title != "CTO" {
		t.Fatalf("contacts = %+v", completer.qc.Contacts)
	}
}

func TestAnswerNoContactDataRecordsApology(t *testing.T) {
	t.Parallel()

	resolver := hubspotResolver()
	resolver.fetchErr = contractx.ErrNoContactDataAvailable
	messages := &fakeMessages{}
	completer := &fakeCompleter{answer: "unused"}
	a := newTestAssistant(t, resolver, messages, &fakeMeetings{}, completer)

	reply, err := a.Answer(context.Background(), question())
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if reply.Metadata.Failure != "no_contact_data_available" {
		t.Fatalf("failure = %q", reply.Metadata.Failure)
	}
	if len(messages.created) != 1 || messages.created[0].Type != contractx.MessageTypeAssistant {
		t.Fatalf("created = %+v", messages.created)
	}
	if completer.question != "" {
		t.Fatal("completer should not be called without contact data")
	}
}

func TestAnswerCompletionFailureHidesRawError(t *testing.T) {
	t.Parallel()

	messages := &fakeMessages{}
	completer := &fakeCompleter{err: errors.New("429 rate limited by upstream model xyz")}
	a := newTestAssistant(t, hubspotResolver(), messages, &fakeMeetings{}, completer)

	reply, err := a.Answer(context.Background(), question())
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if reply.Metadata.Failure != "ai_generation_failed" {
		t.Fatalf("failure = %q", reply.Metadata.Failure)
	}
	if strings.Contains(reply.Content, "429") {
		t.Fatalf("raw error leaked into reply: %q", reply.Content)
	}
}

func TestAnswerWithoutCredentials(t *testing.T) {
	t.Parallel()

	resolver := hubspotResolver()
	resolver.creds = nil
	messages := &fakeMessages{}
	a := newTestAssistant(t, resolver, messages, &fakeMeetings{}, &fakeCompleter{answer: "x"})

	reply, err := a.Answer(context.Background(), question())
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if reply.Metadata.Failure != "missing_credential" {
		t.Fatalf("failure = %q", reply.Metadata.Failure)
	}
}

func TestAnswerMeetingFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{answer: "ok"}
	a := newTestAssistant(t, hubspotResolver(), &fakeMessages{}, &fakeMeetings{err: errors.New("db timeout")}, completer)

	reply, err := a.Answer(context.Background(), question())
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if reply.Content != "ok" || reply.Metadata.MeetingsUsed != 0 {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestFailureReason(t *testing.T) {
	t.Parallel()

	wrapped := errors.Join(errors.New("graph node"), contractx.ErrAllProvidersFailed)
	if got := FailureReason(wrapped); got != "all_providers_failed" {
		t.Fatalf("FailureReason() = %q", got)
	}
	if got := FailureReason(errors.New("boom")); got != "internal_error" {
		t.Fatalf("FailureReason() = %q", got)
	}
}

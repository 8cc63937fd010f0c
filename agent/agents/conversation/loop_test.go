package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	fanoutx "github.com/tanpawarit/chative-crm-assistant/agent/fanout"
	statex "github.com/tanpawarit/chative-crm-assistant/agent/state"
)

type fakeView struct {
	mu       sync.Mutex
	renders  []string
	results  map[statex.SearchKind][]contractx.Contact
	messages []contractx.ChatMessage
	errs     []error
}

func (v *fakeView) Render(text string, _ []contractx.Contact) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.renders = append(v.renders, text)
}

func (v *fakeView) Results(kind statex.SearchKind, contacts []contractx.Contact, _ bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.results == nil {
		v.results = map[statex.SearchKind][]contractx.Contact{}
	}
	v.results[kind] = contacts
}

func (v *fakeView) Message(msg contractx.ChatMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, msg)
}

func (v *fakeView) Error(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errs = append(v.errs, err)
}

func (v *fakeView) snapshot() (results map[statex.SearchKind][]contractx.Contact, messages []contractx.ChatMessage, errs []error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	results = map[statex.SearchKind][]contractx.Contact{}
	for k, c := range v.results {
		results[k] = c
	}
	return results, append([]contractx.ChatMessage(nil), v.messages...), append([]error(nil), v.errs...)
}

type fakeSearcher struct {
	results map[contractx.Provider][]contractx.Contact
}

func (f *fakeSearcher) SearchEach(
	_ context.Context,
	creds map[contractx.Provider]contractx.Credential,
	_ string,
	emit func(fanoutx.ProviderResult),
) int {
	for p := range creds {
		emit(fanoutx.ProviderResult{Provider: p, Contacts: f.results[p]})
	}
	return len(creds)
}

type fakeMessages struct {
	mu      sync.Mutex
	created []contractx.ChatMessage
	err     error
}

func (f *fakeMessages) Create(ctx context.Context, msg contractx.ChatMessage) (contractx.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return contractx.ChatMessage{}, err
	}
	if f.err != nil {
		return contractx.ChatMessage{}, f.err
	}
	f.created = append(f.created, msg)
	return msg, nil
}

func (f *fakeMessages) ListRecent(context.Context, string, int) ([]contractx.ChatMessage, error) {
	return nil, nil
}

type fakeAssistant struct {
	mu        sync.Mutex
	questions []contractx.ChatMessage
}

func (f *fakeAssistant) Answer(_ context.Context, q contractx.ChatMessage) (contractx.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, q)
	return contractx.ChatMessage{ID: "r1", UserID: q.UserID, Type: contractx.MessageTypeAssistant, Content: "john@acme.io"}, nil
}

var johnContact = contractx.Contact{ID: "123", Provider: contractx.ProviderHubSpot, FirstName: "John", DisplayName: "John Smith"}

func startLoop(t *testing.T, searcher Searcher, messages *fakeMessages, assistant *fakeAssistant) (*Loop, *fakeView) {
	t.Helper()
	view := &fakeView{}
	loop, err := New(Config{
		UserID: "u1",
		Credentials: map[contractx.Provider]contractx.Credential{
			contractx.ProviderHubSpot: {UserID: "u1", Provider: contractx.ProviderHubSpot},
		},
	}, searcher, messages, assistant, view, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop, view
}

func post(t *testing.T, loop *Loop, events ...Event) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, ev := range events {
		if err := loop.Post(ctx, ev); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
	}
	if err := loop.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestLoopSearchResultsReachView(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[contractx.Provider][]contractx.Contact{
		contractx.ProviderHubSpot: {johnContact},
	}}
	loop, view := startLoop(t, searcher, &fakeMessages{}, &fakeAssistant{})

	post(t, loop, SearchQueryChanged{Query: "jo"})
	eventually(t, func() bool {
		results, _, _ := view.snapshot()
		return len(results[statex.SearchExplicit]) == 1
	})

	post(t, loop, SearchQueryChanged{Query: "j"})
	results, _, _ := view.snapshot()
	if len(results[statex.SearchExplicit]) != 0 {
		t.Fatalf("short query should clear results, got %v", results[statex.SearchExplicit])
	}
}

func TestLoopSendPersistsAndAnswers(t *testing.T) {
	t.Parallel()

	messages := &fakeMessages{}
	assistant := &fakeAssistant{}
	loop, view := startLoop(t, &fakeSearcher{}, messages, assistant)

	post(t, loop,
		TextChanged{Text: "What is John's email?"},
		ContactSelected{Contact: johnContact},
		ContactSelected{Contact: johnContact},
		SendRequested{},
	)

	eventually(t, func() bool {
		_, msgs, _ := view.snapshot()
		return len(msgs) == 2
	})

	_, msgs, errs := view.snapshot()
	if len(errs) != 1 || !errors.Is(errs[0], contractx.ErrAlreadySelected) {
		t.Fatalf("errors = %v, want one ErrAlreadySelected", errs)
	}
	user := msgs[0]
	if user.Type != contractx.MessageTypeUser || user.Content != "What is John's email? @John" {
		t.Fatalf("user message = %+v", user)
	}
	if len(user.TaggedContactIDs) != 1 || user.TaggedContactIDs[0] != "123" || user.TaggedContactSources[0] != contractx.ProviderHubSpot {
		t.Fatalf("tagged ids/sources = %v/%v", user.TaggedContactIDs, user.TaggedContactSources)
	}
	if len(user.Metadata.TaggedContacts) != 1 {
		t.Fatalf("metadata = %+v", user.Metadata)
	}
	if msgs[1].Type != contractx.MessageTypeAssistant {
		t.Fatalf("reply = %+v", msgs[1])
	}
	messages.mu.Lock()
	persisted := len(messages.created)
	messages.mu.Unlock()
	if persisted != 1 {
		t.Fatalf("persisted = %d, want 1", persisted)
	}
	view.mu.Lock()
	renders := append([]string(nil), view.renders...)
	view.mu.Unlock()
	if len(renders) == 0 || renders[len(renders)-1] != "" {
		t.Fatalf("last render should be the cleared input, renders = %q", renders)
	}
}

func TestLoopSendValidationError(t *testing.T) {
	t.Parallel()

	messages := &fakeMessages{}
	assistant := &fakeAssistant{}
	loop, view := startLoop(t, &fakeSearcher{}, messages, assistant)

	post(t, loop, TextChanged{Text: "hello"}, SendRequested{})

	_, msgs, errs := view.snapshot()
	if len(errs) != 1 || !errors.Is(errs[0], contractx.ErrNoContactsTagged) {
		t.Fatalf("errors = %v, want ErrNoContactsTagged", errs)
	}
	messages.mu.Lock()
	defer messages.mu.Unlock()
	if len(msgs) != 0 || len(messages.created) != 0 {
		t.Fatal("nothing should be persisted")
	}
}

func TestLoopPersistFailureKeepsDraft(t *testing.T) {
	t.Parallel()

	messages := &fakeMessages{err: errors.New("db down")}
	assistant := &fakeAssistant{}
	loop, view := startLoop(t, &fakeSearcher{}, messages, assistant)

	post(t, loop, ContactSelected{Contact: johnContact}, SendRequested{})

	_, _, errs := view.snapshot()
	if len(errs) != 1 {
		t.Fatalf("errors = %v", errs)
	}

	messages.mu.Lock()
	messages.err = nil
	messages.mu.Unlock()

	post(t, loop, SendRequested{})
	eventually(t, func() bool {
		_, msgs, _ := view.snapshot()
		return len(msgs) == 2
	})
	messages.mu.Lock()
	defer messages.mu.Unlock()
	if messages.created[0].Content != "@John" {
		t.Fatalf("content = %q", messages.created[0].Content)
	}
}

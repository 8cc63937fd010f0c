package conversation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	crmx "github.com/tanpawarit/chative-crm-assistant/agent/crm"
	credentialx "github.com/tanpawarit/chative-crm-assistant/agent/credential"
	fanoutx "github.com/tanpawarit/chative-crm-assistant/agent/fanout"
	statex "github.com/tanpawarit/chative-crm-assistant/agent/state"
)

// hubspotStub issues a new refresh token on every exchange and accepts only
// the newest one.
type hubspotStub struct {
	mu         sync.Mutex
	current    string
	tokenCalls int
	bearers    []string
}

func (h *hubspotStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/oauth/v1/token" {
		_ = r.ParseForm()
		if r.PostForm.Get("refresh_token") != h.current {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"status":"BAD_REFRESH_TOKEN","message":"refresh token is invalid"}`)
			return
		}
		h.tokenCalls++
		h.current = fmt.Sprintf("rt-%d", h.tokenCalls)
		fmt.Fprintf(w, `{"access_token":"at-%d","refresh_token":"%s","expires_in":1800}`, h.tokenCalls, h.current)
		return
	}

	h.bearers = append(h.bearers, r.Header.Get("Authorization"))
	fmt.Fprint(w, `{"results":[{"id":"123","properties":{"firstname":"John","lastname":"Smith","email":"john@acme.io"}}]}`)
}

func (h *hubspotStub) state() (tokenCalls int, bearers []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokenCalls, append([]string(nil), h.bearers...)
}

func TestLoopSearchesFollowRotatedCredential(t *testing.T) {
	t.Parallel()

	stub := &hubspotStub{current: "rt"}
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)

	store := credentialx.NewMemoryStore()
	snapshot := contractx.Credential{
		UserID:       "u1",
		Provider:     contractx.ProviderHubSpot,
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(2 * time.Minute),
	}
	if err := store.Put(context.Background(), snapshot); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	hubspot, err := crmx.NewHubSpotClient(crmx.HubSpotConfig{
		BaseURL:  server.URL,
		TokenURL: server.URL + "/oauth/v1/token",
	}, store, crmx.WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewHubSpotClient() error = %v", err)
	}
	orchestrator, err := fanoutx.New(fanoutx.Config{}, zerolog.Nop(), hubspot)
	if err != nil {
		t.Fatalf("fanout.New() error = %v", err)
	}

	view := &fakeView{}
	loop, err := New(Config{
		UserID:      "u1",
		Credentials: map[contractx.Provider]contractx.Credential{contractx.ProviderHubSpot: snapshot},
	}, orchestrator, &fakeMessages{}, &fakeAssistant{}, view, zerolog.Nop())
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

	for i, q := range []string{"jo", "joh"} {
		post(t, loop, SearchQueryChanged{Query: q})
		eventually(t, func() bool {
			_, bearers := stub.state()
			results, _, _ := view.snapshot()
			return len(bearers) == i+1 && len(results[statex.SearchExplicit]) == 1
		})
	}

	tokenCalls, bearers := stub.state()
	if tokenCalls != 1 {
		t.Fatalf("token exchanges = %d, want 1", tokenCalls)
	}
	for i, b := range bearers {
		if b != "Bearer at-1" {
			t.Fatalf("search %d bearer = %q, want Bearer at-1", i, b)
		}
	}
	stored, err := store.Get(context.Background(), "u1", contractx.ProviderHubSpot)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.RefreshToken != "rt-1" {
		t.Fatalf("stored refresh token = %q, want rt-1", stored.RefreshToken)
	}
}

// slowAssistant persists its reply only after release is closed.
type slowAssistant struct {
	messages *fakeMessages
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (a *slowAssistant) Answer(ctx context.Context, q contractx.ChatMessage) (contractx.ChatMessage, error) {
	a.once.Do(func() { close(a.started) })
	select {
	case <-a.release:
	case <-ctx.Done():
		return contractx.ChatMessage{}, ctx.Err()
	}
	return a.messages.Create(ctx, contractx.ChatMessage{
		ID:      "r1",
		UserID:  q.UserID,
		Type:    contractx.MessageTypeAssistant,
		Content: "john@acme.io",
	})
}

func TestLoopReplyPersistedAfterSessionEnds(t *testing.T) {
	t.Parallel()

	messages := &fakeMessages{}
	assistant := &slowAssistant{messages: messages, started: make(chan struct{}), release: make(chan struct{})}
	loop, err := New(Config{
		UserID: "u1",
		Credentials: map[contractx.Provider]contractx.Credential{
			contractx.ProviderHubSpot: {UserID: "u1", Provider: contractx.ProviderHubSpot},
		},
	}, &fakeSearcher{}, messages, assistant, &fakeView{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	post(t, loop, ContactSelected{Contact: johnContact}, SendRequested{})
	select {
	case <-assistant.started:
	case <-time.After(2 * time.Second):
		t.Fatal("answer never started")
	}

	// Input ends while the answer is still running.
	cancel()
	close(assistant.release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}

	messages.mu.Lock()
	defer messages.mu.Unlock()
	if len(messages.created) != 2 {
		t.Fatalf("persisted = %d, want question and reply", len(messages.created))
	}
	if messages.created[1].Type != contractx.MessageTypeAssistant {
		t.Fatalf("reply = %+v", messages.created[1])
	}
}

package state

import (
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	fanoutx "github.com/tanpawarit/chative-crm-assistant/agent/fanout"
)

var sessionNow = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func john() contractx.Contact {
	return contractx.Contact{ID: "123", Provider: contractx.ProviderHubSpot, FirstName: "John", LastName: "Smith", DisplayName: "John Smith"}
}

func ada() contractx.Contact {
	return contractx.Contact{ID: "003A", Provider: contractx.ProviderSalesforce, FirstName: "Ada", LastName: "Lovelace", DisplayName: "Ada Lovelace"}
}

func TestSelectContactRejectsDuplicate(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "u1", sessionNow)
	if err := s.SelectContact(john()); err != nil {
		t.Fatalf("SelectContact() error = %v", err)
	}
	if err := s.SelectContact(john()); !errors.Is(err, contractx.ErrAlreadySelected) {
		t.Fatalf("SelectContact() error = %v, want ErrAlreadySelected", err)
	}
	if len(s.Tagged) != 1 {
		t.Fatalf("tagged = %d, want 1", len(s.Tagged))
	}

	// same id from the other provider is a different contact
	other := john()
	other.Provider = contractx.ProviderSalesforce
	if err := s.SelectContact(other); err != nil {
		t.Fatalf("SelectContact() error = %v", err)
	}
}

func TestSelectContactCapsTaggedSet(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "u1", sessionNow)
	for i := 0; i < MaxTaggedContacts+3; i++ {
		c := contractx.Contact{ID: strconv.Itoa(i), Provider: contractx.ProviderHubSpot, FirstName: "P" + strconv.Itoa(i)}
		err := s.SelectContact(c)
		if i < MaxTaggedContacts && err != nil {
			t.Fatalf("SelectContact(%d) error = %v", i, err)
		}
		if i >= MaxTaggedContacts && !errors.Is(err, contractx.ErrMaxContactsReached) {
			t.Fatalf("SelectContact(%d) error = %v, want ErrMaxContactsReached", i, err)
		}
		if len(s.Tagged) > MaxTaggedContacts {
			t.Fatalf("tagged = %d exceeds cap", len(s.Tagged))
		}
	}
}

func TestSelectContactAppendsOneToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "empty", text: "", want: "@John "},
		{name: "no trailing space", text: "Ask", want: "Ask @John "},
		{name: "trailing space", text: "Ask ", want: "Ask @John "},
		{name: "trailing newline", text: "Ask\n", want: "Ask\n@John "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSession("s1", "u1", sessionNow)
			s.Text = tt.text
			if err := s.SelectContact(john()); err != nil {
				t.Fatalf("SelectContact() error = %v", err)
			}
			if s.Text != tt.want {
				t.Fatalf("Text = %q, want %q", s.Text, tt.want)
			}
		})
	}
}

func TestSelectFromMentionReplacesPartial(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "u1", sessionNow)
	req := s.TextChanged("what does @Jo")
	if req == nil || req.Kind != SearchMention || req.Query != "Jo" {
		t.Fatalf("TextChanged() = %+v", req)
	}
	if err := s.SelectContact(john()); err != nil {
		t.Fatalf("SelectContact() error = %v", err)
	}
	if s.Text != "what does @John " {
		t.Fatalf("Text = %q", s.Text)
	}
	if s.Query(SearchMention) != "" {
		t.Fatal("mention query should be cleared after selection")
	}
}

func TestTextChangedMentionIntent(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "u1", sessionNow)
	if req := s.TextChanged("hello"); req != nil {
		t.Fatalf("TextChanged(no @) = %+v", req)
	}
	if req := s.TextChanged("hello @"); req != nil {
		t.Fatalf("TextChanged(bare @) = %+v", req)
	}
	first := s.TextChanged("hello @a")
	if first == nil || first.Query != "a" {
		t.Fatalf("TextChanged(@a) = %+v", first)
	}
	if again := s.TextChanged("hello @a"); again != nil {
		t.Fatalf("unchanged query should not search again: %+v", again)
	}

	s.ApplySearchResult(SearchMention, first.Seq, fanoutx.ProviderResult{
		Provider: contractx.ProviderHubSpot,
		Contacts: []contractx.Contact{ada()},
	})
	if len(s.Results(SearchMention)) != 1 {
		t.Fatal("expected mention results")
	}

	if req := s.TextChanged("hello @ada "); req != nil {
		t.Fatalf("completed mention should not search: %+v", req)
	}
	if s.Query(SearchMention) != "" || len(s.Results(SearchMention)) != 0 {
		t.Fatal("completed mention should clear mention state")
	}
}

func TestSearchQueryMinimumLength(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "u1", sessionNow)
	req := s.SetSearchQuery("ad")
	if req == nil {
		t.Fatal("SetSearchQuery(ad) should search")
	}
	s.ApplySearchResult(SearchExplicit, req.Seq, fanoutx.ProviderResult{
		Provider: contractx.ProviderSalesforce,
		Contacts: []contractx.Contact{ada()},
	})

	if req := s.SetSearchQuery("a"); req != nil {
		t.Fatalf("SetSearchQuery(a) = %+v, want nil", req)
	}
	if len(s.Results(SearchExplicit)) != 0 {
		t.Fatal("short query should clear results")
	}
	if req := s.SetMentionQuery("a"); req == nil {
		t.Fatal("SetMentionQuery(a) should search")
	}
}

func TestStaleSearchResultDiscarded(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "u1", sessionNow)
	old := s.SetSearchQuery("jo")
	current := s.SetSearchQuery("john")
	s.MarkInFlight(SearchExplicit, current.Seq, contractx.ProviderHubSpot)

	if s.ApplySearchResult(SearchExplicit, old.Seq, fanoutx.ProviderResult{Provider: contractx.ProviderHubSpot, Contacts: []contractx.Contact{ada()}}) {
		t.Fatal("stale result applied")
	}
	if !s.Searching(SearchExplicit) {
		t.Fatal("hubspot should still be in flight")
	}
	if !s.ApplySearchResult(SearchExplicit, current.Seq, fanoutx.ProviderResult{Provider: contractx.ProviderHubSpot, Contacts: []contractx.Contact{john()}}) {
		t.Fatal("current result rejected")
	}
	if s.Searching(SearchExplicit) {
		t.Fatal("search should be complete")
	}
	got := s.Results(SearchExplicit)
	if len(got) != 1 || got[0].ID != "123" {
		t.Fatalf("Results() = %v", got)
	}
}

func TestResultsHideTaggedContacts(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "u1", sessionNow)
	if err := s.SelectContact(john()); err != nil {
		t.Fatalf("SelectContact() error = %v", err)
	}
	req := s.SetSearchQuery("smith")
	s.ApplySearchResult(SearchExplicit, req.Seq, fanoutx.ProviderResult{
		Provider: contractx.ProviderHubSpot,
		Contacts: []contractx.Contact{john(), {ID: "124", FirstName: "Jane", DisplayName: "Jane Smith"}},
	})
	got := s.Results(SearchExplicit)
	if len(got) != 1 || got[0].ID != "124" {
		t.Fatalf("Results() = %v", got)
	}
}

func TestSyncDropsRemovedMentionsAndIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "u1", sessionNow)
	for _, c := range []contractx.Contact{john(), ada()} {
		if err := s.SelectContact(c); err != nil {
			t.Fatalf("SelectContact() error = %v", err)
		}
	}

	text := "compare @john with someone"
	names := []string{"john"}
	if !s.Sync(text, names) {
		t.Fatal("first Sync() should report a change")
	}
	after := append([]contractx.Contact(nil), s.Tagged...)
	if s.Sync(text, names) {
		t.Fatal("second Sync() should be a no-op")
	}
	if !reflect.DeepEqual(after, s.Tagged) {
		t.Fatalf("tagged changed on repeated sync: %v -> %v", after, s.Tagged)
	}
	if len(s.Tagged) != 1 || s.Tagged[0].ID != "123" {
		t.Fatalf("Tagged = %v", s.Tagged)
	}

	// display name match
	s.Sync("@Ada Lovelace", []string{"ada lovelace", "John Smith"})
	if len(s.Tagged) != 1 {
		t.Fatalf("Tagged = %v", s.Tagged)
	}
}

func TestRemoveContactKeepsText(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "u1", sessionNow)
	_ = s.SelectContact(john())
	_ = s.SelectContact(ada())
	text := s.Text

	if !s.RemoveContact(john().Key()) {
		t.Fatal("RemoveContact() = false")
	}
	if s.RemoveContact(john().Key()) {
		t.Fatal("second RemoveContact() = true")
	}
	if s.Text != text {
		t.Fatalf("Text = %q, want unchanged %q", s.Text, text)
	}
	if !reflect.DeepEqual(s.TaggedKeys(), []contractx.ContactKey{ada().Key()}) {
		t.Fatalf("TaggedKeys() = %v", s.TaggedKeys())
	}
}

func TestPrepareSendValidationOrder(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "u1", sessionNow)
	s.Text = "   "
	if _, err := s.PrepareSend(); !errors.Is(err, contractx.ErrEmptyMessage) {
		t.Fatalf("PrepareSend() error = %v, want ErrEmptyMessage", err)
	}

	s.Text = "What is John's email? @John"
	if _, err := s.PrepareSend(); !errors.Is(err, contractx.ErrNoContactsTagged) {
		t.Fatalf("PrepareSend() error = %v, want ErrNoContactsTagged", err)
	}

	s.Tagged = []contractx.Contact{ada()}
	_, err := s.PrepareSend()
	var unmatched *contractx.UnmatchedMentionsError
	if !errors.As(err, &unmatched) || !errors.Is(err, contractx.ErrUnmatchedMentions) {
		t.Fatalf("PrepareSend() error = %v, want UnmatchedMentionsError", err)
	}
	if !reflect.DeepEqual(unmatched.Names, []string{"John"}) {
		t.Fatalf("unmatched = %v", unmatched.Names)
	}
}

func TestPrepareSendAndComplete(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "u1", sessionNow)
	s.Text = "What is John's email? "
	if err := s.SelectContact(john()); err != nil {
		t.Fatalf("SelectContact() error = %v", err)
	}

	out, err := s.PrepareSend()
	if err != nil {
		t.Fatalf("PrepareSend() error = %v", err)
	}
	if out.Content != "What is John's email? @John" {
		t.Fatalf("Content = %q", out.Content)
	}
	if len(out.Tagged) != 1 || len(s.Tagged) != 1 {
		t.Fatal("PrepareSend() must not clear state")
	}

	s.CompleteSend()
	if s.Text != "" || len(s.Tagged) != 0 {
		t.Fatalf("after CompleteSend: text=%q tagged=%v", s.Text, s.Tagged)
	}
	if len(out.Tagged) != 1 {
		t.Fatal("outgoing snapshot was mutated")
	}
}

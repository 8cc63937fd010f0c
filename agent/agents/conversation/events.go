package conversation

import (
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	fanoutx "github.com/tanpawarit/chative-crm-assistant/agent/fanout"
	statex "github.com/tanpawarit/chative-crm-assistant/agent/state"
)

// Event is one intent delivered to the session loop.
type Event interface {
	event()
}

// TextChanged carries the full plain text after a (debounced) edit.
type TextChanged struct {
	Text string
}

// SearchQueryChanged is the modal contact search box.
type SearchQueryChanged struct {
	Query string
}

// MentionQueryChanged is an explicit inline mention query from the input surface.
type MentionQueryChanged struct {
	Query string
}

type ContactSelected struct {
	Contact contractx.Contact
}

type ContactRemoved struct {
	Key contractx.ContactKey
}

// Synced is the periodic reconciliation from the input surface.
type Synced struct {
	Text     string
	Mentions []string
}

type SendRequested struct{}

// internal events posted back by background tasks

type searchAnswered struct {
	kind   statex.SearchKind
	seq    uint64
	result fanoutx.ProviderResult
}

type assistantReplied struct {
	reply contractx.ChatMessage
	err   error
}

type barrier struct {
	done chan struct{}
}

func (TextChanged) event() {}
func (SearchQueryChanged) event() {}
func (MentionQueryChanged) event() {}
func (ContactSelected) event() {}
func (ContactRemoved) event() {}
func (Synced) event() {}
func (SendRequested) event() {}
func (searchAnswered) event() {}
func (assistantReplied) event() {}
func (barrier) event() {}

package state

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	fanoutx "github.com/tanpawarit/chative-crm-assistant/agent/fanout"
)

const (
	MaxTaggedContacts  = 5
	MinSearchQueryLen  = 2
	MinMentionQueryLen = 1
)

type SearchKind string

const (
	// SearchExplicit is the modal "tag a contact" search.
	SearchExplicit SearchKind = "search"
	// SearchMention is the inline search while typing "@".
	SearchMention SearchKind = "mention"
)

// SearchRequest asks the owner of the session to run a provider search.
// Seq identifies the query; results carrying an older Seq are discarded.
type SearchRequest struct {
	Kind  SearchKind
	Query string
	Seq   uint64
}

type searchState struct {
	query    string
	seq      uint64
	results  *fanoutx.ResultSet
	inFlight map[contractx.Provider]bool
}

func newSearchState() *searchState {
	return &searchState{
		results:  fanoutx.NewResultSet(),
		inFlight: make(map[contractx.Provider]bool, len(contractx.Providers)),
	}
}

// supersede invalidates any in-flight search and drops shown results.
func (s *searchState) supersede() {
	s.query = ""
	s.seq++
	s.results.Clear()
	clear(s.inFlight)
}

func (s *searchState) start(kind SearchKind, query string) *SearchRequest {
	s.query = query
	s.seq++
	clear(s.inFlight)
	return &SearchRequest{Kind: kind, Query: query, Seq: s.seq}
}

// Session is the per-conversation mention state. It is not safe for
// concurrent use; one owner applies events to it in order.
type Session struct {
	SessionID string
	UserID    string

	Text   string
	Tagged []contractx.Contact

	searches map[SearchKind]*searchState

	UpdatedAt time.Time
}

// Outgoing is a validated message ready to be persisted.
type Outgoing struct {
	Content string
	Tagged  []contractx.Contact
}

func NewSession(sessionID, userID string, now time.Time) *Session {
	return &Session{
		SessionID: sessionID,
		UserID:    userID,
		searches: map[SearchKind]*searchState{
			SearchExplicit: newSearchState(),
			SearchMention:  newSearchState(),
		},
		UpdatedAt: now.UTC(),
	}
}

func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// TextChanged stores text and recomputes the inline mention query.
func (s *Session) TextChanged(text string) *SearchRequest {
	s.Text = text
	query, ok := TrailingMentionQuery(text)
	if !ok {
		s.searches[SearchMention].supersede()
		return nil
	}
	if query == s.searches[SearchMention].query {
		return nil
	}
	return s.SetMentionQuery(query)
}

// SetSearchQuery updates the modal search. Queries shorter than
// MinSearchQueryLen clear results without a provider call.
func (s *Session) SetSearchQuery(query string) *SearchRequest {
	return s.setQuery(SearchExplicit, query, MinSearchQueryLen)
}

func (s *Session) SetMentionQuery(query string) *SearchRequest {
	return s.setQuery(SearchMention, query, MinMentionQueryLen)
}

func (s *Session) setQuery(kind SearchKind, query string, minLen int) *SearchRequest {
	query = strings.TrimSpace(query)
	st := s.searches[kind]
	if utf8.RuneCountInString(query) < minLen {
		st.supersede()
		return nil
	}
	return st.start(kind, query)
}

// Query returns the active query of kind, empty when none.
func (s *Session) Query(kind SearchKind) string {
	return s.searches[kind].query
}

// MarkInFlight records that provider p is answering the current query of kind.
func (s *Session) MarkInFlight(kind SearchKind, seq uint64, p contractx.Provider) {
	st := s.searches[kind]
	if st.seq == seq {
		st.inFlight[p] = true
	}
}

func (s *Session) Searching(kind SearchKind) bool {
	for _, v := range s.searches[kind].inFlight {
		if v {
			return true
		}
	}
	return false
}

// ApplySearchResult merges one provider's answer. It reports false and changes
// nothing when the answer belongs to a superseded query.
func (s *Session) ApplySearchResult(kind SearchKind, seq uint64, res fanoutx.ProviderResult) bool {
	st, ok := s.searches[kind]
	if !ok || st.seq != seq || st.query == "" {
		return false
	}
	st.inFlight[res.Provider] = false
	st.results.Apply(res)
	return true
}

// Results returns the merged results of kind, minus contacts already tagged.
func (s *Session) Results(kind SearchKind) []contractx.Contact {
	all := s.searches[kind].results.List()
	out := all[:0:0]
	for _, c := range all {
		if s.indexOf(c.Key()) < 0 {
			out = append(out, c)
		}
	}
	return out
}

// SelectContact tags c and appends its mention token to the text. When the
// selection answers an inline mention search, the partial "@query" is
// replaced by the full token.
func (s *Session) SelectContact(c contractx.Contact) error {
	if s.indexOf(c.Key()) >= 0 {
		return contractx.ErrAlreadySelected
	}
	if len(s.Tagged) >= MaxTaggedContacts {
		return contractx.ErrMaxContactsReached
	}

	text := s.Text
	if q := s.searches[SearchMention].query; q != "" {
		text = strings.TrimSuffix(text, "@"+q)
	}

	s.Tagged = append(s.Tagged, c)
	s.Text = AppendMention(text, c.MentionName())
	for _, st := range s.searches {
		st.supersede()
	}
	return nil
}

// Sync reconciles the tagged set with the mention names currently present in
// the text. Contacts whose name no longer appears are dropped. Applying the
// same arguments twice is a no-op the second time.
func (s *Session) Sync(text string, mentionNames []string) bool {
	s.Text = text
	kept := s.Tagged[:0:0]
	for _, c := range s.Tagged {
		if slices.ContainsFunc(mentionNames, c.MatchesMention) {
			kept = append(kept, c)
		}
	}
	changed := len(kept) != len(s.Tagged)
	s.Tagged = kept
	return changed
}

// RemoveContact untags key. The text is left as is.
func (s *Session) RemoveContact(key contractx.ContactKey) bool {
	idx := s.indexOf(key)
	if idx < 0 {
		return false
	}
	s.Tagged = slices.Delete(s.Tagged, idx, idx+1)
	return true
}

// PrepareSend validates the message without changing state. Checks run in
// order: empty message, no tagged contacts, unmatched mentions.
func (s *Session) PrepareSend() (Outgoing, error) {
	content := strings.TrimSpace(s.Text)
	if content == "" {
		return Outgoing{}, contractx.ErrEmptyMessage
	}
	if len(s.Tagged) == 0 {
		return Outgoing{}, contractx.ErrNoContactsTagged
	}
	if unmatched := UnmatchedMentions(ExtractMentions(content), s.Tagged); len(unmatched) > 0 {
		return Outgoing{}, &contractx.UnmatchedMentionsError{Names: unmatched}
	}
	return Outgoing{
		Content: content,
		Tagged:  slices.Clone(s.Tagged),
	}, nil
}

// CompleteSend clears the composed message after it has been persisted.
func (s *Session) CompleteSend() {
	s.Text = ""
	s.Tagged = nil
	for _, st := range s.searches {
		st.supersede()
	}
}

func (s *Session) TaggedKeys() []contractx.ContactKey {
	keys := make([]contractx.ContactKey, len(s.Tagged))
	for i, c := range s.Tagged {
		keys[i] = c.Key()
	}
	return keys
}

func (s *Session) indexOf(key contractx.ContactKey) int {
	return slices.IndexFunc(s.Tagged, func(c contractx.Contact) bool { return c.Key() == key })
}

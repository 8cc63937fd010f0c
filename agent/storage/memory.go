package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

// MemoryMessageStore keeps messages in insertion order per user.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string][]contractx.ChatMessage
	now      func() time.Time
}

var _ contractx.MessageStore = (*MemoryMessageStore)(nil)

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: map[string][]contractx.ChatMessage{}, now: time.Now}
}

func (s *MemoryMessageStore) Create(_ context.Context, msg contractx.ChatMessage) (contractx.ChatMessage, error) {
	if msg.ID == "" || msg.UserID == "" {
		return contractx.ChatMessage{}, fmt.Errorf("%w: message needs id and user", contractx.ErrValidation)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.UserID] = append(s.messages[msg.UserID], msg)
	return msg, nil
}

func (s *MemoryMessageStore) ListRecent(_ context.Context, userID string, limit int) ([]contractx.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[userID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return slices.Clone(all), nil
}

// MemoryMeetingStore matches meetings by participant email.
type MemoryMeetingStore struct {
	mu       sync.RWMutex
	meetings []contractx.Meeting
}

var _ contractx.MeetingStore = (*MemoryMeetingStore)(nil)

func NewMemoryMeetingStore(seed ...contractx.Meeting) *MemoryMeetingStore {
	s := &MemoryMeetingStore{}
	for _, m := range seed {
		_ = s.Save(context.Background(), m)
	}
	return s
}

func (s *MemoryMeetingStore) Save(_ context.Context, m contractx.Meeting) error {
	m.Participants = normalizeEmails(m.Participants)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.meetings {
		if s.meetings[i].ID == m.ID {
			s.meetings[i] = m
			return nil
		}
	}
	s.meetings = append(s.meetings, m)
	return nil
}

func (s *MemoryMeetingStore) ListForContacts(_ context.Context, userID string, emails []string, limit int) ([]contractx.Meeting, error) {
	wanted := normalizeEmails(emails)
	out := []contractx.Meeting{}
	if len(wanted) == 0 {
		return out, nil
	}

	s.mu.RLock()
	for _, m := range s.meetings {
		if m.UserID != userID {
			continue
		}
		for _, p := range m.Participants {
			if slices.Contains(wanted, p) {
				out = append(out, m)
				break
			}
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

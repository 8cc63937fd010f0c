package storage

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

type credentialRow struct {
	bun.BaseModel `bun:"table:crm_credentials,alias:c"`

	UserID       string    `bun:"user_id,pk"`
	Provider     string    `bun:"provider,pk"`
	AccessToken  string    `bun:"access_token,notnull"`
	RefreshToken string    `bun:"refresh_token,nullzero"`
	ExpiresAt    time.Time `bun:"expires_at,notnull"`
	InstanceURL  string    `bun:"instance_url,nullzero"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func credentialFromContract(c contractx.Credential, now time.Time) *credentialRow {
	return &credentialRow{
		UserID:       c.UserID,
		Provider:     string(c.Provider),
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt.UTC(),
		InstanceURL:  c.InstanceURL,
		UpdatedAt:    now.UTC(),
	}
}

func (r *credentialRow) toContract() contractx.Credential {
	return contractx.Credential{
		UserID:       r.UserID,
		Provider:     contractx.Provider(r.Provider),
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt.UTC(),
		InstanceURL:  r.InstanceURL,
	}
}

type messageRow struct {
	bun.BaseModel `bun:"table:crm_chat_messages,alias:m"`

	ID                   string                    `bun:"id,pk"`
	UserID               string                    `bun:"user_id,notnull"`
	Content              string                    `bun:"content,notnull"`
	Type                 string                    `bun:"type,notnull"`
	TaggedContactIDs     []string                  `bun:"tagged_contact_ids,array"`
	TaggedContactSources []string                  `bun:"tagged_contact_sources,array"`
	Metadata             contractx.MessageMetadata `bun:"metadata,type:jsonb"`
	CreatedAt            time.Time                 `bun:"created_at,notnull"`
}

func messageFromContract(m contractx.ChatMessage) *messageRow {
	sources := make([]string, 0, len(m.TaggedContactSources))
	for _, p := range m.TaggedContactSources {
		sources = append(sources, string(p))
	}
	return &messageRow{
		ID:                   m.ID,
		UserID:               m.UserID,
		Content:              m.Content,
		Type:                 string(m.Type),
		TaggedContactIDs:     append([]string(nil), m.TaggedContactIDs...),
		TaggedContactSources: sources,
		Metadata:             m.Metadata,
		CreatedAt:            m.CreatedAt.UTC(),
	}
}

func (r *messageRow) toContract() contractx.ChatMessage {
	var sources []contractx.Provider
	for _, p := range r.TaggedContactSources {
		sources = append(sources, contractx.Provider(p))
	}
	return contractx.ChatMessage{
		ID:                   r.ID,
		UserID:               r.UserID,
		Content:              r.Content,
		Type:                 contractx.MessageType(r.Type),
		TaggedContactIDs:     r.TaggedContactIDs,
		TaggedContactSources: sources,
		Metadata:             r.Metadata,
		CreatedAt:            r.CreatedAt.UTC(),
	}
}

type meetingRow struct {
	bun.BaseModel `bun:"table:crm_meetings,alias:mt"`

	ID              string    `bun:"id,pk"`
	UserID          string    `bun:"user_id,notnull"`
	Title           string    `bun:"title,notnull"`
	Date            time.Time `bun:"date,notnull"`
	DurationSeconds int64     `bun:"duration_seconds,notnull"`
	Transcript      string    `bun:"transcript"`
	Participants    []string  `bun:"participants,array"`
}

func meetingFromContract(m contractx.Meeting) *meetingRow {
	return &meetingRow{
		ID:              m.ID,
		UserID:          m.UserID,
		Title:           m.Title,
		Date:            m.Date.UTC(),
		DurationSeconds: int64(m.Duration / time.Second),
		Transcript:      m.Transcript,
		Participants:    normalizeEmails(m.Participants),
	}
}

func (r *meetingRow) toContract() contractx.Meeting {
	return contractx.Meeting{
		ID:           r.ID,
		UserID:       r.UserID,
		Title:        r.Title,
		Date:         r.Date.UTC(),
		Duration:     time.Duration(r.DurationSeconds) * time.Second,
		Transcript:   r.Transcript,
		Participants: r.Participants,
	}
}

// normalizeEmails lowercases, trims and dedups, dropping blanks.
func normalizeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

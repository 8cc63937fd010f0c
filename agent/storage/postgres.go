package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

// CreateTables creates every table and index the stores need, if absent.
func CreateTables(ctx context.Context, db bun.IDB) error {
	models := []any{(*credentialRow)(nil), (*messageRow)(nil), (*meetingRow)(nil)}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table %T: %w", model, err)
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*credentialRow)(nil), "crm_credentials_provider_expires_idx", []string{"provider", "expires_at"}},
		{(*messageRow)(nil), "crm_chat_messages_user_created_idx", []string{"user_id", "created_at"}},
		{(*meetingRow)(nil), "crm_meetings_user_date_idx", []string{"user_id", "date"}},
	}
	for _, idx := range indexes {
		if _, err := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// CredentialStore keeps one row per (user, provider); Put is an upsert.
type CredentialStore struct {
	db  bun.IDB
	now func() time.Time
}

var _ contractx.CredentialStore = (*CredentialStore)(nil)

func NewCredentialStore(db bun.IDB) *CredentialStore {
	return &CredentialStore{db: db, now: time.Now}
}

func (s *CredentialStore) Get(ctx context.Context, userID string, provider contractx.Provider) (contractx.Credential, error) {
	row := new(credentialRow)
	err := s.db.NewSelect().
		Model(row).
		Where("user_id = ?", userID).
		Where("provider = ?", string(provider)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return contractx.Credential{}, fmt.Errorf("%w: %s for user=%s", contractx.ErrMissingCredential, provider, userID)
	}
	if err != nil {
		return contractx.Credential{}, fmt.Errorf("select credential: %w", err)
	}
	return row.toContract(), nil
}

func (s *CredentialStore) Put(ctx context.Context, cred contractx.Credential) error {
	if cred.UserID == "" || !cred.Provider.Valid() {
		return fmt.Errorf("%w: credential needs user and provider", contractx.ErrValidation)
	}
	_, err := s.upsertQuery(credentialFromContract(cred, s.now())).Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) upsertQuery(row *credentialRow) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(row).
		On("CONFLICT (user_id, provider) DO UPDATE").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("expires_at = EXCLUDED.expires_at").
		Set("instance_url = EXCLUDED.instance_url").
		Set("updated_at = EXCLUDED.updated_at")
}

func (s *CredentialStore) ListByProvider(ctx context.Context, provider contractx.Provider) ([]contractx.Credential, error) {
	var rows []credentialRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("provider = ?", string(provider)).
		Order("user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	out := make([]contractx.Credential, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toContract())
	}
	return out, nil
}

type MessageStore struct {
	db bun.IDB
}

var _ contractx.MessageStore = (*MessageStore)(nil)

func NewMessageStore(db bun.IDB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Create(ctx context.Context, msg contractx.ChatMessage) (contractx.ChatMessage, error) {
	if msg.ID == "" || msg.UserID == "" {
		return contractx.ChatMessage{}, fmt.Errorf("%w: message needs id and user", contractx.ErrValidation)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	row := messageFromContract(msg)
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return contractx.ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}
	return row.toContract(), nil
}

func (s *MessageStore) ListRecent(ctx context.Context, userID string, limit int) ([]contractx.ChatMessage, error) {
	var rows []messageRow
	if err := s.recentQuery(&rows, userID, limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	out := make([]contractx.ChatMessage, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toContract())
	}
	slices.Reverse(out)
	return out, nil
}

// recentQuery selects newest first; callers reverse to oldest first.
func (s *MessageStore) recentQuery(rows *[]messageRow, userID string, limit int) *bun.SelectQuery {
	if limit <= 0 {
		limit = 10
	}
	return s.db.NewSelect().
		Model(rows).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC, id DESC").
		Limit(limit)
}

type MeetingStore struct {
	db bun.IDB
}

var _ contractx.MeetingStore = (*MeetingStore)(nil)

func NewMeetingStore(db bun.IDB) *MeetingStore {
	return &MeetingStore{db: db}
}

func (s *MeetingStore) ListForContacts(ctx context.Context, userID string, emails []string, limit int) ([]contractx.Meeting, error) {
	emails = normalizeEmails(emails)
	if len(emails) == 0 {
		return []contractx.Meeting{}, nil
	}
	var rows []meetingRow
	if err := s.forContactsQuery(&rows, userID, emails, limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	out := make([]contractx.Meeting, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toContract())
	}
	return out, nil
}

func (s *MeetingStore) forContactsQuery(rows *[]meetingRow, userID string, emails []string, limit int) *bun.SelectQuery {
	if limit <= 0 {
		limit = 5
	}
	return s.db.NewSelect().
		Model(rows).
		Where("user_id = ?", userID).
		Where("participants && ?", pgdialect.Array(emails)).
		OrderExpr("date DESC").
		Limit(limit)
}

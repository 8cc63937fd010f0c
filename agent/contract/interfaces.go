package contract

import "context"

// CredentialStore is last-write-wins; Get returns ErrMissingCredential when absent.
type CredentialStore interface {
	Get(ctx context.Context, userID string, provider Provider) (Credential, error)
	Put(ctx context.Context, cred Credential) error
	ListByProvider(ctx context.Context, provider Provider) ([]Credential, error)
}

type ProviderClient interface {
	Provider() Provider
	Search(ctx context.Context, cred Credential, query string) ([]Contact, error)
	Fetch(ctx context.Context, cred Credential, id string) (FullContact, error)
	Update(ctx context.Context, cred Credential, id string, fields map[string]string) (FullContact, error)
}

type MessageStore interface {
	Create(ctx context.Context, msg ChatMessage) (ChatMessage, error)
	// ListRecent returns at most limit messages, oldest first.
	ListRecent(ctx context.Context, userID string, limit int) ([]ChatMessage, error)
}

type MeetingStore interface {
	ListForContacts(ctx context.Context, userID string, emails []string, limit int) ([]Meeting, error)
}

type Completer interface {
	Complete(ctx context.Context, question string, qc QueryContext) (string, error)
}

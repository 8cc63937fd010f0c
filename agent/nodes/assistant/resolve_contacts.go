package assistantnode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

// Resolver loads credentials and fetches full records across providers.
type Resolver interface {
	LoadCredentials(ctx context.Context, store contractx.CredentialStore, userID string) (map[contractx.Provider]contractx.Credential, error)
	Fetch(ctx context.Context, creds map[contractx.Provider]contractx.Credential, contacts []contractx.Contact) ([]contractx.FullContact, error)
}

func ResolveContacts(
	ctx context.Context,
	in *GraphState,
	store contractx.CredentialStore,
	resolver Resolver,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	creds, err := resolver.LoadCredentials(ctx, store, in.Question.UserID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: user=%s has no connected provider", contractx.ErrMissingCredential, in.Question.UserID)
	}

	full, err := resolver.Fetch(ctx, creds, in.Question.Metadata.TaggedContacts)
	if err != nil {
		return nil, err
	}

	in.Credentials = creds
	in.Context.Contacts = full
	return in, nil
}

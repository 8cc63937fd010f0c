package contract

import (
	"errors"
	"strings"
)

var (
	ErrValidation = errors.New("validation failed")

	ErrMissingCredential  = errors.New("missing_credential")
	ErrMissingEndpoint    = errors.New("missing_endpoint")
	ErrTokenRefreshFailed = errors.New("token_refresh_failed")

	ErrAllProvidersFailed     = errors.New("all_providers_failed")
	ErrNoContactDataAvailable = errors.New("no_contact_data_available")
	ErrAIGenerationFailed     = errors.New("ai_generation_failed")

	ErrEmptyMessage       = errors.New("empty_message")
	ErrNoContactsTagged   = errors.New("no_contacts_tagged")
	ErrUnmatchedMentions  = errors.New("unmatched_mentions")
	ErrAlreadySelected    = errors.New("already_selected")
	ErrMaxContactsReached = errors.New("max_contacts_reached")
)

// UnmatchedMentionsError lists @names that do not resolve to a tagged contact.
type UnmatchedMentionsError struct {
	Names []string
}

func (e *UnmatchedMentionsError) Error() string {
	return ErrUnmatchedMentions.Error() + ": " + strings.Join(e.Names, ", ")
}

func (e *UnmatchedMentionsError) Unwrap() error {
	return ErrUnmatchedMentions
}

package contract

import (
	"strings"
	"time"
)

type Provider string

const (
	ProviderHubSpot    Provider = "hubspot"
	ProviderSalesforce Provider = "salesforce"
)

// Providers lists every supported provider in merge order.
var Providers = []Provider{ProviderHubSpot, ProviderSalesforce}

func (p Provider) Valid() bool {
	return p == ProviderHubSpot || p == ProviderSalesforce
}

// Credential is one user's authorization for one provider.
// InstanceURL is only meaningful for Salesforce.
type Credential struct {
	UserID       string    `json:"user_id"`
	Provider     Provider  `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	InstanceURL  string    `json:"instance_url,omitempty"`
}

func (c Credential) CanRefresh() bool {
	return strings.TrimSpace(c.RefreshToken) != ""
}

// ExpiresWithin reports whether the access token expires before now+window.
func (c Credential) ExpiresWithin(now time.Time, window time.Duration) bool {
	return !c.ExpiresAt.After(now.Add(window))
}

type ContactKey struct {
	ID       string   `json:"id"`
	Provider Provider `json:"provider"`
}

// Contact is the summary shape returned by provider search.
type Contact struct {
	ID          string   `json:"id"`
	Provider    Provider `json:"provider"`
	FirstName   string   `json:"firstname,omitempty"`
	LastName    string   `json:"lastname,omitempty"`
	Email       string   `json:"email,omitempty"`
	Company     string   `json:"company,omitempty"`
	DisplayName string   `json:"display_name"`
}

func (c Contact) Key() ContactKey {
	return ContactKey{ID: c.ID, Provider: c.Provider}
}

// MentionName is the single-word token inserted after "@" when the contact is
// tagged: the first word of the first name, else of the display name, with any
// email domain cut off.
func (c Contact) MentionName() string {
	for _, candidate := range []string{c.FirstName, c.DisplayName, c.ID} {
		fields := strings.Fields(candidate)
		if len(fields) == 0 {
			continue
		}
		word, _, _ := strings.Cut(fields[0], "@")
		if word != "" {
			return word
		}
	}
	return c.ID
}

// MatchesMention reports whether an extracted @name refers to c.
func (c Contact) MatchesMention(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return strings.EqualFold(name, strings.TrimSpace(c.FirstName)) ||
		strings.EqualFold(name, strings.TrimSpace(c.DisplayName)) ||
		strings.EqualFold(name, c.MentionName())
}

// DisplayNameFor builds "First Last", falling back to email and then id.
func DisplayNameFor(id, first, last, email string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name != "" {
		return name
	}
	if e := strings.TrimSpace(email); e != "" {
		return e
	}
	return id
}

type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// FullContact is the fetched record. Used only as completion context.
type FullContact struct {
	Contact
	Phone       string            `json:"phone,omitempty"`
	MobilePhone string            `json:"mobile_phone,omitempty"`
	Title       string            `json:"title,omitempty"`
	Department  string            `json:"department,omitempty"`
	Address     Address           `json:"address"`
	Website     string            `json:"website,omitempty"`
	LinkedIn    string            `json:"linkedin,omitempty"`
	Twitter     string            `json:"twitter,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// FieldUpdate is one suggested change to a provider contact property.
type FieldUpdate struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
)

type MessageMetadata struct {
	TaggedContacts []Contact `json:"tagged_contacts,omitempty"`
	ContactsUsed   int       `json:"contacts_used,omitempty"`
	MeetingsUsed   int       `json:"meetings_used,omitempty"`
	Failure        string    `json:"failure,omitempty"`
}

// ChatMessage is immutable once created. CreatedAt order is conversation order.
type ChatMessage struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	Content              string          `json:"content"`
	Type                 MessageType     `json:"type"`
	TaggedContactIDs     []string        `json:"tagged_contact_ids,omitempty"`
	TaggedContactSources []Provider      `json:"tagged_contact_sources,omitempty"`
	Metadata             MessageMetadata `json:"metadata"`
	CreatedAt            time.Time       `json:"created_at"`
}

type Meeting struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Title        string        `json:"title"`
	Date         time.Time     `json:"date"`
	Duration     time.Duration `json:"duration"`
	Transcript   string        `json:"transcript"`
	Participants []string      `json:"participants,omitempty"`
}

type HistoryItem struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

// QueryContext is everything the completion service sees for one question.
type QueryContext struct {
	Contacts            []FullContact `json:"contacts"`
	ConversationHistory []HistoryItem `json:"conversation_history"`
	Meetings            []Meeting     `json:"meetings"`
}

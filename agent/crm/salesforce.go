package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

type SalesforceConfig struct {
	TokenURL      string        `envconfig:"TOKEN_URL" split_words:"true" default:"https://login.salesforce.com/services/oauth2/token"`
	ClientID      string        `envconfig:"CLIENT_ID" split_words:"true" required:"true"`
	ClientSecret  string        `envconfig:"CLIENT_SECRET" split_words:"true" required:"true"`
	APIVersion    string        `envconfig:"API_VERSION" split_words:"true" default:"v59.0"`
	RefreshWindow time.Duration `envconfig:"REFRESH_WINDOW" split_words:"true" default:"5m"`
	// Salesforce token responses carry no expires_in; the org session timeout applies.
	TokenLifetime time.Duration `envconfig:"TOKEN_LIFETIME" split_words:"true" default:"2h"`
	SearchLimit   int           `envconfig:"SEARCH_LIMIT" split_words:"true" default:"10"`
	Timeout       time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

var salesforceTokenErrorCodes = map[string]bool{
	"INVALID_SESSION_ID": true,
}

const salesforceContactFields = "Id, FirstName, LastName, Email, Phone, MobilePhone, Title, Department, " +
	"MailingStreet, MailingCity, MailingState, MailingPostalCode, MailingCountry, LeadSource, Description, Account.Name"

type SalesforceClient struct {
	http        *resty.Client
	apiVersion  string
	searchLimit int
	guard       *guard
}

var _ contractx.ProviderClient = (*SalesforceClient)(nil)

func NewSalesforceClient(cfg SalesforceConfig, store contractx.CredentialStore, opts ...Option) (*SalesforceClient, error) {
	o := buildOptions(opts)

	refresher, err := NewRefresher(contractx.ProviderSalesforce, RefresherConfig{
		TokenURL:        cfg.TokenURL,
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		DefaultLifetime: cfg.TokenLifetime,
		Timeout:         cfg.Timeout,
	}, store, o.httpClient, o.now)
	if err != nil {
		return nil, err
	}

	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = "v59.0"
	}
	window := cfg.RefreshWindow
	if window <= 0 {
		window = DefaultRefreshWindow
	}
	limit := cfg.SearchLimit
	if limit <= 0 {
		limit = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New()
	if o.httpClient != nil {
		client = resty.NewWithClient(o.httpClient)
	}
	client.SetTimeout(timeout).SetHeader("Accept", "application/json")

	return &SalesforceClient{
		http:        client,
		apiVersion:  version,
		searchLimit: limit,
		guard: &guard{
			refresher:    refresher,
			window:       window,
			now:          o.now,
			tokenInvalid: salesforceTokenInvalid,
		},
	}, nil
}

func (c *SalesforceClient) Provider() contractx.Provider {
	return contractx.ProviderSalesforce
}

func (c *SalesforceClient) Refresher() *Refresher {
	return c.guard.refresher
}

type salesforceRecord struct {
	ID                string `json:"Id"`
	FirstName         string `json:"FirstName"`
	LastName          string `json:"LastName"`
	Email             string `json:"Email"`
	Phone             string `json:"Phone"`
	MobilePhone       string `json:"MobilePhone"`
	Title             string `json:"Title"`
	Department        string `json:"Department"`
	MailingStreet     string `json:"MailingStreet"`
	MailingCity       string `json:"MailingCity"`
	MailingState      string `json:"MailingState"`
	MailingPostalCode string `json:"MailingPostalCode"`
	MailingCountry    string `json:"MailingCountry"`
	LeadSource        string `json:"LeadSource"`
	Description       string `json:"Description"`
	Account           *struct {
		Name string `json:"Name"`
	} `json:"Account"`
}

type salesforceQueryResponse struct {
	Records []salesforceRecord `json:"records"`
}

type salesforceSearchResponse struct {
	SearchRecords []salesforceRecord `json:"searchRecords"`
}

func (c *SalesforceClient) Search(ctx context.Context, cred contractx.Credential, query string) ([]contractx.Contact, error) {
	if err := requireInstance(cred); err != nil {
		return nil, err
	}
	return guarded(ctx, c.guard, cred, "search", func(ctx context.Context, cred contractx.Credential) ([]contractx.Contact, error) {
		req := c.http.R().
			SetContext(ctx).
			SetAuthToken(cred.AccessToken).
			SetQueryParam("q", contactSearchSOSL(query, c.searchLimit))

		body, err := execute(req, contractx.ProviderSalesforce, "search", http.MethodGet, c.dataURL(cred, "/search/"))
		if err != nil {
			return nil, err
		}

		var parsed salesforceSearchResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("salesforce search: decode response: %w", err)
		}

		out := make([]contractx.Contact, 0, len(parsed.SearchRecords))
		for _, rec := range parsed.SearchRecords {
			out = append(out, rec.summary())
		}
		return out, nil
	})
}

func (c *SalesforceClient) Fetch(ctx context.Context, cred contractx.Credential, id string) (contractx.FullContact, error) {
	if err := requireInstance(cred); err != nil {
		return contractx.FullContact{}, err
	}
	if strings.TrimSpace(id) == "" {
		return contractx.FullContact{}, fmt.Errorf("%w: contact id is required", contractx.ErrValidation)
	}
	return guarded(ctx, c.guard, cred, "fetch", func(ctx context.Context, cred contractx.Credential) (contractx.FullContact, error) {
		return c.fetch(ctx, cred, id)
	})
}

func (c *SalesforceClient) Update(ctx context.Context, cred contractx.Credential, id string, fields map[string]string) (contractx.FullContact, error) {
	if err := requireInstance(cred); err != nil {
		return contractx.FullContact{}, err
	}
	if strings.TrimSpace(id) == "" {
		return contractx.FullContact{}, fmt.Errorf("%w: contact id is required", contractx.ErrValidation)
	}
	if len(fields) == 0 {
		return contractx.FullContact{}, fmt.Errorf("%w: no fields to update", contractx.ErrValidation)
	}
	return guarded(ctx, c.guard, cred, "update", func(ctx context.Context, cred contractx.Credential) (contractx.FullContact, error) {
		req := c.http.R().
			SetContext(ctx).
			SetAuthToken(cred.AccessToken).
			SetHeader("Content-Type", "application/json").
			SetBody(fields)

		// 204 No Content on success.
		if _, err := execute(req, contractx.ProviderSalesforce, "update", http.MethodPatch, c.contactURL(cred, id)); err != nil {
			return contractx.FullContact{}, err
		}
		return c.fetch(ctx, cred, id)
	})
}

func (c *SalesforceClient) fetch(ctx context.Context, cred contractx.Credential, id string) (contractx.FullContact, error) {
	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(cred.AccessToken).
		SetQueryParam("q", contactFetchSOQL(id))

	body, err := execute(req, contractx.ProviderSalesforce, "fetch", http.MethodGet, c.dataURL(cred, "/query/"))
	if err != nil {
		return contractx.FullContact{}, err
	}

	var parsed salesforceQueryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return contractx.FullContact{}, fmt.Errorf("salesforce fetch: decode response: %w", err)
	}
	if len(parsed.Records) == 0 {
		return contractx.FullContact{}, &APIError{
			Provider: contractx.ProviderSalesforce,
			Op:       "fetch",
			Status:   http.StatusNotFound,
			Body:     "contact " + id + " not found",
		}
	}
	return parsed.Records[0].full(), nil
}

func (c *SalesforceClient) dataURL(cred contractx.Credential, path string) string {
	return strings.TrimRight(cred.InstanceURL, "/") + "/services/data/" + c.apiVersion + path
}

func (c *SalesforceClient) contactURL(cred contractx.Credential, id string) string {
	return c.dataURL(cred, "/sobjects/Contact/"+url.PathEscape(id))
}

// requireInstance fails before any HTTP call or refresh when the instance
// endpoint is unknown.
func requireInstance(cred contractx.Credential) error {
	if strings.TrimSpace(cred.InstanceURL) == "" {
		return fmt.Errorf("%w: salesforce credential for user=%s has no instance url", contractx.ErrMissingEndpoint, cred.UserID)
	}
	return nil
}

func (r salesforceRecord) summary() contractx.Contact {
	company := ""
	if r.Account != nil {
		company = r.Account.Name
	}
	return contractx.Contact{
		ID:          r.ID,
		Provider:    contractx.ProviderSalesforce,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Email:       r.Email,
		Company:     company,
		DisplayName: contractx.DisplayNameFor(r.ID, r.FirstName, r.LastName, r.Email),
	}
}

func (r salesforceRecord) full() contractx.FullContact {
	extra := map[string]string{}
	if v := strings.TrimSpace(r.LeadSource); v != "" {
		extra["lead_source"] = v
	}
	if v := strings.TrimSpace(r.Description); v != "" {
		extra["description"] = v
	}
	return contractx.FullContact{
		Contact:     r.summary(),
		Phone:       r.Phone,
		MobilePhone: r.MobilePhone,
		Title:       r.Title,
		Department:  r.Department,
		Address: contractx.Address{
			Street:     r.MailingStreet,
			City:       r.MailingCity,
			State:      r.MailingState,
			PostalCode: r.MailingPostalCode,
			Country:    r.MailingCountry,
		},
		Extra: extra,
	}
}

type salesforceErrorItem struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// salesforceTokenInvalid matches the documented error codes; payloads that are
// not the usual error array fall back to the free-text check.
func salesforceTokenInvalid(apiErr *APIError) bool {
	var items []salesforceErrorItem
	if err := json.Unmarshal([]byte(apiErr.Body), &items); err == nil && len(items) > 0 {
		for _, item := range items {
			if salesforceTokenErrorCodes[item.ErrorCode] {
				return true
			}
		}
		return false
	}
	return mentionsTokenProblem(apiErr.Body)
}

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

type HubSpotConfig struct {
	BaseURL       string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.hubapi.com"`
	TokenURL      string        `envconfig:"TOKEN_URL" split_words:"true" default:"https://api.hubapi.com/oauth/v1/token"`
	ClientID      string        `envconfig:"CLIENT_ID" split_words:"true" required:"true"`
	ClientSecret  string        `envconfig:"CLIENT_SECRET" split_words:"true" required:"true"`
	RefreshWindow time.Duration `envconfig:"REFRESH_WINDOW" split_words:"true" default:"5m"`
	TokenLifetime time.Duration `envconfig:"TOKEN_LIFETIME" split_words:"true" default:"30m"`
	SearchLimit   int           `envconfig:"SEARCH_LIMIT" split_words:"true" default:"10"`
	Timeout       time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

var hubspotSummaryProperties = []string{"firstname", "lastname", "email", "company"}

var hubspotFullProperties = []string{
	"firstname", "lastname", "email", "company",
	"phone", "mobilephone", "jobtitle", "department",
	"address", "city", "state", "zip", "country",
	"website", "hs_linkedin_url", "twitterhandle",
	"lifecyclestage", "hs_lead_status",
}

// HubSpot answers 401 with a category when the bearer token is no longer valid.
var hubspotTokenCategories = map[string]bool{
	"EXPIRED_AUTHENTICATION": true,
	"INVALID_AUTHENTICATION": true,
}

type HubSpotClient struct {
	http        *resty.Client
	baseURL     string
	searchLimit int
	guard       *guard
}

var _ contractx.ProviderClient = (*HubSpotClient)(nil)

func NewHubSpotClient(cfg HubSpotConfig, store contractx.CredentialStore, opts ...Option) (*HubSpotClient, error) {
	o := buildOptions(opts)

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: hubspot base url is required", contractx.ErrValidation)
	}

	refresher, err := NewRefresher(contractx.ProviderHubSpot, RefresherConfig{
		TokenURL:        cfg.TokenURL,
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		DefaultLifetime: cfg.TokenLifetime,
		Timeout:         cfg.Timeout,
	}, store, o.httpClient, o.now)
	if err != nil {
		return nil, err
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

	return &HubSpotClient{
		http:        client,
		baseURL:     baseURL,
		searchLimit: limit,
		guard: &guard{
			refresher:    refresher,
			window:       window,
			now:          o.now,
			tokenInvalid: hubspotTokenInvalid,
		},
	}, nil
}

func (c *HubSpotClient) Provider() contractx.Provider {
	return contractx.ProviderHubSpot
}

func (c *HubSpotClient) Refresher() *Refresher {
	return c.guard.refresher
}

type hubspotObject struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

type hubspotSearchResponse struct {
	Results []hubspotObject `json:"results"`
}

func (c *HubSpotClient) Search(ctx context.Context, cred contractx.Credential, query string) ([]contractx.Contact, error) {
	return guarded(ctx, c.guard, cred, "search", func(ctx context.Context, cred contractx.Credential) ([]contractx.Contact, error) {
		req := c.http.R().
			SetContext(ctx).
			SetAuthToken(cred.AccessToken).
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]any{
				"query":      strings.TrimSpace(query),
				"limit":      c.searchLimit,
				"properties": hubspotSummaryProperties,
			})

		body, err := execute(req, contractx.ProviderHubSpot, "search", http.MethodPost, c.baseURL+"/crm/v3/objects/contacts/search")
		if err != nil {
			return nil, err
		}

		var parsed hubspotSearchResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("hubspot search: decode response: %w", err)
		}

		out := make([]contractx.Contact, 0, len(parsed.Results))
		for _, obj := range parsed.Results {
			out = append(out, obj.summary())
		}
		return out, nil
	})
}

func (c *HubSpotClient) Fetch(ctx context.Context, cred contractx.Credential, id string) (contractx.FullContact, error) {
	if strings.TrimSpace(id) == "" {
		return contractx.FullContact{}, fmt.Errorf("%w: contact id is required", contractx.ErrValidation)
	}
	return guarded(ctx, c.guard, cred, "fetch", func(ctx context.Context, cred contractx.Credential) (contractx.FullContact, error) {
		return c.fetch(ctx, cred, id)
	})
}

func (c *HubSpotClient) Update(ctx context.Context, cred contractx.Credential, id string, fields map[string]string) (contractx.FullContact, error) {
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
			SetBody(map[string]any{"properties": fields})

		if _, err := execute(req, contractx.ProviderHubSpot, "update", http.MethodPatch, c.objectURL(id)); err != nil {
			return contractx.FullContact{}, err
		}
		return c.fetch(ctx, cred, id)
	})
}

func (c *HubSpotClient) fetch(ctx context.Context, cred contractx.Credential, id string) (contractx.FullContact, error) {
	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(cred.AccessToken).
		SetQueryParam("properties", strings.Join(hubspotFullProperties, ","))

	body, err := execute(req, contractx.ProviderHubSpot, "fetch", http.MethodGet, c.objectURL(id))
	if err != nil {
		return contractx.FullContact{}, err
	}

	var obj hubspotObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return contractx.FullContact{}, fmt.Errorf("hubspot fetch: decode response: %w", err)
	}
	return obj.full(), nil
}

func (c *HubSpotClient) objectURL(id string) string {
	return c.baseURL + "/crm/v3/objects/contacts/" + url.PathEscape(id)
}

func (o hubspotObject) summary() contractx.Contact {
	p := o.Properties
	return contractx.Contact{
		ID:          o.ID,
		Provider:    contractx.ProviderHubSpot,
		FirstName:   p["firstname"],
		LastName:    p["lastname"],
		Email:       p["email"],
		Company:     p["company"],
		DisplayName: contractx.DisplayNameFor(o.ID, p["firstname"], p["lastname"], p["email"]),
	}
}

func (o hubspotObject) full() contractx.FullContact {
	p := o.Properties
	extra := map[string]string{}
	for _, key := range []string{"lifecyclestage", "hs_lead_status"} {
		if v := strings.TrimSpace(p[key]); v != "" {
			extra[key] = v
		}
	}
	return contractx.FullContact{
		Contact:     o.summary(),
		Phone:       p["phone"],
		MobilePhone: p["mobilephone"],
		Title:       p["jobtitle"],
		Department:  p["department"],
		Address: contractx.Address{
			Street:     p["address"],
			City:       p["city"],
			State:      p["state"],
			PostalCode: p["zip"],
			Country:    p["country"],
		},
		Website:  p["website"],
		LinkedIn: p["hs_linkedin_url"],
		Twitter:  p["twitterhandle"],
		Extra:    extra,
	}
}

type hubspotErrorBody struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func hubspotTokenInvalid(apiErr *APIError) bool {
	var body hubspotErrorBody
	if err := json.Unmarshal([]byte(apiErr.Body), &body); err == nil && body.Category != "" {
		if hubspotTokenCategories[body.Category] {
			return true
		}
		return mentionsTokenProblem(body.Message)
	}
	return mentionsTokenProblem(apiErr.Body)
}


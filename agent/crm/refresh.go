package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

type RefresherConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// DefaultLifetime is used when the token endpoint omits expires_in.
	DefaultLifetime time.Duration
	Timeout         time.Duration
}

// Refresher exchanges a stored refresh token for a new access token and
// writes the result back to the credential store.
type Refresher struct {
	provider        contractx.Provider
	http            *resty.Client
	tokenURL        string
	clientID        string
	clientSecret    string
	defaultLifetime time.Duration
	store           contractx.CredentialStore
	now             func() time.Time
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	InstanceURL  string `json:"instance_url"`
}

func NewRefresher(
	provider contractx.Provider,
	cfg RefresherConfig,
	store contractx.CredentialStore,
	httpClient *http.Client,
	now func() time.Time,
) (*Refresher, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("%w: unknown provider %q", contractx.ErrValidation, provider)
	}
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		return nil, fmt.Errorf("%w: %s token url is required", contractx.ErrValidation, provider)
	}
	lifetime := cfg.DefaultLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if now == nil {
		now = time.Now
	}

	client := resty.New()
	if httpClient != nil {
		client = resty.NewWithClient(httpClient)
	}
	client.SetTimeout(timeout)

	return &Refresher{
		provider:        provider,
		http:            client,
		tokenURL:        tokenURL,
		clientID:        strings.TrimSpace(cfg.ClientID),
		clientSecret:    strings.TrimSpace(cfg.ClientSecret),
		defaultLifetime: lifetime,
		store:           store,
		now:             now,
	}, nil
}

func (r *Refresher) Provider() contractx.Provider {
	return r.provider
}

// Refresh never writes the store on failure. The existing refresh token is
// kept unless the provider issues a new one.
func (r *Refresher) Refresh(ctx context.Context, cred contractx.Credential) (contractx.Credential, error) {
	updated, err := r.refresh(ctx, cred)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	tokenRefreshTotal.WithLabelValues(string(r.provider), outcome).Inc()
	return updated, err
}

func (r *Refresher) refresh(ctx context.Context, cred contractx.Credential) (contractx.Credential, error) {
	if !cred.CanRefresh() {
		return cred, fmt.Errorf("%w: %s credential for user=%s has no refresh token", contractx.ErrTokenRefreshFailed, r.provider, cred.UserID)
	}

	req := r.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"client_id":     r.clientID,
			"client_secret": r.clientSecret,
			"refresh_token": cred.RefreshToken,
		})

	body, err := execute(req, r.provider, "refresh_token", http.MethodPost, r.tokenURL)
	if err != nil {
		return cred, fmt.Errorf("%w: %w", contractx.ErrTokenRefreshFailed, err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return cred, fmt.Errorf("%w: decode token response: %v", contractx.ErrTokenRefreshFailed, err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return cred, fmt.Errorf("%w: token response has no access_token", contractx.ErrTokenRefreshFailed)
	}

	lifetime := r.defaultLifetime
	if tok.ExpiresIn > 0 {
		lifetime = time.Duration(tok.ExpiresIn) * time.Second
	}

	updated := cred
	updated.AccessToken = tok.AccessToken
	updated.ExpiresAt = r.now().Add(lifetime).UTC()
	if strings.TrimSpace(tok.RefreshToken) != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	if strings.TrimSpace(tok.InstanceURL) != "" {
		updated.InstanceURL = strings.TrimRight(tok.InstanceURL, "/")
	}

	if err := r.store.Put(ctx, updated); err != nil {
		return cred, fmt.Errorf("%w: store refreshed credential: %v", contractx.ErrTokenRefreshFailed, err)
	}

	log.Debug().
		Str("provider", string(r.provider)).
		Str("user_id", cred.UserID).
		Time("expires_at", updated.ExpiresAt).
		Msg("access token refreshed")

	return updated, nil
}

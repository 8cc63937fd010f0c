package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

const (
	defaultKeyPrefix     = "crm:credential:"
	maxResponseSizeBytes = 2 << 20
)

// StoreOption customizes UpstashStore.
type StoreOption func(*UpstashStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashStore) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashStore keeps credentials in Upstash Redis via its REST API.
// Each credential is one JSON string key; a per-provider set indexes user ids
// for the refresh sweep.
type UpstashStore struct {
	baseURL    string
	token      string
	http       *resty.Client
	httpClient *http.Client
	keyPrefix  string
}

var _ contractx.CredentialStore = (*UpstashStore)(nil)

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

func NewUpstashStore(cfg UpstashConfig, opts ...StoreOption) (*UpstashStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashStore{
		baseURL:   baseURL,
		token:     token,
		keyPrefix: defaultKeyPrefix,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	client := resty.New()
	if store.httpClient != nil {
		client = resty.NewWithClient(store.httpClient)
	}
	store.http = client.
		SetTimeout(timeout).
		SetResponseBodyLimit(maxResponseSizeBytes)

	return store, nil
}

func (s *UpstashStore) Get(ctx context.Context, userID string, provider contractx.Provider) (contractx.Credential, error) {
	key, err := s.credentialKey(userID, provider)
	if err != nil {
		return contractx.Credential{}, err
	}

	resp, err := s.exec(ctx, []any{"GET", key})
	if err != nil {
		return contractx.Credential{}, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return contractx.Credential{}, fmt.Errorf("%w: %s for user=%s", contractx.ErrMissingCredential, provider, userID)
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return contractx.Credential{}, fmt.Errorf("decode credential payload: %w", err)
	}
	return decodeCredential(encoded)
}

func (s *UpstashStore) Put(ctx context.Context, cred contractx.Credential) error {
	key, err := s.credentialKey(cred.UserID, cred.Provider)
	if err != nil {
		return err
	}
	cred.ExpiresAt = cred.ExpiresAt.UTC()

	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	if _, err := s.exec(ctx, []any{"SET", key, string(payload)}); err != nil {
		return err
	}
	if _, err := s.exec(ctx, []any{"SADD", s.indexKey(cred.Provider), cred.UserID}); err != nil {
		return err
	}
	return nil
}

func (s *UpstashStore) ListByProvider(ctx context.Context, provider contractx.Provider) ([]contractx.Credential, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("%w: unknown provider %q", contractx.ErrValidation, provider)
	}

	resp, err := s.exec(ctx, []any{"SMEMBERS", s.indexKey(provider)})
	if err != nil {
		return nil, err
	}
	var userIDs []string
	if err := json.Unmarshal(resp.Result, &userIDs); err != nil {
		return nil, fmt.Errorf("decode credential index: %w", err)
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	cmd := make([]any, 0, len(userIDs)+1)
	cmd = append(cmd, "MGET")
	for _, id := range userIDs {
		key, err := s.credentialKey(id, provider)
		if err != nil {
			return nil, err
		}
		cmd = append(cmd, key)
	}

	resp, err = s.exec(ctx, cmd)
	if err != nil {
		return nil, err
	}
	var values []*string
	if err := json.Unmarshal(resp.Result, &values); err != nil {
		return nil, fmt.Errorf("decode credential batch: %w", err)
	}

	out := make([]contractx.Credential, 0, len(values))
	for _, v := range values {
		// index entries can outlive their key
		if v == nil {
			continue
		}
		cred, err := decodeCredential(*v)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}

func decodeCredential(encoded string) (contractx.Credential, error) {
	var cred contractx.Credential
	if err := json.Unmarshal([]byte(encoded), &cred); err != nil {
		return contractx.Credential{}, fmt.Errorf("unmarshal credential: %w", err)
	}
	return cred, nil
}

func (s *UpstashStore) credentialKey(userID string, provider contractx.Provider) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: user id is empty", contractx.ErrValidation)
	}
	if !provider.Valid() {
		return "", fmt.Errorf("%w: unknown provider %q", contractx.ErrValidation, provider)
	}
	return s.keyPrefix + string(provider) + ":" + userID, nil
}

func (s *UpstashStore) indexKey(provider contractx.Provider) string {
	return s.keyPrefix + "index:" + string(provider)
}

func (s *UpstashStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetAuthToken(s.token).
		SetHeader("Content-Type", "application/json").
		SetBody(command).
		Post(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}

	raw := resp.Body()
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode(), string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

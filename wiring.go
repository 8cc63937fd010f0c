package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	credentialx "github.com/tanpawarit/chative-crm-assistant/agent/credential"
	crmx "github.com/tanpawarit/chative-crm-assistant/agent/crm"
	storagex "github.com/tanpawarit/chative-crm-assistant/agent/storage"
	configx "github.com/tanpawarit/chative-crm-assistant/pkg/config"
	postgresx "github.com/tanpawarit/chative-crm-assistant/pkg/postgres"
)

const (
	backendMemory   = "memory"
	backendUpstash  = "upstash"
	backendPostgres = "postgres"
)

type AppConfig struct {
	UserID            string `envconfig:"USER_ID" split_words:"true"`
	CredentialBackend string `envconfig:"CREDENTIAL_BACKEND" split_words:"true" default:"memory"`
	StorageBackend    string `envconfig:"STORAGE_BACKEND" split_words:"true" default:"memory"`
}

type stores struct {
	credentials contractx.CredentialStore
	messages    contractx.MessageStore
	meetings    contractx.MeetingStore
	db          *bun.DB
}

func (s *stores) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func loadAppConfig() (*AppConfig, error) {
	app, err := configx.New[AppConfig]("APP")
	if err != nil {
		return nil, err
	}
	app.CredentialBackend = strings.ToLower(strings.TrimSpace(app.CredentialBackend))
	app.StorageBackend = strings.ToLower(strings.TrimSpace(app.StorageBackend))
	return app, nil
}

func openStores(ctx context.Context, app *AppConfig) (*stores, error) {
	s := &stores{}

	needDB := app.CredentialBackend == backendPostgres || app.StorageBackend == backendPostgres
	if needDB {
		db, err := openPostgres(ctx)
		if err != nil {
			return nil, err
		}
		s.db = db
	}

	switch app.CredentialBackend {
	case backendMemory:
		log.Warn().Msg("credential backend is in-memory; tokens are lost on exit")
		s.credentials = credentialx.NewMemoryStore()
	case backendUpstash:
		cfg, err := configx.New[credentialx.UpstashConfig]("UPSTASH")
		if err != nil {
			s.Close()
			return nil, err
		}
		store, err := credentialx.NewUpstashStore(*cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.credentials = store
	case backendPostgres:
		s.credentials = storagex.NewCredentialStore(s.db)
	default:
		s.Close()
		return nil, fmt.Errorf("%w: unknown credential backend %q", contractx.ErrValidation, app.CredentialBackend)
	}

	switch app.StorageBackend {
	case backendMemory:
		s.messages = storagex.NewMemoryMessageStore()
		s.meetings = storagex.NewMemoryMeetingStore()
	case backendPostgres:
		s.messages = storagex.NewMessageStore(s.db)
		s.meetings = storagex.NewMeetingStore(s.db)
	default:
		s.Close()
		return nil, fmt.Errorf("%w: unknown storage backend %q", contractx.ErrValidation, app.StorageBackend)
	}

	return s, nil
}

func openPostgres(ctx context.Context) (*bun.DB, error) {
	cfg, err := configx.New[postgresx.Config]("POSTGRES")
	if err != nil {
		return nil, err
	}
	return postgresx.Open(ctx, *cfg)
}

type providerClient interface {
	contractx.ProviderClient
	Refresher() *crmx.Refresher
}

// buildProviders returns a client for every provider whose app credentials
// are configured. A provider without config is skipped with a warning.
func buildProviders(store contractx.CredentialStore) ([]providerClient, error) {
	var clients []providerClient

	if cfg, err := configx.New[crmx.HubSpotConfig]("HUBSPOT"); err != nil {
		log.Warn().Err(err).Msg("hubspot disabled")
	} else {
		client, err := crmx.NewHubSpotClient(*cfg, store)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	if cfg, err := configx.New[crmx.SalesforceConfig]("SALESFORCE"); err != nil {
		log.Warn().Err(err).Msg("salesforce disabled")
	} else {
		client, err := crmx.NewSalesforceClient(*cfg, store)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	if len(clients) == 0 {
		return nil, errors.New("no crm provider is configured; set HUBSPOT_* or SALESFORCE_*")
	}
	return clients, nil
}

func asProviderClients(clients []providerClient) []contractx.ProviderClient {
	out := make([]contractx.ProviderClient, 0, len(clients))
	for _, c := range clients {
		out = append(out, c)
	}
	return out
}

func requireUserID(app *AppConfig, flagValue string) (string, error) {
	userID := strings.TrimSpace(flagValue)
	if userID == "" {
		userID = strings.TrimSpace(app.UserID)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required (--user or APP_USER_ID)", contractx.ErrValidation)
	}
	return userID, nil
}

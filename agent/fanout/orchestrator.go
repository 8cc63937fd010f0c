package fanout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

type Config struct {
	FetchTimeout     time.Duration `envconfig:"FETCH_TIMEOUT" split_words:"true" default:"10s"`
	FetchConcurrency int           `envconfig:"FETCH_CONCURRENCY" split_words:"true" default:"5"`
}

var providerFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crm",
		Subsystem: "fanout",
		Name:      "provider_failures_total",
		Help:      "Provider calls dropped from a fan-out by provider and operation.",
	},
	[]string{"provider", "op"},
)

// Orchestrator runs one logical search or fetch against every provider a user
// has credentials for.
type Orchestrator struct {
	clients      map[contractx.Provider]contractx.ProviderClient
	fetchTimeout time.Duration
	concurrency  int
	logger       zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger, clients ...contractx.ProviderClient) (*Orchestrator, error) {
	byProvider := make(map[contractx.Provider]contractx.ProviderClient, len(clients))
	for _, c := range clients {
		if c == nil {
			continue
		}
		if _, dup := byProvider[c.Provider()]; dup {
			return nil, fmt.Errorf("%w: duplicate client for provider %s", contractx.ErrValidation, c.Provider())
		}
		byProvider[c.Provider()] = c
	}
	if len(byProvider) == 0 {
		return nil, fmt.Errorf("%w: at least one provider client is required", contractx.ErrValidation)
	}

	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	concurrency := cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	return &Orchestrator{
		clients:      byProvider,
		fetchTimeout: timeout,
		concurrency:  concurrency,
		logger:       logger,
	}, nil
}

// Client returns the configured client for p, or nil.
func (o *Orchestrator) Client(p contractx.Provider) contractx.ProviderClient {
	return o.clients[p]
}

// LoadCredentials returns the user's credentials for every configured provider.
// Providers without a stored credential are omitted.
func (o *Orchestrator) LoadCredentials(
	ctx context.Context,
	store contractx.CredentialStore,
	userID string,
) (map[contractx.Provider]contractx.Credential, error) {
	out := make(map[contractx.Provider]contractx.Credential, len(o.clients))
	for _, p := range contractx.Providers {
		if o.clients[p] == nil {
			continue
		}
		cred, err := store.Get(ctx, userID, p)
		if errors.Is(err, contractx.ErrMissingCredential) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s credential: %w", p, err)
		}
		out[p] = cred
	}
	return out, nil
}

// SearchEach queries every provider with a credential concurrently and calls
// emit once per provider as its answer arrives. emit may be called from
// several goroutines. SearchEach returns after every provider has answered.
func (o *Orchestrator) SearchEach(
	ctx context.Context,
	creds map[contractx.Provider]contractx.Credential,
	query string,
	emit func(ProviderResult),
) int {
	var wg conc.WaitGroup
	started := 0
	for _, p := range contractx.Providers {
		client, cred, ok := o.target(creds, p)
		if !ok {
			continue
		}
		started++
		wg.Go(func() {
			contacts, err := client.Search(ctx, cred, query)
			if err != nil {
				o.logFailure(p, "search", cred.UserID, err)
			}
			emit(ProviderResult{Provider: p, Contacts: contacts, Err: err})
		})
	}
	wg.Wait()
	return started
}

// Search is the joined form of SearchEach. It fails only when no provider
// could be queried or every provider failed.
func (o *Orchestrator) Search(
	ctx context.Context,
	creds map[contractx.Provider]contractx.Credential,
	query string,
) ([]contractx.Contact, error) {
	results := make(chan ProviderResult, len(contractx.Providers))
	started := o.SearchEach(ctx, creds, query, func(res ProviderResult) {
		results <- res
	})
	close(results)

	if started == 0 {
		return nil, fmt.Errorf("%w: no provider credentials available", contractx.ErrMissingCredential)
	}

	set := NewResultSet()
	var errs []error
	for res := range results {
		set.Apply(res)
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	if len(errs) == started {
		return nil, fmt.Errorf("%w: %w", contractx.ErrAllProvidersFailed, errors.Join(errs...))
	}
	return set.List(), nil
}

type fetchOutcome struct {
	index   int
	contact contractx.FullContact
	err     error
}

// Fetch resolves the full record of each contact from its own provider with
// bounded concurrency and a per-task timeout. Failed fetches are dropped; an
// empty outcome is ErrNoContactDataAvailable. Input order is preserved.
func (o *Orchestrator) Fetch(
	ctx context.Context,
	creds map[contractx.Provider]contractx.Credential,
	contacts []contractx.Contact,
) ([]contractx.FullContact, error) {
	p := pool.NewWithResults[fetchOutcome]().WithMaxGoroutines(o.concurrency)
	for i, c := range contacts {
		p.Go(func() fetchOutcome {
			return o.fetchOne(ctx, creds, i, c)
		})
	}
	outcomes := p.Wait()
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].index < outcomes[j].index })

	resolved := make([]contractx.FullContact, 0, len(outcomes))
	for _, out := range outcomes {
		if out.err != nil {
			continue
		}
		resolved = append(resolved, out.contact)
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("%w: %d of %d contacts failed to resolve", contractx.ErrNoContactDataAvailable, len(contacts), len(contacts))
	}
	return resolved, nil
}

func (o *Orchestrator) fetchOne(
	ctx context.Context,
	creds map[contractx.Provider]contractx.Credential,
	index int,
	c contractx.Contact,
) fetchOutcome {
	client, cred, ok := o.target(creds, c.Provider)
	if !ok {
		err := fmt.Errorf("%w: %s", contractx.ErrMissingCredential, c.Provider)
		o.logFailure(c.Provider, "fetch", "", err)
		return fetchOutcome{index: index, err: err}
	}

	taskCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	full, err := client.Fetch(taskCtx, cred, c.ID)
	if err != nil {
		o.logFailure(c.Provider, "fetch", cred.UserID, err)
		return fetchOutcome{index: index, err: err}
	}
	return fetchOutcome{index: index, contact: backfill(full, c)}
}

// backfill fills summary fields the provider's record left empty from the
// contact the user tagged.
func backfill(full contractx.FullContact, tagged contractx.Contact) contractx.FullContact {
	full.Provider = tagged.Provider
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	fill(&full.ID, tagged.ID)
	fill(&full.FirstName, tagged.FirstName)
	fill(&full.LastName, tagged.LastName)
	fill(&full.Email, tagged.Email)
	fill(&full.Company, tagged.Company)
	fill(&full.DisplayName, tagged.DisplayName)
	return full
}

func (o *Orchestrator) target(
	creds map[contractx.Provider]contractx.Credential,
	p contractx.Provider,
) (contractx.ProviderClient, contractx.Credential, bool) {
	client := o.clients[p]
	cred, ok := creds[p]
	if client == nil || !ok {
		return nil, contractx.Credential{}, false
	}
	return client, cred, true
}

func (o *Orchestrator) logFailure(p contractx.Provider, op, userID string, err error) {
	providerFailures.WithLabelValues(string(p), op).Inc()
	o.logger.Warn().
		Err(err).
		Str("provider", string(p)).
		Str("user_id", userID).
		Str("op", op).
		Msg("provider call failed, dropping from fan-out")
}

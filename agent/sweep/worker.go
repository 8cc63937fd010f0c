package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

var sweepOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "crm",
	Subsystem: "sweep",
	Name:      "credentials_total",
	Help:      "Credentials examined by the token refresh sweep, by outcome.",
}, []string{"provider", "outcome"})

// Config controls sweep cadence and the proactive expiry margin.
type Config struct {
	Interval time.Duration `envconfig:"INTERVAL" split_words:"true" default:"5m"`
	Window   time.Duration `envconfig:"WINDOW" split_words:"true" default:"10m"`
}

// Refresher is satisfied by *crm.Refresher.
type Refresher interface {
	Provider() contractx.Provider
	Refresh(ctx context.Context, cred contractx.Credential) (contractx.Credential, error)
}

// Report summarises one pass over one provider.
type Report struct {
	Provider  contractx.Provider
	Scanned   int
	Refreshed int
	Skipped   int
	Failed    int
}

// Worker proactively refreshes credentials that are close to expiry.
type Worker struct {
	store      contractx.CredentialStore
	refreshers []Refresher
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time
}

func NewWorker(store contractx.CredentialStore, cfg Config, log zerolog.Logger, refreshers ...Refresher) (*Worker, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	if len(refreshers) == 0 {
		return nil, fmt.Errorf("%w: at least one refresher is required", contractx.ErrValidation)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	return &Worker{store: store, refreshers: refreshers, cfg: cfg, log: log, now: time.Now}, nil
}

// Run sweeps once immediately and then on every tick until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.cfg.Interval).Dur("window", w.cfg.Window).Msg("token sweep starting")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			w.log.Info().Msg("token sweep stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce sweeps every provider. A provider whose listing fails is logged and
// skipped; the others still run.
func (w *Worker) RunOnce(ctx context.Context) []Report {
	reports := make([]Report, 0, len(w.refreshers))
	for _, r := range w.refreshers {
		if ctx.Err() != nil {
			break
		}
		report, err := w.sweepProvider(ctx, r)
		if err != nil {
			w.log.Error().Err(err).Str("provider", string(r.Provider())).Msg("token sweep list credentials")
			continue
		}
		reports = append(reports, report)
	}
	return reports
}

func (w *Worker) sweepProvider(ctx context.Context, r Refresher) (Report, error) {
	provider := r.Provider()
	report := Report{Provider: provider}

	creds, err := w.store.ListByProvider(ctx, provider)
	if err != nil {
		return report, err
	}

	now := w.now()
	for _, cred := range creds {
		report.Scanned++
		if !cred.ExpiresWithin(now, w.cfg.Window) {
			continue
		}
		if !cred.CanRefresh() {
			report.Skipped++
			sweepOutcomes.WithLabelValues(string(provider), "skipped").Inc()
			w.log.Debug().Str("provider", string(provider)).Str("user_id", cred.UserID).Msg("no refresh token; left for re-auth")
			continue
		}
		if _, err := r.Refresh(ctx, cred); err != nil {
			report.Failed++
			sweepOutcomes.WithLabelValues(string(provider), "failed").Inc()
			w.log.Warn().Err(err).Str("provider", string(provider)).Str("user_id", cred.UserID).Msg("token sweep refresh failed")
			continue
		}
		report.Refreshed++
		sweepOutcomes.WithLabelValues(string(provider), "refreshed").Inc()
	}

	w.log.Info().
		Str("provider", string(provider)).
		Int("scanned", report.Scanned).
		Int("refreshed", report.Refreshed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("token sweep pass")
	return report, nil
}

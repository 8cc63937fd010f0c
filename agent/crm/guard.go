package crm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
	"golang.org/x/sync/singleflight"
)

const DefaultRefreshWindow = 5 * time.Minute

// guard implements the on-demand refresh and the single invalid-token retry
// shared by every provider client.
type guard struct {
	refresher    *Refresher
	window       time.Duration
	now          func() time.Time
	tokenInvalid func(*APIError) bool

	// inflight collapses concurrent near-expiry refreshes for one user.
	inflight singleflight.Group
}

// ensureFresh returns a usable credential for the call. A caller may hold a
// snapshot that an earlier refresh already replaced, so a near-expiry
// credential is checked against the store before refreshing.
func (g *guard) ensureFresh(ctx context.Context, cred contractx.Credential) (contractx.Credential, error) {
	if !cred.ExpiresWithin(g.now(), g.window) {
		return cred, nil
	}
	v, err, _ := g.inflight.Do(cred.UserID, func() (any, error) {
		current := g.latest(ctx, cred)
		if !current.ExpiresWithin(g.now(), g.window) {
			return current, nil
		}
		return g.refresher.Refresh(ctx, current)
	})
	if err != nil {
		return cred, err
	}
	return v.(contractx.Credential), nil
}

// latest returns the stored credential for cred's user, or cred itself when
// the store has nothing usable. Providers that rotate refresh tokens only
// accept the newest one.
func (g *guard) latest(ctx context.Context, cred contractx.Credential) contractx.Credential {
	stored, err := g.refresher.store.Get(ctx, cred.UserID, g.refresher.Provider())
	if err != nil || stored.RefreshToken == "" {
		return cred
	}
	return stored
}

func (g *guard) shouldRetry(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsAuth() {
		return false
	}
	return g.tokenInvalid(apiErr)
}

// guarded runs call with a fresh token. An invalid-token answer triggers one
// refresh and one retry; the retry's outcome is returned as is.
func guarded[T any](
	ctx context.Context,
	g *guard,
	cred contractx.Credential,
	op string,
	call func(context.Context, contractx.Credential) (T, error),
) (T, error) {
	var zero T

	cred, err := g.ensureFresh(ctx, cred)
	if err != nil {
		return zero, err
	}

	out, err := call(ctx, cred)
	if err == nil || !g.shouldRetry(err) {
		return out, err
	}

	provider := g.refresher.Provider()
	log.Info().
		Str("provider", string(provider)).
		Str("user_id", cred.UserID).
		Str("op", op).
		Msg("token rejected upstream, refreshing and retrying once")
	authRetryTotal.WithLabelValues(string(provider)).Inc()

	cred, err = g.refresher.Refresh(ctx, g.latest(ctx, cred))
	if err != nil {
		return zero, err
	}
	return call(ctx, cred)
}

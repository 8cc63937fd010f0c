package crm

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

// CollapseUpdates folds suggested field changes into one property map.
// Duplicate fields resolve to the last item in list order.
func CollapseUpdates(updates []contractx.FieldUpdate) map[string]string {
	out := make(map[string]string, len(updates))
	for _, u := range updates {
		field := strings.TrimSpace(u.Field)
		if field == "" {
			continue
		}
		out[field] = u.Value
	}
	return out
}

// ApplyUpdates sends a batch of suggested changes as a single update call.
func ApplyUpdates(
	ctx context.Context,
	client contractx.ProviderClient,
	cred contractx.Credential,
	id string,
	updates []contractx.FieldUpdate,
) (contractx.FullContact, error) {
	if client == nil {
		return contractx.FullContact{}, fmt.Errorf("%w: provider client is nil", contractx.ErrValidation)
	}
	fields := CollapseUpdates(updates)
	if len(fields) == 0 {
		return contractx.FullContact{}, fmt.Errorf("%w: no field updates to apply", contractx.ErrValidation)
	}
	return client.Update(ctx, cred, id, fields)
}

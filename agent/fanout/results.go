package fanout

import (
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

// ProviderResult is one provider's answer to one search.
type ProviderResult struct {
	Provider contractx.Provider
	Contacts []contractx.Contact
	Err      error
}

// ResultSet holds the latest contribution of each provider. A newer result for
// a provider replaces the previous one, so arrival order across providers does
// not change the merged list.
type ResultSet struct {
	byProvider map[contractx.Provider][]contractx.Contact
}

func NewResultSet() *ResultSet {
	return &ResultSet{byProvider: make(map[contractx.Provider][]contractx.Contact, len(contractx.Providers))}
}

// Apply records res. A failed result drops whatever the provider contributed before.
func (r *ResultSet) Apply(res ProviderResult) {
	if r.byProvider == nil {
		r.byProvider = make(map[contractx.Provider][]contractx.Contact, len(contractx.Providers))
	}
	if res.Err != nil {
		delete(r.byProvider, res.Provider)
		return
	}
	contacts := make([]contractx.Contact, 0, len(res.Contacts))
	for _, c := range res.Contacts {
		// tag with the answering provider; ids are only unique per provider
		c.Provider = res.Provider
		contacts = append(contacts, c)
	}
	r.byProvider[res.Provider] = contacts
}

func (r *ResultSet) Clear() {
	clear(r.byProvider)
}

func (r *ResultSet) Len() int {
	n := 0
	for _, cs := range r.byProvider {
		n += len(cs)
	}
	return n
}

// List merges contributions in provider order, deduplicated by (id, provider).
func (r *ResultSet) List() []contractx.Contact {
	if r == nil || len(r.byProvider) == 0 {
		return nil
	}
	seen := make(map[contractx.ContactKey]struct{}, r.Len())
	out := make([]contractx.Contact, 0, r.Len())
	for _, p := range contractx.Providers {
		for _, c := range r.byProvider[p] {
			if _, dup := seen[c.Key()]; dup {
				continue
			}
			seen[c.Key()] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

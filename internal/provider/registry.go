package provider

import (
	"fmt"
	"sort"

	"commerce-core/internal/model"
)

// Registry holds the providers enabled by configuration. It is closed after
// construction: resolving a name that was not registered fails with
// UNSUPPORTED_PROVIDER rather than instantiating anything on demand.
type Registry struct {
	providers map[model.PaymentProvider]Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[model.PaymentProvider]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Resolve returns the provider registered under name.
func (r *Registry) Resolve(name model.PaymentProvider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, model.NewDomainError(model.ErrCodeUnsupportedProvider,
			fmt.Sprintf("Payment provider %q is not configured", name))
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []model.PaymentProvider {
	names := make([]model.PaymentProvider, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// PollOnly returns the names of registered providers without webhook
// delivery. The reconciler polls these to settle stuck payments.
func (r *Registry) PollOnly() []model.PaymentProvider {
	var names []model.PaymentProvider
	for name, p := range r.providers {
		if !p.SupportsWebhooks() {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

package payment

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"course-billing/internal/config"
	"course-billing/internal/domain"
	"course-billing/internal/domain/ports/adapter"
)

var _ adapter.ProviderRegistry = (*Registry)(nil)

// Registry resolves the enabled providers by name.
type Registry struct {
	adapters map[string]adapter.NotificationAdapter
	lookups  map[string]adapter.PaymentStatusLookup
}

// NewRegistry builds an adapter for every enabled provider in cfg.
func NewRegistry(cfg config.PaymentConfig) (*Registry, error) {
	r := NewStaticRegistry()
	if cfg.YooKassa.Enabled {
		y, err := NewYooKassa(cfg.YooKassa)
		if err != nil {
			return nil, err
		}
		r.Register(y, y)
	}
	if cfg.CloudPayments.Enabled {
		c, err := NewCloudPayments(cfg.CloudPayments)
		if err != nil {
			return nil, err
		}
		r.Register(c, c)
	}
	if len(r.adapters) == 0 {
		return nil, errors.New("no payment provider enabled")
	}
	return r, nil
}

// NewStaticRegistry returns an empty registry; callers add providers with Register.
func NewStaticRegistry() *Registry {
	return &Registry{
		adapters: map[string]adapter.NotificationAdapter{},
		lookups:  map[string]adapter.PaymentStatusLookup{},
	}
}

// Register adds a provider; lookup may be nil.
func (r *Registry) Register(a adapter.NotificationAdapter, lookup adapter.PaymentStatusLookup) {
	name := strings.ToLower(a.Provider())
	r.adapters[name] = a
	if lookup != nil {
		r.lookups[name] = lookup
	}
}

func (r *Registry) Adapter(provider string) (adapter.NotificationAdapter, error) {
	a, ok := r.adapters[strings.ToLower(provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, provider)
	}
	return a, nil
}

func (r *Registry) Lookup(provider string) (adapter.PaymentStatusLookup, error) {
	l, ok := r.lookups[strings.ToLower(provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, provider)
	}
	return l, nil
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

package contacts

import (
	"context"
	"fmt"

	"salesops_backend/platform/metrics"
	"salesops_backend/platform/phone"
)

// Resolver runs strategies in a fixed order and stops at the first match.
// Weaker signals never override stronger ones.
type Resolver struct {
	strategies []Strategy
	normalizer phone.Normalizer
	metrics    *metrics.Metrics
}

// NewResolver builds the standard cascade: external id, email, phone suffix, name.
func NewResolver(lookup Lookup, normalizer phone.Normalizer, suffixDigits int, m *metrics.Metrics) *Resolver {
	return NewResolverWithStrategies(normalizer, m,
		ExternalIDStrategy(lookup),
		EmailStrategy(lookup),
		PhoneSuffixStrategy(lookup, suffixDigits),
		NameStrategy(lookup),
	)
}

// NewResolverWithStrategies builds a resolver with a custom ordered cascade.
func NewResolverWithStrategies(normalizer phone.Normalizer, m *metrics.Metrics, strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies, normalizer: normalizer, metrics: m}
}

// Keys exposes the normalized keys the resolver would use for q.
func (r *Resolver) Keys(q Query) Keys {
	return BuildKeys(q, r.normalizer)
}

// Resolve returns the first strategy match, ErrNotFound when none matched, or
// ErrAmbiguous when a strategy could not pick a single contact.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Match, error) {
	keys := r.Keys(q)

	for _, strategy := range r.strategies {
		contact, err := strategy.Resolve(ctx, keys)
		if err != nil {
			return Match{}, fmt.Errorf("resolve contact by %s: %w", strategy.Name(), err)
		}
		if contact != nil {
			r.metrics.RecordContactResolution(strategy.Name())
			return Match{Contact: *contact, Strategy: strategy.Name()}, nil
		}
	}

	r.metrics.RecordContactResolution("none")
	return Match{}, ErrNotFound
}

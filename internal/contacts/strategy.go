package contacts

import (
	"context"
	"fmt"
	"strings"

	"salesops_backend/platform/phone"
)

// Strategy names, in resolution order.
const (
	StrategyExternalID  = "external_id"
	StrategyEmail       = "email"
	StrategyPhoneSuffix = "phone_suffix"
	StrategyName        = "name"
)

// Lookup is the read side the strategies need. Multi-row lookups return the
// most recently updated contact first.
type Lookup interface {
	FindByExternalID(ctx context.Context, externalID string) (*Contact, error)
	FindByEmail(ctx context.Context, normalizedEmail string) ([]Contact, error)
	FindByPhoneSuffix(ctx context.Context, suffix string) ([]Contact, error)
	FindByNamePrefix(ctx context.Context, firstName string) ([]Contact, error)
}

// Strategy resolves keys to at most one contact. A nil contact with a nil error
// means the strategy has no opinion and the next one runs.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, keys Keys) (*Contact, error)
}

type externalIDStrategy struct{ lookup Lookup }

// ExternalIDStrategy matches on the provider's customer id.
func ExternalIDStrategy(lookup Lookup) Strategy { return externalIDStrategy{lookup: lookup} }

func (externalIDStrategy) Name() string { return StrategyExternalID }

func (s externalIDStrategy) Resolve(ctx context.Context, keys Keys) (*Contact, error) {
	if keys.ExternalID == "" {
		return nil, nil
	}
	return s.lookup.FindByExternalID(ctx, keys.ExternalID)
}

type emailStrategy struct{ lookup Lookup }

// EmailStrategy matches the normalized email exactly.
func EmailStrategy(lookup Lookup) Strategy { return emailStrategy{lookup: lookup} }

func (emailStrategy) Name() string { return StrategyEmail }

func (s emailStrategy) Resolve(ctx context.Context, keys Keys) (*Contact, error) {
	if keys.Email == "" {
		return nil, nil
	}
	found, err := s.lookup.FindByEmail(ctx, keys.Email)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

type phoneSuffixStrategy struct {
	lookup Lookup
	digits int
}

// PhoneSuffixStrategy compares the trailing digits of normalized phones so that
// numbers stored with and without country or area prefixes still meet.
func PhoneSuffixStrategy(lookup Lookup, digits int) Strategy {
	return phoneSuffixStrategy{lookup: lookup, digits: digits}
}

func (phoneSuffixStrategy) Name() string { return StrategyPhoneSuffix }

func (s phoneSuffixStrategy) Resolve(ctx context.Context, keys Keys) (*Contact, error) {
	if keys.Phone == "" || len(keys.Phone) < s.digits {
		return nil, nil
	}
	found, err := s.lookup.FindByPhoneSuffix(ctx, phone.Suffix(keys.Phone, s.digits))
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

type nameStrategy struct{ lookup Lookup }

// NameStrategy matches by first-name prefix and narrows by last-name substring.
// It only resolves when exactly one candidate is left.
func NameStrategy(lookup Lookup) Strategy { return nameStrategy{lookup: lookup} }

func (nameStrategy) Name() string { return StrategyName }

func (s nameStrategy) Resolve(ctx context.Context, keys Keys) (*Contact, error) {
	if len(keys.FirstName) < 2 {
		return nil, nil
	}

	candidates, err := s.lookup.FindByNamePrefix(ctx, keys.FirstName)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}
	if len(candidates) == 1 {
		return &candidates[0], nil
	}

	if keys.LastName == "" {
		return nil, fmt.Errorf("%w: %d contacts named %q", ErrAmbiguous, len(candidates), keys.FirstName)
	}

	narrowed := make([]Contact, 0, len(candidates))
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Name), keys.LastName) {
			narrowed = append(narrowed, c)
		}
	}

	switch len(narrowed) {
	case 0:
		return nil, nil
	case 1:
		return &narrowed[0], nil
	default:
		return nil, fmt.Errorf("%w: %d contacts named %q %q", ErrAmbiguous, len(narrowed), keys.FirstName, keys.LastName)
	}
}

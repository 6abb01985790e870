package contacts

import (
	"context"
	"testing"

	"salesops_backend/platform/logger"
	"salesops_backend/platform/phone"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(store *memoryStore) *Service {
	normalizer := phone.NewNormalizer("BR")
	return NewService(NewResolver(store, normalizer, 9, nil), store, normalizer, logger.Discard())
}

func TestFindOrCreateCreatesWhenNothingMatches(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)

	res, err := svc.FindOrCreate(context.Background(), Input{
		Name:   "<b>Ana</b> Souza",
		Email:  "Ana@X.com",
		Phone:  "(11) 99999-0000",
		Tags:   []string{"lp-a"},
		Source: "lead:landing",
	})

	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "Ana Souza", res.Contact.Name)
	assert.Equal(t, "ana@x.com", deref(res.Contact.NormalizedEmail))
	assert.Equal(t, "5511999990000", deref(res.Contact.NormalizedPhone))
	assert.Len(t, store.contacts, 1)
}

func TestFindOrCreateReusesAndMergesTags(t *testing.T) {
	store := newMemoryStore()
	existing := store.add(Contact{
		Name:            "Ana Souza",
		NormalizedEmail: strPtr("ana@x.com"),
		Tags:            []string{"lp-a"},
		Source:          "lead:landing",
	})
	svc := newTestService(store)

	res, err := svc.FindOrCreate(context.Background(), Input{
		Name:   "Ana S. Souza",
		Email:  "ana@x.com",
		Phone:  "11988887777",
		Tags:   []string{"lp-a", "lp-b"},
		Source: "lead:landing",
	})

	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, res.Updated)
	assert.Equal(t, existing.ID, res.Contact.ID)
	assert.Equal(t, StrategyEmail, res.Strategy)
	assert.Equal(t, "Ana S. Souza", res.Contact.Name)
	assert.Equal(t, []string{"lp-a", "lp-b"}, res.Contact.Tags)
	assert.Equal(t, "5511988887777", deref(res.Contact.NormalizedPhone))
	assert.Len(t, store.contacts, 1)
}

func TestFindOrCreateKeepsNameFromOtherSource(t *testing.T) {
	store := newMemoryStore()
	store.add(Contact{Name: "Ana Souza", NormalizedEmail: strPtr("ana@x.com"), Source: "asaas"})
	svc := newTestService(store)

	res, err := svc.FindOrCreate(context.Background(), Input{Name: "Aninha", Email: "ana@x.com", Source: "lead:landing"})

	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", res.Contact.Name)
	assert.False(t, res.Updated)
}

func TestFindOrCreatePropagatesAmbiguity(t *testing.T) {
	store := newMemoryStore()
	store.add(Contact{Name: "Lucas A"})
	store.add(Contact{Name: "Lucas B"})
	svc := newTestService(store)

	_, err := svc.FindOrCreate(context.Background(), Input{Name: "Lucas"})
	assert.ErrorIs(t, err, ErrAmbiguous)
	assert.Len(t, store.contacts, 2)
}

func TestFindOrCreateRejectsEmptyIdentity(t *testing.T) {
	svc := newTestService(newMemoryStore())
	_, err := svc.FindOrCreate(context.Background(), Input{Source: "asaas"})
	assert.Error(t, err)
}

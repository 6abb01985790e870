package contacts

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// memoryStore is an in-memory Lookup and Writer.
type memoryStore struct {
	contacts []Contact
	clock    time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *memoryStore) tick() time.Time {
	m.clock = m.clock.Add(time.Minute)
	return m.clock
}

func (m *memoryStore) add(c Contact) Contact {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := m.tick()
	c.CreatedAt, c.UpdatedAt = now, now
	m.contacts = append(m.contacts, c)
	return c
}

func (m *memoryStore) FindByExternalID(_ context.Context, externalID string) (*Contact, error) {
	for i := range m.contacts {
		if deref(m.contacts[i].ExternalID) == externalID {
			c := m.contacts[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) FindByEmail(_ context.Context, email string) ([]Contact, error) {
	return m.filter(func(c Contact) bool { return deref(c.NormalizedEmail) == email }), nil
}

func (m *memoryStore) FindByPhoneSuffix(_ context.Context, suffix string) ([]Contact, error) {
	return m.filter(func(c Contact) bool {
		return c.NormalizedPhone != nil && strings.HasSuffix(*c.NormalizedPhone, suffix)
	}), nil
}

func (m *memoryStore) FindByNamePrefix(_ context.Context, first string) ([]Contact, error) {
	return m.filter(func(c Contact) bool { return strings.HasPrefix(strings.ToLower(c.Name), first) }), nil
}

func (m *memoryStore) Create(_ context.Context, n NewContact) (Contact, error) {
	if n.ExternalID != nil {
		if existing, _ := m.FindByExternalID(context.Background(), *n.ExternalID); existing != nil {
			return *existing, nil
		}
	}
	return m.add(Contact{
		ExternalID:      n.ExternalID,
		Name:            n.Name,
		Email:           n.Email,
		NormalizedEmail: n.NormalizedEmail,
		DisplayPhone:    n.DisplayPhone,
		NormalizedPhone: n.NormalizedPhone,
		Tags:            n.Tags,
		Source:          n.Source,
	}), nil
}

func (m *memoryStore) Update(_ context.Context, id uuid.UUID, u ContactUpdate) (Contact, error) {
	for i := range m.contacts {
		c := &m.contacts[i]
		if c.ID != id {
			continue
		}
		if u.Name != nil {
			c.Name = *u.Name
		}
		if u.Email != nil {
			c.Email = u.Email
		}
		if u.NormalizedEmail != nil {
			c.NormalizedEmail = u.NormalizedEmail
		}
		if u.DisplayPhone != nil {
			c.DisplayPhone = u.DisplayPhone
		}
		if u.NormalizedPhone != nil {
			c.NormalizedPhone = u.NormalizedPhone
		}
		if u.Tags != nil {
			c.Tags = u.Tags
		}
		c.UpdatedAt = m.tick()
		return *c, nil
	}
	return Contact{}, ErrNotFound
}

func (m *memoryStore) filter(keep func(Contact) bool) []Contact {
	var out []Contact
	for _, c := range m.contacts {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

func strPtr(s string) *string { return &s }

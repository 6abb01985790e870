package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"salesops_backend/platform/logger"
	"salesops_backend/platform/phone"
	"salesops_backend/platform/sanitize"

	"github.com/google/uuid"
)

const maxNameLength = 200

// Writer is the write side of the contact store.
type Writer interface {
	Create(ctx context.Context, c NewContact) (Contact, error)
	Update(ctx context.Context, id uuid.UUID, u ContactUpdate) (Contact, error)
}

// Input is an identity observed on an inbound event.
type Input struct {
	ExternalID string
	Name       string
	Email      string
	Phone      string
	Tags       []string
	Source     string
}

// Query returns the resolver query for the input.
func (in Input) Query() Query {
	return Query{ExternalID: in.ExternalID, Email: in.Email, Phone: in.Phone, Name: in.Name}
}

// Result describes what FindOrCreate did.
type Result struct {
	Contact  Contact
	Created  bool
	Updated  bool
	Strategy string
}

// Service resolves identities to contacts and keeps them current.
type Service struct {
	resolver   *Resolver
	writer     Writer
	normalizer phone.Normalizer
	log        *logger.Logger
}

// NewService creates a contact service.
func NewService(resolver *Resolver, writer Writer, normalizer phone.Normalizer, log *logger.Logger) *Service {
	return &Service{resolver: resolver, writer: writer, normalizer: normalizer, log: log}
}

// Resolve runs the identity cascade without writing anything.
func (s *Service) Resolve(ctx context.Context, q Query) (Match, error) {
	return s.resolver.Resolve(ctx, q)
}

// FindOrCreate resolves in to a contact, creating one when nothing matched.
// A repeat contact from the same source refreshes name and phone; tags are
// always merged. Ambiguous matches are returned as errors and never guessed.
func (s *Service) FindOrCreate(ctx context.Context, in Input) (Result, error) {
	if in.Query().IsEmpty() {
		return Result{}, fmt.Errorf("contact identity is empty")
	}

	match, err := s.resolver.Resolve(ctx, in.Query())
	switch {
	case err == nil:
		return s.refresh(ctx, match, in)
	case errors.Is(err, ErrNotFound):
		return s.create(ctx, in)
	default:
		return Result{}, err
	}
}

func (s *Service) create(ctx context.Context, in Input) (Result, error) {
	name := cleanName(in.Name)
	if name == "" {
		name = fallbackName(in)
	}

	email := NormalizeEmail(in.Email)
	phoneKey := s.normalizer.Key(in.Phone)

	created, err := s.writer.Create(ctx, NewContact{
		ExternalID:      optional(strings.TrimSpace(in.ExternalID)),
		Name:            name,
		Email:           optional(strings.TrimSpace(in.Email)),
		NormalizedEmail: optional(email),
		DisplayPhone:    optional(s.normalizer.DisplayE164(in.Phone)),
		NormalizedPhone: optional(phoneKey),
		Tags:            mergeTags(nil, in.Tags),
		Source:          in.Source,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create contact: %w", err)
	}

	s.log.Info("contacts: created contact", "contactId", created.ID, "source", in.Source)
	return Result{Contact: created, Created: true}, nil
}

func (s *Service) refresh(ctx context.Context, match Match, in Input) (Result, error) {
	current := match.Contact
	update, changed := s.buildUpdate(current, in)
	if !changed {
		return Result{Contact: current, Strategy: match.Strategy}, nil
	}

	updated, err := s.writer.Update(ctx, current.ID, update)
	if err != nil {
		return Result{}, fmt.Errorf("update contact: %w", err)
	}
	return Result{Contact: updated, Updated: true, Strategy: match.Strategy}, nil
}

func (s *Service) buildUpdate(current Contact, in Input) (ContactUpdate, bool) {
	var u ContactUpdate
	changed := false
	sameSource := in.Source != "" && in.Source == current.Source

	if name := cleanName(in.Name); name != "" && name != current.Name && sameSource {
		u.Name = &name
		changed = true
	}

	if key := s.normalizer.Key(in.Phone); key != "" && key != deref(current.NormalizedPhone) {
		if sameSource || current.NormalizedPhone == nil {
			display := s.normalizer.DisplayE164(in.Phone)
			u.NormalizedPhone = &key
			u.DisplayPhone = &display
			changed = true
		}
	}

	if email := NormalizeEmail(in.Email); email != "" && current.NormalizedEmail == nil {
		raw := strings.TrimSpace(in.Email)
		u.Email = &raw
		u.NormalizedEmail = &email
		changed = true
	}

	if merged := mergeTags(current.Tags, in.Tags); len(merged) != len(current.Tags) {
		u.Tags = merged
		changed = true
	}

	return u, changed
}

func cleanName(name string) string {
	return sanitize.Truncate(sanitize.Text(name), maxNameLength)
}

func fallbackName(in Input) string {
	if email := strings.TrimSpace(in.Email); email != "" {
		return email
	}
	if p := strings.TrimSpace(in.Phone); p != "" {
		return p
	}
	return "Unknown"
}

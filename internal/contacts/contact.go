// Package contacts owns CRM contacts and the cascading identity resolver that maps
// loosely structured webhook payloads onto them.
package contacts

import (
	"errors"
	"strings"
	"time"

	"salesops_backend/platform/phone"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no strategy matched.
	ErrNotFound = errors.New("contact not found")
	// ErrAmbiguous is returned when the weakest signal matched more than one contact.
	ErrAmbiguous = errors.New("contact match is ambiguous")
)

// Contact is a CRM contact row.
type Contact struct {
	ID              uuid.UUID
	ExternalID      *string
	Name            string
	Email           *string
	NormalizedEmail *string
	DisplayPhone    *string
	NormalizedPhone *string
	Tags            []string
	Source          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Query is the best-effort identity extracted from a payload. Every field is optional.
type Query struct {
	ExternalID string
	Email      string
	Phone      string
	Name       string
}

// IsEmpty reports whether the query carries no usable identity at all.
func (q Query) IsEmpty() bool {
	return strings.TrimSpace(q.ExternalID) == "" &&
		strings.TrimSpace(q.Email) == "" &&
		strings.TrimSpace(q.Phone) == "" &&
		strings.TrimSpace(q.Name) == ""
}

// Keys are the canonical comparison values derived from a Query.
type Keys struct {
	ExternalID string
	Email      string
	Phone      string
	FirstName  string
	LastName   string
}

// NormalizeEmail trims and lowercases an email. Blank input yields "".
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// SplitName returns the first token and the remainder of a display name.
func SplitName(name string) (first, last string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// BuildKeys normalizes every identity signal of q.
func BuildKeys(q Query, normalizer phone.Normalizer) Keys {
	first, last := SplitName(q.Name)
	return Keys{
		ExternalID: strings.TrimSpace(q.ExternalID),
		Email:      NormalizeEmail(q.Email),
		Phone:      normalizer.Key(q.Phone),
		FirstName:  strings.ToLower(first),
		LastName:   strings.ToLower(last),
	}
}

// Match is a resolved contact plus the strategy that found it.
type Match struct {
	Contact  Contact
	Strategy string
}

func mergeTags(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, tag := range append(append([]string{}, existing...), incoming...) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

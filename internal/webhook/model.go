// Package webhook is the inbound event pipeline: it stores every delivery,
// deduplicates it by a provider-specific key, resolves the identity behind it
// and drives deal reconciliation and stage automation. Failed events can be
// replayed through the same path.
package webhook

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event statuses. Transitions only move forward, except a replay that moves
// an error event back to processing.
const (
	StatusReceived   = "received"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusDuplicate  = "duplicate"
	StatusSkipped    = "skipped"
	StatusError      = "error"
)

// Response actions.
const (
	ActionCreated   = "created"
	ActionSkipped   = "skipped"
	ActionDuplicate = "duplicate"
	ActionError     = "error"
)

// Event sources.
const (
	SourceAsaas      = "asaas"
	SourceStripe     = "stripe"
	SourceLeadPrefix = "lead:"
)

// Transaction statuses.
const (
	TransactionConfirmed = "confirmed"
	TransactionRefunded  = "refunded"
)

var (
	ErrEndpointNotFound = errors.New("webhook endpoint not found")
	ErrEventNotFound    = errors.New("webhook event not found")
	// ErrContactNotFound marks a payment whose customer matches no contact while
	// an automation rule expects one.
	ErrContactNotFound = errors.New("no contact matches payment customer")
)

// Event is a stored inbound delivery. RawPayload never changes once stored.
// ClaimedAt is when the event last entered processing.
type Event struct {
	ID                uuid.UUID  `json:"id"`
	Source            string     `json:"source"`
	ProviderEventType string     `json:"provider_event_type"`
	DedupeKey         *string    `json:"dedupe_key,omitempty"`
	RawPayload        RawBody    `json:"raw_payload"`
	Status            string     `json:"status"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	ResultRecordID    *string    `json:"result_record_id,omitempty"`
	DuplicateOfID     *uuid.UUID `json:"duplicate_of_id,omitempty"`
	Attempts          int        `json:"attempts"`
	CreatedAt         time.Time  `json:"created_at"`
	ClaimedAt         *time.Time `json:"claimed_at,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
}

// Replayable reports whether the event can be claimed for replay: it failed,
// or it has been in flight since before staleBefore.
func (e Event) Replayable(staleBefore time.Time) bool {
	switch e.Status {
	case StatusError:
		return true
	case StatusReceived, StatusProcessing:
		since := e.CreatedAt
		if e.ClaimedAt != nil {
			since = *e.ClaimedAt
		}
		return since.Before(staleBefore)
	}
	return false
}

// RawBody is a delivery body exactly as received. It renders as JSON when the
// body is valid JSON and as a string otherwise.
type RawBody []byte

func (b RawBody) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	if json.Valid(b) {
		return []byte(b), nil
	}
	return json.Marshal(string(b))
}

func (b *RawBody) UnmarshalJSON(data []byte) error {
	*b = append((*b)[:0], data...)
	return nil
}

// NewEvent is an event about to be recorded.
type NewEvent struct {
	Source            string
	ProviderEventType string
	DedupeKey         string
	RawPayload        RawBody
}

// Recorded is the outcome of RecordOrSkip. When IsNew is false, EventID is the
// duplicate row and Original the first delivery with the same key.
type Recorded struct {
	EventID  uuid.UUID
	IsNew    bool
	Original *Event
}

// Completion is the terminal state written for an event.
type Completion struct {
	Status         string
	ResultRecordID string
	ErrorMessage   string
}

// FailedFilter selects replayable events: errors, plus in-flight events
// claimed before StaleBefore. Zero values disable a filter.
type FailedFilter struct {
	DaysBack    int
	YearMonth   string
	StaleBefore time.Time
	Limit       int
}

// Endpoint is a configurable lead-capture URL.
type Endpoint struct {
	ID              uuid.UUID
	Slug            string
	Name            string
	OriginID        uuid.UUID
	StageID         *uuid.UUID
	RequiredFields  []string
	AuthHeaderName  *string
	AuthHeaderValue *string
	Tags            []string
	IsActive        bool
	LeadsReceived   int64
	LastLeadAt      *time.Time
}

// Source is the event source recorded for deliveries to this endpoint.
func (e Endpoint) Source() string {
	return SourceLeadPrefix + e.Slug
}

// Transaction is an append-only commerce record.
type Transaction struct {
	ID              uuid.UUID
	DedupeKey       string
	Provider        string
	ProductName     string
	ProductCategory string
	GrossValue      float64
	NetValue        float64
	CustomerEmail   *string
	CustomerPhone   *string
	SaleDate        time.Time
	Status          string
	ContactID       *uuid.UUID
	EventID         *uuid.UUID
	CreatedAt       time.Time
}

// NewTransaction holds the values for a transaction insert.
type NewTransaction struct {
	DedupeKey       string
	Provider        string
	ProductName     string
	ProductCategory string
	GrossValue      float64
	NetValue        float64
	CustomerEmail   string
	CustomerPhone   string
	SaleDate        time.Time
	Status          string
	ContactID       *uuid.UUID
	EventID         uuid.UUID
}

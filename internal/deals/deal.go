// Package deals reconciles inbound identities with pipeline deals: it suppresses
// retransmitted leads, refuses to reopen converted identities and picks the
// initial stage from the primary or legacy stage tables.
package deals

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Skip reasons reported when no deal was created.
const (
	SkipContractAlreadyPaid = "contract_already_paid"
)

// Outcomes recorded for every reconciliation.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "recent_duplicate"
	OutcomeSkipped   = "skipped"
)

// ErrDealNotFound is returned when a deal id does not exist.
var ErrDealNotFound = errors.New("deal not found")

// Deal is a pipeline deal row.
type Deal struct {
	ID           uuid.UUID
	ExternalID   string
	ContactID    uuid.UUID
	OriginID     uuid.UUID
	StageID      *uuid.UUID
	OwnerID      *uuid.UUID
	Value        float64
	CustomFields map[string]any
	IsArchived   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Stage is a pipeline stage of one origin.
type Stage struct {
	ID             uuid.UUID
	OriginID       uuid.UUID
	Name           string
	Position       int
	IsContractPaid bool
}

// Request asks the reconciler for a deal of ContactID inside OriginID.
type Request struct {
	ContactID    uuid.UUID
	OriginID     uuid.UUID
	StageID      *uuid.UUID
	ExternalID   string
	Value        float64
	CustomFields map[string]any
	Source       string
}

// Result reports the reconciliation decision. DealID is nil only when the
// event was acknowledged without a deal (see SkipReason).
type Result struct {
	DealID     *uuid.UUID
	Created    bool
	Outcome    string
	SkipReason string
	StageID    *uuid.UUID
	StageFrom  string
	OwnerID    *uuid.UUID
}

// NewDeal holds the values for an insert.
type NewDeal struct {
	ExternalID   string
	ContactID    uuid.UUID
	OriginID     uuid.UUID
	StageID      *uuid.UUID
	OwnerID      *uuid.UUID
	Value        float64
	CustomFields map[string]any
}

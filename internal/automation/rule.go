// Package automation moves deals between pipeline stages in reaction to
// semantic commerce triggers such as a confirmed payment.
package automation

import (
	"errors"

	"github.com/google/uuid"
)

// Trigger sources understood by the rules table.
const (
	TriggerPaymentConfirmed = "payment_confirmed"
)

// Outcome statuses.
const (
	StatusMoved   = "moved"
	StatusSkipped = "skipped"
)

// Skip reasons.
const (
	ReasonNoRule            = "no_rule"
	ReasonNoOpenDeal        = "no_open_deal"
	ReasonTargetStageAbsent = "target_stage_missing"
	ReasonAlreadyInStage    = "already_in_stage"
)

var (
	// ErrAmbiguousDeal is returned when more than one open deal matches the trigger.
	ErrAmbiguousDeal = errors.New("multiple open deals match trigger")
	// ErrStageChanged is returned when the deal moved between read and update.
	ErrStageChanged = errors.New("deal stage changed concurrently")
)

// Rule maps a trigger to a target stage name. A nil ProductCategory or OriginID matches any value.
type Rule struct {
	ID              uuid.UUID
	TriggerSource   string
	ProductCategory *string
	OriginID        *uuid.UUID
	TargetStageName string
	NotifyOwner     bool
	Priority        int
}

// Trigger is a semantic event about a contact.
type Trigger struct {
	Source          string
	ProductCategory string
	ContactID       uuid.UUID
	RawEventRef     string
}

// Outcome describes what Apply did.
type Outcome struct {
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	RuleID      *uuid.UUID `json:"ruleId,omitempty"`
	DealID      *uuid.UUID `json:"dealId,omitempty"`
	FromStageID *uuid.UUID `json:"fromStageId,omitempty"`
	ToStageID   *uuid.UUID `json:"toStageId,omitempty"`
}

// Moved reports whether the deal stage was changed.
func (o Outcome) Moved() bool {
	return o.Status == StatusMoved
}

func skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason}
}

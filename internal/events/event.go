// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"salesops_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Deal Domain Events
// =============================================================================

// DealCreated is published when the reconciler opens a new deal.
type DealCreated struct {
	BaseEvent
	DealID    uuid.UUID  `json:"dealId"`
	ContactID uuid.UUID  `json:"contactId"`
	OriginID  uuid.UUID  `json:"originId"`
	StageID   *uuid.UUID `json:"stageId,omitempty"`
	OwnerID   *uuid.UUID `json:"ownerId,omitempty"`
	Source    string     `json:"source"`
}

func (e DealCreated) EventName() string { return "deals.deal.created" }

// DealStageChanged is published after a stage automation moved a deal.
type DealStageChanged struct {
	BaseEvent
	DealID        uuid.UUID  `json:"dealId"`
	ContactID     uuid.UUID  `json:"contactId"`
	OriginID      uuid.UUID  `json:"originId"`
	FromStageID   *uuid.UUID `json:"fromStageId,omitempty"`
	ToStageID     uuid.UUID  `json:"toStageId"`
	ToStageName   string     `json:"toStageName"`
	OwnerID       *uuid.UUID `json:"ownerId,omitempty"`
	TriggerSource string     `json:"triggerSource"`
	RawEventRef   string     `json:"rawEventRef"`
	NotifyOwner   bool       `json:"notifyOwner"`
}

func (e DealStageChanged) EventName() string { return "deals.stage.changed" }

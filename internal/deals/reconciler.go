package deals

import (
	"context"
	"fmt"
	"time"

	"salesops_backend/internal/events"
	"salesops_backend/platform/logger"
	"salesops_backend/platform/metrics"

	"github.com/google/uuid"
)

// Store is the deal storage the reconciler depends on.
type Store interface {
	StageReader
	FindRecentDeal(ctx context.Context, contactID, originID uuid.UUID, since time.Time) (*Deal, error)
	HasContractPaidDeal(ctx context.Context, contactID, originID uuid.UUID) (bool, error)
	Insert(ctx context.Context, d NewDeal) (Deal, error)
	SetOwner(ctx context.Context, dealID, ownerID uuid.UUID) error
}

// OwnerAssigner picks an owner for a new deal of an origin. It may return nil.
type OwnerAssigner interface {
	AssignOwner(ctx context.Context, originID uuid.UUID) (*uuid.UUID, error)
}

// Reconciler finds or creates the deal for a contact inside an origin.
type Reconciler struct {
	store   Store
	stages  *StageChain
	owners  OwnerAssigner
	bus     events.Bus
	window  time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewReconciler creates a reconciler. window is the duplicate-suppression period.
func NewReconciler(store Store, owners OwnerAssigner, bus events.Bus, window time.Duration, m *metrics.Metrics, log *logger.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		stages:  NewStageChain(store),
		owners:  owners,
		bus:     bus,
		window:  window,
		now:     time.Now,
		metrics: m,
		log:     log,
	}
}

// SetClock replaces the time source.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// ResolveOrCreateDeal returns the existing deal created within the window, refuses
// identities already converted in the origin, or creates a new deal. The owner
// is assigned only after the insert succeeds, so a failed insert never advances
// the distribution counters.
func (r *Reconciler) ResolveOrCreateDeal(ctx context.Context, req Request) (Result, error) {
	res, done, err := r.precheck(ctx, req)
	if err != nil || done {
		return res, err
	}

	stageID, stageFrom := r.resolveStage(ctx, req)

	externalID := req.ExternalID
	if externalID == "" {
		externalID = uuid.NewString()
	}

	deal, err := r.store.Insert(ctx, NewDeal{
		ExternalID:   externalID,
		ContactID:    req.ContactID,
		OriginID:     req.OriginID,
		StageID:      stageID,
		Value:        req.Value,
		CustomFields: req.CustomFields,
	})
	if err != nil {
		return Result{}, fmt.Errorf("insert deal: %w", err)
	}
	deal.OwnerID = r.assignOwner(ctx, deal.ID, req.OriginID)

	r.metrics.RecordDealOutcome(OutcomeCreated)
	r.log.Info("deals: created deal", "dealId", deal.ID, "contactId", req.ContactID, "originId", req.OriginID, "stageSource", stageFrom)

	if r.bus != nil {
		r.bus.Publish(ctx, events.DealCreated{
			BaseEvent: events.NewBaseEvent(),
			DealID:    deal.ID,
			ContactID: deal.ContactID,
			OriginID:  deal.OriginID,
			StageID:   deal.StageID,
			OwnerID:   deal.OwnerID,
			Source:    req.Source,
		})
	}

	return Result{
		DealID:    &deal.ID,
		Created:   true,
		Outcome:   OutcomeCreated,
		StageID:   deal.StageID,
		StageFrom: stageFrom,
		OwnerID:   deal.OwnerID,
	}, nil
}

// Preview runs the same decisions as ResolveOrCreateDeal without writing or assigning an owner.
func (r *Reconciler) Preview(ctx context.Context, req Request) (Result, error) {
	res, done, err := r.precheck(ctx, req)
	if err != nil || done {
		return res, err
	}

	stageID, stageFrom := r.resolveStage(ctx, req)
	return Result{Created: true, Outcome: OutcomeCreated, StageID: stageID, StageFrom: stageFrom}, nil
}

// precheck applies the duplicate window and the contract-paid guard. done is
// true when the result is final and no deal must be created.
func (r *Reconciler) precheck(ctx context.Context, req Request) (Result, bool, error) {
	if req.ContactID == uuid.Nil || req.OriginID == uuid.Nil {
		return Result{}, true, fmt.Errorf("contact and origin are required")
	}

	since := r.now().Add(-r.window)
	recent, err := r.store.FindRecentDeal(ctx, req.ContactID, req.OriginID, since)
	if err != nil {
		return Result{}, true, fmt.Errorf("find recent deal: %w", err)
	}
	if recent != nil {
		r.metrics.RecordDealOutcome(OutcomeDuplicate)
		return Result{
			DealID:  &recent.ID,
			Outcome: OutcomeDuplicate,
			StageID: recent.StageID,
			OwnerID: recent.OwnerID,
		}, true, nil
	}

	paid, err := r.store.HasContractPaidDeal(ctx, req.ContactID, req.OriginID)
	if err != nil {
		return Result{}, true, fmt.Errorf("check contract paid: %w", err)
	}
	if paid {
		r.metrics.RecordDealOutcome(OutcomeSkipped)
		return Result{Outcome: OutcomeSkipped, SkipReason: SkipContractAlreadyPaid}, true, nil
	}

	return Result{}, false, nil
}

func (r *Reconciler) resolveStage(ctx context.Context, req Request) (*uuid.UUID, string) {
	stageID, from, err := r.stages.Resolve(ctx, req.OriginID, req.StageID)
	if err != nil {
		r.log.Warn("deals: stage resolution failed, creating deal without stage", "error", err, "originId", req.OriginID)
		return nil, StageSourceNone
	}
	return stageID, from
}

func (r *Reconciler) assignOwner(ctx context.Context, dealID, originID uuid.UUID) *uuid.UUID {
	if r.owners == nil {
		return nil
	}
	ownerID, err := r.owners.AssignOwner(ctx, originID)
	if err != nil {
		r.log.Warn("deals: owner assignment failed", "error", err, "originId", originID)
		return nil
	}
	if ownerID == nil {
		return nil
	}
	if err := r.store.SetOwner(ctx, dealID, *ownerID); err != nil {
		r.log.Warn("deals: failed to store deal owner", "error", err, "dealId", dealID, "ownerId", *ownerID)
		return nil
	}
	return ownerID
}

package automation

import (
	"context"
	"fmt"

	"salesops_backend/internal/deals"
	"salesops_backend/platform/logger"
	"salesops_backend/platform/metrics"

	"github.com/google/uuid"
)

// StatusWouldMove is reported by Preview in place of StatusMoved.
const StatusWouldMove = "would_move"

// RuleStore finds the rule for a trigger. It returns nil when none applies.
type RuleStore interface {
	FindRule(ctx context.Context, source, category string) (*Rule, error)
}

// DealStore is the deal access the engine needs. Satisfied by deals.Repository.
type DealStore interface {
	ListOpenDeals(ctx context.Context, contactID uuid.UUID, originID *uuid.UUID) ([]deals.Deal, error)
	FindStageByName(ctx context.Context, originID uuid.UUID, name string) (*deals.Stage, error)
	UpdateStage(ctx context.Context, dealID uuid.UUID, fromStage *uuid.UUID, toStage uuid.UUID) (bool, error)
}

// Engine applies stage automation rules.
type Engine struct {
	rules    RuleStore
	deals    DealStore
	pipeline *Pipeline
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewEngine creates an engine. pipeline may be nil.
func NewEngine(rules RuleStore, store DealStore, pipeline *Pipeline, m *metrics.Metrics, log *logger.Logger) *Engine {
	return &Engine{rules: rules, deals: store, pipeline: pipeline, metrics: m, log: log}
}

// Covers reports whether an active rule exists for the trigger source and category.
func (e *Engine) Covers(ctx context.Context, source, category string) (bool, error) {
	rule, err := e.rules.FindRule(ctx, source, category)
	if err != nil {
		return false, fmt.Errorf("find automation rule: %w", err)
	}
	return rule != nil, nil
}

// Apply moves the contact's deal to the stage named by the matching rule. The
// stage update is the durable fact: post-commit failures never undo it.
func (e *Engine) Apply(ctx context.Context, trig Trigger) (Outcome, error) {
	plan, out, err := e.plan(ctx, trig)
	if err != nil || plan == nil {
		e.record(trig.Source, out, err)
		return out, err
	}

	ok, err := e.deals.UpdateStage(ctx, plan.Deal.ID, plan.FromStageID, plan.ToStage.ID)
	if err != nil {
		err = fmt.Errorf("update deal stage: %w", err)
		e.record(trig.Source, out, err)
		return Outcome{}, err
	}
	if !ok {
		e.record(trig.Source, out, ErrStageChanged)
		return Outcome{}, ErrStageChanged
	}

	out.Status = StatusMoved
	e.record(trig.Source, out, nil)
	e.log.Info("automation: deal moved",
		"dealId", plan.Deal.ID,
		"toStage", plan.ToStage.Name,
		"trigger", trig.Source,
		"rawEventRef", trig.RawEventRef,
	)

	if e.pipeline != nil {
		e.pipeline.Run(ctx, *plan)
	}
	return out, nil
}

// Preview evaluates the same conditions as Apply without writing.
func (e *Engine) Preview(ctx context.Context, trig Trigger) (Outcome, error) {
	plan, out, err := e.plan(ctx, trig)
	if err != nil || plan == nil {
		return out, err
	}
	out.Status = StatusWouldMove
	return out, nil
}

// plan returns a nil Transition with a skip outcome when nothing should move.
func (e *Engine) plan(ctx context.Context, trig Trigger) (*Transition, Outcome, error) {
	rule, err := e.rules.FindRule(ctx, trig.Source, trig.ProductCategory)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("find automation rule: %w", err)
	}
	if rule == nil {
		return nil, skipped(ReasonNoRule), nil
	}
	ruleID := rule.ID

	open, err := e.deals.ListOpenDeals(ctx, trig.ContactID, rule.OriginID)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("list open deals: %w", err)
	}
	switch {
	case len(open) == 0:
		out := skipped(ReasonNoOpenDeal)
		out.RuleID = &ruleID
		return nil, out, nil
	case len(open) > 1:
		return nil, Outcome{}, fmt.Errorf("%w: contact %s has %d", ErrAmbiguousDeal, trig.ContactID, len(open))
	}
	deal := open[0]
	dealID := deal.ID

	target, err := e.deals.FindStageByName(ctx, deal.OriginID, rule.TargetStageName)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("find target stage: %w", err)
	}
	if target == nil {
		e.log.Warn("automation: target stage missing in origin",
			"stage", rule.TargetStageName,
			"originId", deal.OriginID,
			"ruleId", rule.ID,
		)
		return nil, Outcome{Status: StatusSkipped, Reason: ReasonTargetStageAbsent, RuleID: &ruleID, DealID: &dealID}, nil
	}

	toID := target.ID
	out := Outcome{RuleID: &ruleID, DealID: &dealID, FromStageID: deal.StageID, ToStageID: &toID}
	if deal.StageID != nil && *deal.StageID == target.ID {
		out.Status = StatusSkipped
		out.Reason = ReasonAlreadyInStage
		return nil, out, nil
	}

	return &Transition{
		Deal:        deal,
		FromStageID: deal.StageID,
		ToStage:     *target,
		Rule:        *rule,
		Trigger:     trig,
	}, out, nil
}

func (e *Engine) record(trigger string, out Outcome, err error) {
	switch {
	case err != nil:
		e.metrics.RecordStageTransition(trigger, "error")
	case out.Status == StatusSkipped:
		e.metrics.RecordStageTransition(trigger, out.Reason)
	default:
		e.metrics.RecordStageTransition(trigger, out.Status)
	}
}

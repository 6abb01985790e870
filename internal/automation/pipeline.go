package automation

import (
	"context"
	"fmt"
	"runtime/debug"

	"salesops_backend/internal/deals"
	"salesops_backend/internal/events"
	"salesops_backend/platform/logger"
	"salesops_backend/platform/metrics"

	"github.com/google/uuid"
)

const activityKindStageChange = "stage_change"

// Transition is a committed stage change handed to the post-commit steps.
type Transition struct {
	Deal        deals.Deal
	FromStageID *uuid.UUID
	ToStage     deals.Stage
	Rule        Rule
	Trigger     Trigger
}

// Step is one best-effort action after a stage change.
type Step interface {
	Name() string
	Run(ctx context.Context, t Transition) error
}

// ActivityWriter appends deal audit rows.
type ActivityWriter interface {
	InsertActivity(ctx context.Context, a deals.Activity) error
}

// Pipeline runs steps in order. Every step has its own failure boundary: an
// error or panic is logged and counted, and the next step still runs.
type Pipeline struct {
	steps   []Step
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewPipeline creates a post-commit pipeline.
func NewPipeline(m *metrics.Metrics, log *logger.Logger, steps ...Step) *Pipeline {
	return &Pipeline{steps: steps, metrics: m, log: log}
}

// Run executes every step and returns the names of the ones that failed.
func (p *Pipeline) Run(ctx context.Context, t Transition) []string {
	var failed []string
	for _, step := range p.steps {
		if err := p.runStep(ctx, step, t); err != nil {
			failed = append(failed, step.Name())
			p.metrics.RecordPostCommitFailure(step.Name())
			p.log.Error("automation: post-commit step failed",
				"step", step.Name(),
				"error", err,
				"dealId", t.Deal.ID,
				"rawEventRef", t.Trigger.RawEventRef,
			)
		}
	}
	return failed
}

func (p *Pipeline) runStep(ctx context.Context, step Step, t Transition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return step.Run(ctx, t)
}

type activityStep struct{ writer ActivityWriter }

// ActivityStep records the immutable audit row for the transition.
func ActivityStep(writer ActivityWriter) Step { return activityStep{writer: writer} }

func (activityStep) Name() string { return "activity" }

func (s activityStep) Run(ctx context.Context, t Transition) error {
	to := t.ToStage.ID
	return s.writer.InsertActivity(ctx, deals.Activity{
		DealID:        t.Deal.ID,
		Kind:          activityKindStageChange,
		FromStageID:   t.FromStageID,
		ToStageID:     &to,
		TriggerSource: t.Trigger.Source,
		RawEventRef:   t.Trigger.RawEventRef,
		Metadata: map[string]any{
			"ruleId":          t.Rule.ID,
			"productCategory": t.Trigger.ProductCategory,
			"toStageName":     t.ToStage.Name,
		},
	})
}

type notifyStep struct{ bus events.Bus }

// NotifyStep publishes DealStageChanged synchronously so handler failures
// surface in the pipeline instead of a background goroutine.
func NotifyStep(bus events.Bus) Step { return notifyStep{bus: bus} }

func (notifyStep) Name() string { return "notify" }

func (s notifyStep) Run(ctx context.Context, t Transition) error {
	return s.bus.PublishSync(ctx, events.DealStageChanged{
		BaseEvent:     events.NewBaseEvent(),
		DealID:        t.Deal.ID,
		ContactID:     t.Deal.ContactID,
		OriginID:      t.Deal.OriginID,
		FromStageID:   t.FromStageID,
		ToStageID:     t.ToStage.ID,
		ToStageName:   t.ToStage.Name,
		OwnerID:       t.Deal.OwnerID,
		TriggerSource: t.Trigger.Source,
		RawEventRef:   t.Trigger.RawEventRef,
		NotifyOwner:   t.Rule.NotifyOwner,
	})
}

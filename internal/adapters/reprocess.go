package adapters

import (
	"context"
	"fmt"

	"salesops_backend/internal/scheduler"
	"salesops_backend/internal/webhook"
	"salesops_backend/platform/logger"

	"github.com/google/uuid"
)

// ReprocessEnqueuer is satisfied by scheduler.Client.
type ReprocessEnqueuer interface {
	EnqueueReprocess(ctx context.Context, payload scheduler.ReprocessPayload) (string, error)
}

// ReprocessQueue lets the webhook admin API queue replays on the worker.
type ReprocessQueue struct {
	client ReprocessEnqueuer
}

func NewReprocessQueue(client ReprocessEnqueuer) *ReprocessQueue {
	return &ReprocessQueue{client: client}
}

func (q *ReprocessQueue) EnqueueReprocess(ctx context.Context, req webhook.ReprocessRequest) (string, error) {
	ids := make([]string, 0, len(req.WebhookIDs)+1)
	if req.WebhookID != nil {
		ids = append(ids, req.WebhookID.String())
	}
	for _, id := range req.WebhookIDs {
		ids = append(ids, id.String())
	}

	return q.client.EnqueueReprocess(ctx, scheduler.ReprocessPayload{
		WebhookIDs: ids,
		All:        req.All,
		DryRun:     req.DryRun,
		DaysBack:   req.DaysBack,
		YearMonth:  req.YearMonth,
		Trigger:    scheduler.TriggerAdmin,
	})
}

// Reprocessor is satisfied by webhook.Service.
type Reprocessor interface {
	Reprocess(ctx context.Context, req webhook.ReprocessRequest) (webhook.ReprocessReport, error)
}

// ReprocessRunner executes queued replay batches for the scheduler worker.
type ReprocessRunner struct {
	svc Reprocessor
	log *logger.Logger
}

func NewReprocessRunner(svc Reprocessor, log *logger.Logger) *ReprocessRunner {
	return &ReprocessRunner{svc: svc, log: log}
}

// RunReprocess fails only when the batch itself could not run. Per-event
// failures stay on their events and are picked up by the next sweep.
func (r *ReprocessRunner) RunReprocess(ctx context.Context, payload scheduler.ReprocessPayload) error {
	req := webhook.ReprocessRequest{
		All:       payload.All,
		DryRun:    payload.DryRun,
		DaysBack:  payload.DaysBack,
		YearMonth: payload.YearMonth,
	}
	for _, raw := range payload.WebhookIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("reprocess payload: invalid webhook id %q: %w", raw, err)
		}
		req.WebhookIDs = append(req.WebhookIDs, id)
	}

	report, err := r.svc.Reprocess(ctx, req)
	if err != nil {
		return fmt.Errorf("reprocess batch: %w", err)
	}

	r.log.Info("adapters: reprocess batch finished",
		"trigger", payload.Trigger,
		"processed", report.Processed,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"truncated", report.Truncated,
	)
	return nil
}

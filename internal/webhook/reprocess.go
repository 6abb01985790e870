package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"salesops_backend/platform/apperr"

	"github.com/google/uuid"
)

// Reprocess result labels.
const (
	ReplaySucceeded = "succeeded"
	ReplayFailed    = "failed"
	ReplaySkipped   = "skipped"
)

// ReprocessRequest selects error events to replay.
type ReprocessRequest struct {
	WebhookID  *uuid.UUID  `json:"webhook_id"`
	WebhookIDs []uuid.UUID `json:"webhook_ids" validate:"max=1000"`
	All        bool        `json:"all"`
	DryRun     bool        `json:"dry_run"`
	DaysBack   int         `json:"days_back" validate:"gte=0,lte=3650"`
	YearMonth  string      `json:"year_month" validate:"omitempty,datetime=2006-01"`
	Async      bool        `json:"async"`
}

// ReprocessResult is the outcome for one event.
type ReprocessResult struct {
	ID       uuid.UUID `json:"id"`
	Success  bool      `json:"success"`
	Result   string    `json:"result"`
	Status   string    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	Decision *Response `json:"decision,omitempty"`
}

// ReprocessReport aggregates a batch. Truncated is set when an all-events
// selection had more matches than one batch takes; run it again for the rest.
type ReprocessReport struct {
	DryRun    bool              `json:"dry_run"`
	Results   []ReprocessResult `json:"results"`
	Processed int               `json:"processed"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Truncated bool              `json:"truncated"`
}

// ReprocessBatchLimit caps how many events one all-events selection takes.
const ReprocessBatchLimit = defaultFailedLimit

// ListFailed returns replayable events from the trailing days window: errors
// and events whose processing lease has expired.
func (s *Service) ListFailed(ctx context.Context, f FailedFilter) ([]Event, error) {
	if f.StaleBefore.IsZero() {
		f.StaleBefore = s.staleBefore()
	}
	return s.store.ListFailed(ctx, f)
}

// Reprocess replays each selected error event independently. One event's
// failure never stops the batch. In dry-run mode nothing is written and the
// decisions are returned instead.
func (s *Service) Reprocess(ctx context.Context, req ReprocessRequest) (ReprocessReport, error) {
	ids, truncated, err := s.selectEvents(ctx, req)
	if err != nil {
		return ReprocessReport{}, err
	}

	report := ReprocessReport{DryRun: req.DryRun, Truncated: truncated, Results: make([]ReprocessResult, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := s.replayOne(ctx, id, req.DryRun)
		report.Results = append(report.Results, res)
		report.Processed++
		switch res.Result {
		case ReplaySucceeded:
			report.Succeeded++
		case ReplaySkipped:
			report.Skipped++
		default:
			report.Failed++
		}
		s.metrics.RecordReprocess(res.Result, req.DryRun)
	}

	s.log.Info("webhook: reprocess finished",
		"dryRun", req.DryRun,
		"processed", report.Processed,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"truncated", report.Truncated,
	)
	return report, nil
}

// selectEvents resolves the request to event ids. It reports truncated when
// the all-events selection matched more than ReprocessBatchLimit events.
func (s *Service) selectEvents(ctx context.Context, req ReprocessRequest) ([]uuid.UUID, bool, error) {
	if req.WebhookID == nil && len(req.WebhookIDs) == 0 && !req.All {
		return nil, false, apperr.Validation("webhook_id, webhook_ids or all is required")
	}

	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if id != uuid.Nil && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if req.WebhookID != nil {
		add(*req.WebhookID)
	}
	for _, id := range req.WebhookIDs {
		add(id)
	}
	truncated := false
	if req.All {
		events, err := s.ListFailed(ctx, FailedFilter{
			DaysBack:  req.DaysBack,
			YearMonth: req.YearMonth,
			Limit:     ReprocessBatchLimit + 1,
		})
		if err != nil {
			return nil, false, fmt.Errorf("list failed events: %w", err)
		}
		if len(events) > ReprocessBatchLimit {
			events = events[:ReprocessBatchLimit]
			truncated = true
		}
		for _, e := range events {
			add(e.ID)
		}
	}

	return ids, truncated, nil
}

func (s *Service) replayOne(ctx context.Context, id uuid.UUID, dryRun bool) ReprocessResult {
	if dryRun {
		return s.previewOne(ctx, id)
	}

	event, err := s.store.ClaimForReplay(ctx, id, s.staleBefore())
	if err != nil {
		return failedResult(id, fmt.Errorf("claim event: %w", err))
	}
	if event == nil {
		return s.unclaimable(ctx, id)
	}

	resp, runErr := s.replay(ctx, *event, false)
	resp.EventID = event.ID
	status, out, err := s.finish(ctx, event.ID, resp, runErr)
	if err == nil && out.Success {
		return ReprocessResult{ID: id, Success: true, Result: ReplaySucceeded, Status: status, Decision: &out}
	}
	if err == nil {
		err = errors.New(out.Error)
	}
	return ReprocessResult{ID: id, Result: ReplayFailed, Status: status, Error: err.Error()}
}

func (s *Service) previewOne(ctx context.Context, id uuid.UUID) ReprocessResult {
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return failedResult(id, err)
	}
	if !event.Replayable(s.staleBefore()) {
		return ReprocessResult{ID: id, Success: true, Result: ReplaySkipped, Status: event.Status}
	}

	resp, err := s.replay(ctx, event, true)
	resp.EventID = event.ID
	if err != nil {
		return ReprocessResult{ID: id, Result: ReplayFailed, Status: event.Status, Error: err.Error()}
	}
	return ReprocessResult{ID: id, Success: true, Result: ReplaySucceeded, Status: event.Status, Decision: &resp}
}

// unclaimable explains why an event could not be claimed: it is gone, or it is
// no longer replayable (already replayed or being processed within its lease).
func (s *Service) unclaimable(ctx context.Context, id uuid.UUID) ReprocessResult {
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return failedResult(id, err)
	}
	return ReprocessResult{ID: id, Success: true, Result: ReplaySkipped, Status: event.Status}
}

// replay decodes the stored payload and runs it through the live path.
func (s *Service) replay(ctx context.Context, event Event, dryRun bool) (Response, error) {
	var endpoint *Endpoint
	if strings.HasPrefix(event.Source, SourceLeadPrefix) {
		e, err := s.store.GetEndpointBySlug(ctx, strings.TrimPrefix(event.Source, SourceLeadPrefix))
		if err != nil {
			return Response{}, fmt.Errorf("load endpoint: %w", err)
		}
		endpoint = &e
	}

	payload, err := s.decoder.Decode(event.Source, event.RawPayload, endpoint)
	if err != nil {
		return Response{}, err
	}
	return s.safeExecute(ctx, event.ID, payload, endpoint, dryRun)
}

func failedResult(id uuid.UUID, err error) ReprocessResult {
	return ReprocessResult{ID: id, Result: ReplayFailed, Error: err.Error()}
}

package webhook

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"salesops_backend/internal/automation"
	"salesops_backend/internal/contacts"
	"salesops_backend/internal/deals"
	"salesops_backend/platform/apperr"
	"salesops_backend/platform/logger"
	"salesops_backend/platform/metrics"

	"github.com/google/uuid"
)

// Skip reasons reported in responses.
const (
	ReasonUnsupportedEvent = "unsupported_event"
	ReasonTestLead         = "test_lead"
	ReasonRecentDuplicate  = "recent_duplicate"
	ReasonRefundRecorded   = "refund_recorded"
	ReasonContactNotFound  = "contact_not_found"
	ReasonContactWouldNew  = "contact_would_be_created"
	ReasonPaymentRecorded  = "payment_already_recorded"
)

const defaultProcessingLease = 15 * time.Minute

// EventStore persists inbound deliveries.
type EventStore interface {
	RecordOrSkip(ctx context.Context, e NewEvent) (Recorded, error)
	RecordTerminal(ctx context.Context, e NewEvent, c Completion) (uuid.UUID, error)
	Transition(ctx context.Context, id uuid.UUID, from []string, next string) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, c Completion) (bool, error)
	ClaimForReplay(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*Event, error)
	GetEvent(ctx context.Context, id uuid.UUID) (Event, error)
	ListFailed(ctx context.Context, f FailedFilter) ([]Event, error)
}

// EndpointStore reads lead endpoints and keeps their counters.
type EndpointStore interface {
	GetEndpointBySlug(ctx context.Context, slug string) (Endpoint, error)
	IncrementLeadsReceived(ctx context.Context, endpointID uuid.UUID) error
}

// CommerceStore records transactions.
type CommerceStore interface {
	InsertTransaction(ctx context.Context, t NewTransaction) (Transaction, bool, error)
	CategorizeProduct(ctx context.Context, productName string) (string, error)
}

// Store is everything the pipeline persists. Satisfied by Repository.
type Store interface {
	EventStore
	EndpointStore
	CommerceStore
}

// ContactResolver is satisfied by contacts.Service.
type ContactResolver interface {
	FindOrCreate(ctx context.Context, in contacts.Input) (contacts.Result, error)
	Resolve(ctx context.Context, q contacts.Query) (contacts.Match, error)
}

// DealReconciler is satisfied by deals.Reconciler.
type DealReconciler interface {
	ResolveOrCreateDeal(ctx context.Context, req deals.Request) (deals.Result, error)
	Preview(ctx context.Context, req deals.Request) (deals.Result, error)
}

// StageAutomation is satisfied by automation.Engine.
type StageAutomation interface {
	Apply(ctx context.Context, trig automation.Trigger) (automation.Outcome, error)
	Preview(ctx context.Context, trig automation.Trigger) (automation.Outcome, error)
	Covers(ctx context.Context, source, category string) (bool, error)
}

// Inbound is one HTTP delivery.
type Inbound struct {
	Source   string
	Endpoint *Endpoint
	Body     []byte
}

// Response is returned to the caller for every handled outcome.
type Response struct {
	Success       bool                `json:"success"`
	Action        string              `json:"action"`
	Duplicate     bool                `json:"duplicate,omitempty"`
	EventID       uuid.UUID           `json:"event_id"`
	TransactionID string              `json:"transaction_id,omitempty"`
	ContactID     *uuid.UUID          `json:"contact_id,omitempty"`
	DealID        *uuid.UUID          `json:"deal_id,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	Error         string              `json:"error,omitempty"`
	Automation    *automation.Outcome `json:"automation,omitempty"`
}

// Service runs inbound events through identity resolution, deal
// reconciliation and stage automation.
type Service struct {
	store      Store
	decoder    *Decoder
	contacts   ContactResolver
	deals      DealReconciler
	automation StageAutomation
	metrics    *metrics.Metrics
	log        *logger.Logger
	lease      time.Duration
	now        func() time.Time
}

// NewService creates a new webhook service.
func NewService(store Store, decoder *Decoder, contactResolver ContactResolver, reconciler DealReconciler, engine StageAutomation, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		store:      store,
		decoder:    decoder,
		contacts:   contactResolver,
		deals:      reconciler,
		automation: engine,
		metrics:    m,
		log:        log,
		lease:      defaultProcessingLease,
		now:        time.Now,
	}
}

// SetProcessingLease sets how long an event may stay in flight before replay
// treats it as abandoned.
func (s *Service) SetProcessingLease(d time.Duration) {
	if d > 0 {
		s.lease = d
	}
}

// SetClock overrides the time source. Used in tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) staleBefore() time.Time {
	return s.now().Add(-s.lease)
}

// Endpoint looks up an active lead endpoint.
func (s *Service) Endpoint(ctx context.Context, slug string) (Endpoint, error) {
	e, err := s.store.GetEndpointBySlug(ctx, slug)
	if errors.Is(err, ErrEndpointNotFound) {
		return Endpoint{}, apperr.NotFound("webhook endpoint not found")
	}
	return e, err
}

// Ingest stores the delivery and processes it. Every call that gets past
// decoding writes exactly one event row.
func (s *Service) Ingest(ctx context.Context, in Inbound) (Response, error) {
	start := time.Now()
	payload, decodeErr := s.decoder.Decode(in.Source, in.Body, in.Endpoint)
	event := NewEvent{Source: in.Source, ProviderEventType: eventType(payload), RawPayload: in.Body}

	if decodeErr != nil {
		var verr *ValidationError
		if !errors.As(decodeErr, &verr) {
			return Response{}, decodeErr
		}
		id, err := s.store.RecordTerminal(ctx, event, Completion{Status: StatusSkipped, ErrorMessage: verr.Error()})
		if err != nil {
			s.log.Error("webhook: failed to record rejected event", "error", err, "source", in.Source)
		}
		s.observe(in.Source, id, StatusSkipped, start)
		return Response{}, apperr.Validation(verr.Message).WithDetails(map[string]any{"fields": verr.Fields, "event_id": id})
	}

	if reason := skipReason(payload); reason != "" {
		id, err := s.store.RecordTerminal(ctx, event, Completion{Status: StatusSkipped, ErrorMessage: reason})
		if err != nil {
			return Response{}, fmt.Errorf("record skipped event: %w", err)
		}
		s.observe(in.Source, id, StatusSkipped, start)
		return Response{Success: true, Action: ActionSkipped, EventID: id, Reason: reason}, nil
	}

	event.DedupeKey = payload.DedupeKey()
	rec, err := s.store.RecordOrSkip(ctx, event)
	if err != nil {
		return Response{}, err
	}
	if !rec.IsNew {
		s.log.Info("webhook: duplicate delivery", "source", in.Source, "dedupeKey", event.DedupeKey, "originalId", rec.Original.ID)
		s.observe(in.Source, rec.EventID, StatusDuplicate, start)
		return duplicateResponse(in.Source, rec), nil
	}

	if _, err := s.store.Transition(ctx, rec.EventID, []string{StatusReceived}, StatusProcessing); err != nil {
		s.log.Error("webhook: failed to mark event processing", "error", err, "eventId", rec.EventID)
	}

	resp, runErr := s.safeExecute(ctx, rec.EventID, payload, in.Endpoint, false)
	resp.EventID = rec.EventID
	status, out, err := s.finish(ctx, rec.EventID, resp, runErr)
	s.observe(in.Source, rec.EventID, status, start)
	return out, err
}

// finish writes the terminal status and shapes the caller-facing result.
func (s *Service) finish(ctx context.Context, eventID uuid.UUID, resp Response, runErr error) (string, Response, error) {
	completion := Completion{ResultRecordID: resultRecordID(resp)}
	var verr *ValidationError

	switch {
	case runErr == nil:
		completion.Status = StatusSuccess
		switch resp.Action {
		case ActionSkipped:
			completion.Status = StatusSkipped
			completion.ErrorMessage = resp.Reason
		case ActionDuplicate:
			completion.Status = StatusDuplicate
			completion.ErrorMessage = resp.Reason
		}
	case errors.As(runErr, &verr):
		completion.Status = StatusSkipped
		completion.ErrorMessage = verr.Error()
	default:
		completion.Status = StatusError
		completion.ErrorMessage = runErr.Error()
	}

	// An event left in processing here is picked up by replay once its lease expires.
	if ok, err := s.store.Complete(ctx, eventID, completion); err != nil {
		s.log.Error("webhook: failed to complete event", "error", err, "eventId", eventID, "status", completion.Status)
	} else if !ok {
		s.log.Warn("webhook: event left its in-flight status before completion", "eventId", eventID)
	}

	switch {
	case runErr == nil:
		return completion.Status, resp, nil
	case verr != nil:
		return completion.Status, resp, apperr.Validation(verr.Message).WithDetails(map[string]any{"fields": verr.Fields, "event_id": eventID})
	case isResolutionError(runErr):
		s.log.Warn("webhook: identity resolution failed", "error", runErr, "eventId", eventID)
		resp.Success = false
		resp.Action = ActionError
		resp.Error = runErr.Error()
		return completion.Status, resp, nil
	default:
		s.log.Error("webhook: processing failed", "error", runErr, "eventId", eventID)
		return completion.Status, resp, fmt.Errorf("process event %s: %w", eventID, runErr)
	}
}

func (s *Service) safeExecute(ctx context.Context, eventID uuid.UUID, payload Payload, endpoint *Endpoint, dryRun bool) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return s.execute(ctx, eventID, payload, endpoint, dryRun)
}

// execute is shared by live ingestion and replay. With dryRun it only reads.
func (s *Service) execute(ctx context.Context, eventID uuid.UUID, payload Payload, endpoint *Endpoint, dryRun bool) (Response, error) {
	switch p := payload.(type) {
	case SaleSource:
		return s.processSale(ctx, eventID, p, dryRun)
	case LeadSource:
		if endpoint == nil {
			return Response{}, fmt.Errorf("lead payload without endpoint")
		}
		return s.processLead(ctx, p, *endpoint, dryRun)
	}
	return Response{}, fmt.Errorf("unsupported payload kind %q", payload.Kind())
}

// processSale records one transaction per payment. Another event that reports
// an already recorded payment (Stripe sends a checkout session and its
// payment intent) becomes a duplicate and does not run automation again.
func (s *Service) processSale(ctx context.Context, eventID uuid.UUID, p SaleSource, dryRun bool) (Response, error) {
	sale, ok, err := p.Sale()
	if err != nil {
		return Response{}, err
	}
	if !ok {
		return Response{Success: true, Action: ActionSkipped, Reason: ReasonUnsupportedEvent}, nil
	}
	sale = sale.printable()

	category, err := s.store.CategorizeProduct(ctx, sale.ProductName)
	if err != nil {
		return Response{}, fmt.Errorf("categorize product: %w", err)
	}

	contactID, err := s.lookupContact(ctx, contacts.Query{
		ExternalID: sale.ExternalCustomerID,
		Email:      sale.Email,
		Phone:      sale.Phone,
		Name:       sale.Name,
	})
	if err != nil {
		return Response{}, err
	}

	resp := Response{Success: true, Action: ActionCreated, ContactID: contactID}
	if !dryRun {
		tx, created, err := s.store.InsertTransaction(ctx, NewTransaction{
			DedupeKey:       sale.PaymentKey,
			Provider:        sale.Provider,
			ProductName:     sale.ProductName,
			ProductCategory: category,
			GrossValue:      sale.GrossValue,
			NetValue:        sale.NetValue,
			CustomerEmail:   contacts.NormalizeEmail(sale.Email),
			CustomerPhone:   sale.Phone,
			SaleDate:        sale.SaleDate,
			Status:          sale.Status,
			ContactID:       contactID,
			EventID:         eventID,
		})
		if err != nil {
			return Response{}, fmt.Errorf("insert transaction: %w", err)
		}
		resp.TransactionID = tx.ID.String()
		if !created && (tx.EventID == nil || *tx.EventID != eventID) {
			s.log.Info("webhook: payment already recorded by another event", "dedupeKey", tx.DedupeKey, "transactionId", tx.ID)
			resp.Action = ActionDuplicate
			resp.Duplicate = true
			resp.Reason = ReasonPaymentRecorded
			return resp, nil
		}
	}

	if sale.Status == TransactionRefunded {
		resp.Reason = ReasonRefundRecorded
		return resp, nil
	}

	trig := automation.Trigger{
		Source:          automation.TriggerPaymentConfirmed,
		ProductCategory: category,
		RawEventRef:     sale.PaymentKey,
	}
	if contactID == nil {
		covered, err := s.automation.Covers(ctx, trig.Source, category)
		if err != nil {
			return resp, err
		}
		if covered {
			return resp, fmt.Errorf("%w (%s)", ErrContactNotFound, describeSale(sale))
		}
		resp.Reason = ReasonContactNotFound
		return resp, nil
	}
	trig.ContactID = *contactID

	var out automation.Outcome
	if dryRun {
		out, err = s.automation.Preview(ctx, trig)
	} else {
		out, err = s.automation.Apply(ctx, trig)
	}
	if err != nil {
		return resp, err
	}
	resp.Automation = &out
	return resp, nil
}

func (s *Service) lookupContact(ctx context.Context, q contacts.Query) (*uuid.UUID, error) {
	if q.IsEmpty() {
		return nil, nil
	}
	match, err := s.contacts.Resolve(ctx, q)
	if errors.Is(err, contacts.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := match.Contact.ID
	return &id, nil
}

func (s *Service) processLead(ctx context.Context, p LeadSource, endpoint Endpoint, dryRun bool) (Response, error) {
	fields := p.LeadFields()
	extracted := ExtractFields(fields)
	if !extracted.HasIdentity() {
		return Response{}, &ValidationError{Message: "no contact identity in payload"}
	}

	input := contacts.Input{
		ExternalID: extracted.ExternalID,
		Name:       extracted.Name(),
		Email:      extracted.Email,
		Phone:      extracted.Phone,
		Tags:       endpoint.Tags,
		Source:     endpoint.Source(),
	}

	var contactID uuid.UUID
	if dryRun {
		match, err := s.contacts.Resolve(ctx, input.Query())
		if errors.Is(err, contacts.ErrNotFound) {
			return Response{Success: true, Action: ActionCreated, Reason: ReasonContactWouldNew}, nil
		}
		if err != nil {
			return Response{}, err
		}
		contactID = match.Contact.ID
	} else {
		res, err := s.contacts.FindOrCreate(ctx, input)
		if err != nil {
			return Response{}, err
		}
		contactID = res.Contact.ID
	}

	req := deals.Request{
		ContactID:    contactID,
		OriginID:     endpoint.OriginID,
		StageID:      endpoint.StageID,
		ExternalID:   p.DedupeKey(),
		Value:        extracted.Value,
		CustomFields: customFields(fields),
		Source:       endpoint.Source(),
	}
	var result deals.Result
	var err error
	if dryRun {
		result, err = s.deals.Preview(ctx, req)
	} else {
		result, err = s.deals.ResolveOrCreateDeal(ctx, req)
	}
	if err != nil {
		return Response{}, err
	}

	if !dryRun {
		if err := s.store.IncrementLeadsReceived(ctx, endpoint.ID); err != nil {
			s.log.Error("webhook: failed to bump endpoint counter", "error", err, "endpoint", endpoint.Slug)
		}
	}

	resp := Response{Success: true, Action: ActionCreated, ContactID: &contactID, DealID: result.DealID}
	switch result.Outcome {
	case deals.OutcomeDuplicate:
		resp.Action = ActionSkipped
		resp.Reason = ReasonRecentDuplicate
	case deals.OutcomeSkipped:
		resp.Action = ActionSkipped
		resp.Reason = result.SkipReason
	}
	return resp, nil
}

func (s *Service) observe(source string, eventID uuid.UUID, status string, start time.Time) {
	label := sourceLabel(source)
	elapsed := time.Since(start)
	s.metrics.RecordWebhookEvent(label, status)
	s.metrics.RecordWebhookDuration(label, elapsed)
	s.log.WebhookOutcome(source, eventID.String(), status, float64(elapsed.Milliseconds()))
}

func duplicateResponse(source string, rec Recorded) Response {
	resp := Response{Success: true, Action: ActionDuplicate, Duplicate: true, EventID: rec.Original.ID}
	if rec.Original.ResultRecordID == nil {
		return resp
	}
	if strings.HasPrefix(source, SourceLeadPrefix) {
		if id, err := uuid.Parse(*rec.Original.ResultRecordID); err == nil {
			resp.DealID = &id
		}
		return resp
	}
	resp.TransactionID = *rec.Original.ResultRecordID
	return resp
}

func skipReason(p Payload) string {
	if g, ok := p.(GoogleLeadPayload); ok && g.IsTest {
		return ReasonTestLead
	}
	if p.DedupeKey() == "" {
		return ReasonUnsupportedEvent
	}
	return ""
}

func resultRecordID(resp Response) string {
	if resp.TransactionID != "" {
		return resp.TransactionID
	}
	if resp.DealID != nil {
		return resp.DealID.String()
	}
	return ""
}

func isResolutionError(err error) bool {
	return errors.Is(err, contacts.ErrAmbiguous) ||
		errors.Is(err, ErrContactNotFound) ||
		errors.Is(err, automation.ErrAmbiguousDeal) ||
		errors.Is(err, automation.ErrStageChanged)
}

func eventType(p Payload) string {
	if p == nil {
		return "unknown"
	}
	if t := p.EventType(); t != "" {
		return t
	}
	return "unknown"
}

func sourceLabel(source string) string {
	if strings.HasPrefix(source, SourceLeadPrefix) {
		return "lead"
	}
	return source
}

func describeSale(sale Sale) string {
	var parts []string
	if sale.Email != "" {
		parts = append(parts, "email="+sale.Email)
	}
	if sale.Phone != "" {
		parts = append(parts, "phone="+sale.Phone)
	}
	if sale.ExternalCustomerID != "" {
		parts = append(parts, "customer="+sale.ExternalCustomerID)
	}
	if len(parts) == 0 {
		return "no customer identity"
	}
	return strings.Join(parts, " ")
}

func customFields(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

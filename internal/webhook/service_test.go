package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"salesops_backend/internal/automation"
	"salesops_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestAsaasRedeliveryReturnsSameTransaction(t *testing.T) {
	h := newHarness()
	contact := h.contacts.add("ana@example.com")
	h.store.categories["mentoria"] = "mentoria"
	body := asaasBody(AsaasPaymentReceived, "pay_1", "ana@example.com")

	first, err := h.service.Ingest(context.Background(), Inbound{Source: SourceAsaas, Body: body})
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, ActionCreated, first.Action)
	require.NotEmpty(t, first.TransactionID)
	require.NotNil(t, first.Automation)
	assert.Equal(t, automation.StatusMoved, first.Automation.Status)

	second, err := h.service.Ingest(context.Background(), Inbound{Source: SourceAsaas, Body: body})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, ActionDuplicate, second.Action)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, first.EventID, second.EventID)

	assert.Len(t, h.store.transactions, 1)
	require.Len(t, h.automation.applied, 1)
	assert.Equal(t, contact.ID, h.automation.applied[0].ContactID)
	assert.Equal(t, "mentoria", h.automation.applied[0].ProductCategory)
	assert.Equal(t, StatusSuccess, h.store.event(first.EventID).Status)
}

func TestIngestRefundRecordsTransactionWithoutAutomation(t *testing.T) {
	h := newHarness()
	h.contacts.add("ana@example.com")

	resp, err := h.service.Ingest(context.Background(), Inbound{
		Source: SourceAsaas,
		Body:   asaasBody(AsaasPaymentRefunded, "pay_1", "ana@example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonRefundRecorded, resp.Reason)
	assert.Empty(t, h.automation.applied)

	tx, ok := h.store.transactions["asaas_pay_1_refunded"]
	require.True(t, ok)
	assert.Equal(t, TransactionRefunded, tx.Status)
}

func TestIngestUnsupportedEventIsSkipped(t *testing.T) {
	h := newHarness()

	resp, err := h.service.Ingest(context.Background(), Inbound{
		Source: SourceAsaas,
		Body:   asaasBody("PAYMENT_CREATED", "pay_2", "ana@example.com"),
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, ActionSkipped, resp.Action)
	assert.Equal(t, ReasonUnsupportedEvent, resp.Reason)

	event := h.store.event(resp.EventID)
	assert.Equal(t, StatusSkipped, event.Status)
	assert.Nil(t, event.DedupeKey)
	assert.Empty(t, h.store.transactions)
}

func TestIngestRejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing payment id", body: `{"event":"PAYMENT_RECEIVED","payment":{"value":10}}`},
		{name: "missing event", body: `{"payment":{"id":"pay_1","value":10}}`},
		{name: "not json", body: `event=PAYMENT_RECEIVED`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()

			_, err := h.service.Ingest(context.Background(), Inbound{Source: SourceAsaas, Body: []byte(tt.body)})
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))

			require.Len(t, h.store.order, 1)
			assert.Equal(t, StatusSkipped, h.store.event(h.store.order[0]).Status)
		})
	}
}

func TestIngestAmbiguousContactKeepsEventInError(t *testing.T) {
	h := newHarness()
	h.contacts.ambiguous = true

	resp, err := h.service.Ingest(context.Background(), Inbound{
		Source: SourceAsaas,
		Body:   asaasBody(AsaasPaymentConfirmed, "pay_3", "ana@example.com"),
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, ActionError, resp.Action)
	assert.Contains(t, resp.Error, "ambiguous")

	event := h.store.event(resp.EventID)
	assert.Equal(t, StatusError, event.Status)
	assert.Empty(t, h.store.transactions)
	assert.Empty(t, h.automation.applied)
}

func TestIngestUnknownCustomerWithoutRuleSucceeds(t *testing.T) {
	h := newHarness()

	resp, err := h.service.Ingest(context.Background(), Inbound{
		Source: SourceAsaas,
		Body:   asaasBody(AsaasPaymentReceived, "pay_4", "nobody@example.com"),
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, ReasonContactNotFound, resp.Reason)
	assert.Nil(t, resp.ContactID)
	assert.Equal(t, StatusSuccess, h.store.event(resp.EventID).Status)

	tx := h.store.transactions["asaas_pay_4"]
	assert.Nil(t, tx.ContactID)
}

func TestIngestUnknownCustomerWithRuleIsAnError(t *testing.T) {
	h := newHarness()
	h.automation.covers = true

	resp, err := h.service.Ingest(context.Background(), Inbound{
		Source: SourceAsaas,
		Body:   asaasBody(AsaasPaymentReceived, "pay_5", "nobody@example.com"),
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, ActionError, resp.Action)
	assert.Equal(t, StatusError, h.store.event(resp.EventID).Status)
}

func TestIngestRecoversFromPanics(t *testing.T) {
	h := newHarness()
	h.contacts.add("ana@example.com")
	h.automation.panics = true

	_, err := h.service.Ingest(context.Background(), Inbound{
		Source: SourceAsaas,
		Body:   asaasBody(AsaasPaymentReceived, "pay_6", "ana@example.com"),
	})
	require.Error(t, err)

	event := h.store.event(h.store.order[0])
	assert.Equal(t, StatusError, event.Status)
	require.NotNil(t, event.ErrorMessage)
	assert.Contains(t, *event.ErrorMessage, "panic")
}

func TestIngestFormLeadCreatesContactAndDealOnce(t *testing.T) {
	h := newHarness()
	h.store.addEndpoint(Endpoint{Slug: "site", Tags: []string{"site"}})
	endpoint, err := h.service.Endpoint(context.Background(), "site")
	require.NoError(t, err)

	body := []byte(`{"name":"Bruno Lima","email":"bruno@example.com","phone":"+55 11 91234-5678"}`)
	in := Inbound{Source: endpoint.Source(), Endpoint: &endpoint, Body: body}

	first, err := h.service.Ingest(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, first.Action)
	require.NotNil(t, first.DealID)
	require.NotNil(t, first.ContactID)

	second, err := h.service.Ingest(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	require.NotNil(t, second.DealID)
	assert.Equal(t, *first.DealID, *second.DealID)

	assert.Equal(t, 1, h.contacts.created)
	assert.Equal(t, 1, h.deals.created)
	assert.Equal(t, int64(1), h.store.endpoints["site"].LeadsReceived)
}

func TestIngestLeadMissingRequiredFields(t *testing.T) {
	h := newHarness()
	endpoint := h.store.addEndpoint(Endpoint{Slug: "quiz", RequiredFields: []string{"email", "phone"}})

	_, err := h.service.Ingest(context.Background(), Inbound{
		Source:   endpoint.Source(),
		Endpoint: &endpoint,
		Body:     []byte(`{"name":"Carla","email":"carla@example.com"}`),
	})
	require.Error(t, err)

	domainErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, domainErr.Kind)
	details, ok := domainErr.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"phone"}, details["fields"])
	assert.Zero(t, h.contacts.created)
}

func TestIngestLeadWithoutIdentityIsSkipped(t *testing.T) {
	h := newHarness()
	endpoint := h.store.addEndpoint(Endpoint{Slug: "site"})

	_, err := h.service.Ingest(context.Background(), Inbound{
		Source:   endpoint.Source(),
		Endpoint: &endpoint,
		Body:     []byte(`{"message":"call me"}`),
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, StatusSkipped, h.store.event(h.store.order[0]).Status)
}

func TestIngestGoogleTestLeadIsSkipped(t *testing.T) {
	h := newHarness()
	endpoint := h.store.addEndpoint(Endpoint{Slug: "google"})

	resp, err := h.service.Ingest(context.Background(), Inbound{
		Source:   endpoint.Source(),
		Endpoint: &endpoint,
		Body:     []byte(`{"lead_id":"L1","is_test":true,"user_column_data":[{"column_name":"Full Name","string_value":"Test"}]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, resp.Action)
	assert.Equal(t, ReasonTestLead, resp.Reason)
	assert.Zero(t, h.contacts.created)
}

func TestEndpointUnknownSlugIsNotFound(t *testing.T) {
	h := newHarness()

	_, err := h.service.Endpoint(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestReprocessRecoversErrorEventOnce(t *testing.T) {
	h := newHarness()
	h.contacts.ambiguous = true
	resp, err := h.service.Ingest(context.Background(), Inbound{
		Source: SourceAsaas,
		Body:   asaasBody(AsaasPaymentConfirmed, "pay_7", "ana@example.com"),
	})
	require.NoError(t, err)
	require.Equal(t, StatusError, h.store.event(resp.EventID).Status)

	h.contacts.ambiguous = false
	h.contacts.add("ana@example.com")

	report, err := h.service.Reprocess(context.Background(), ReprocessRequest{All: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Results, 1)
	assert.Equal(t, resp.EventID, report.Results[0].ID)

	event := h.store.event(resp.EventID)
	assert.Equal(t, StatusSuccess, event.Status)
	assert.Equal(t, 1, event.Attempts)

	again, err := h.service.Reprocess(context.Background(), ReprocessRequest{WebhookID: &resp.EventID})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped)
	assert.Equal(t, StatusSuccess, again.Results[0].Status)

	assert.Len(t, h.store.transactions, 1)
	assert.Len(t, h.automation.applied, 1)
}

func TestReprocessDryRunWritesNothing(t *testing.T) {
	h := newHarness()
	h.contacts.ambiguous = true
	resp, err := h.service.Ingest(context.Background(), Inbound{
		Source: SourceAsaas,
		Body:   asaasBody(AsaasPaymentConfirmed, "pay_8", "ana@example.com"),
	})
	require.NoError(t, err)

	h.contacts.ambiguous = false
	h.contacts.add("ana@example.com")
	writes := h.store.writes

	report, err := h.service.Reprocess(context.Background(), ReprocessRequest{
		WebhookIDs: []uuid.UUID{resp.EventID, resp.EventID},
		DryRun:     true,
	})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Succeeded)
	require.NotNil(t, report.Results[0].Decision)
	require.NotNil(t, report.Results[0].Decision.Automation)
	assert.Equal(t, automation.StatusWouldMove, report.Results[0].Decision.Automation.Status)

	assert.Equal(t, writes, h.store.writes)
	assert.Equal(t, StatusError, h.store.event(resp.EventID).Status)
	assert.Empty(t, h.store.transactions)
	assert.Empty(t, h.automation.applied)
	assert.Equal(t, 1, h.automation.previews)
}

func TestReprocessIsolatesFailures(t *testing.T) {
	h := newHarness()
	h.contacts.ambiguous = true
	resp, err := h.service.Ingest(context.Background(), Inbound{
		Source: SourceAsaas,
		Body:   asaasBody(AsaasPaymentConfirmed, "pay_9", "ana@example.com"),
	})
	require.NoError(t, err)

	missing := uuid.New()
	report, err := h.service.Reprocess(context.Background(), ReprocessRequest{WebhookIDs: []uuid.UUID{missing, resp.EventID}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, StatusError, h.store.event(resp.EventID).Status)
}

func TestReprocessRequiresSelection(t *testing.T) {
	h := newHarness()

	_, err := h.service.Reprocess(context.Background(), ReprocessRequest{DryRun: true})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestIngestStripeCheckoutAndIntentRecordOnePayment(t *testing.T) {
	h := newHarness()
	h.contacts.add("ana@example.com")

	checkout := stripeBody("evt_A", StripeCheckoutCompleted, `{
		"id": "cs_1",
		"object": "checkout.session",
		"amount_total": 49700,
		"payment_intent": "pi_1",
		"metadata": {"product_name": "Mentoria Premium"},
		"customer_details": {"email": "ana@example.com", "name": "Ana Souza"}
	}`)
	intent := stripeBody("evt_B", StripePaymentIntentSucceeded, `{
		"id": "pi_1",
		"object": "payment_intent",
		"amount": 49700,
		"amount_received": 49700,
		"receipt_email": "ana@example.com",
		"description": "Mentoria Premium"
	}`)

	first, err := h.service.Ingest(context.Background(), Inbound{Source: SourceStripe, Body: checkout})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, first.Action)

	second, err := h.service.Ingest(context.Background(), Inbound{Source: SourceStripe, Body: intent})
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, ActionDuplicate, second.Action)
	assert.Equal(t, ReasonPaymentRecorded, second.Reason)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.NotEqual(t, first.EventID, second.EventID)

	require.Len(t, h.store.transactions, 1)
	_, ok := h.store.transactions["stripe_pi_1"]
	assert.True(t, ok)
	require.Len(t, h.automation.applied, 1)
	assert.Equal(t, "stripe_pi_1", h.automation.applied[0].RawEventRef)
	assert.Equal(t, StatusSuccess, h.store.event(first.EventID).Status)
	assert.Equal(t, StatusDuplicate, h.store.event(second.EventID).Status)
}

func TestReprocessStripeSaleRunsAutomationForItsOwnTransaction(t *testing.T) {
	h := newHarness()
	h.contacts.add("ana@example.com")
	h.automation.err = automation.ErrStageChanged

	resp, err := h.service.Ingest(context.Background(), Inbound{
		Source: SourceStripe,
		Body: stripeBody("evt_C", StripePaymentIntentSucceeded, `{
			"id": "pi_2",
			"object": "payment_intent",
			"amount": 9700,
			"amount_received": 9700,
			"receipt_email": "ana@example.com"
		}`),
	})
	require.NoError(t, err)
	require.Equal(t, StatusError, h.store.event(resp.EventID).Status)
	require.Len(t, h.store.transactions, 1)

	h.automation.err = nil
	report, err := h.service.Reprocess(context.Background(), ReprocessRequest{WebhookID: &resp.EventID})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Len(t, h.store.transactions, 1)
	assert.Len(t, h.automation.applied, 1)
	assert.Equal(t, StatusSuccess, h.store.event(resp.EventID).Status)
}

func TestReprocessClaimsEventStrandedInProcessing(t *testing.T) {
	h := newHarness()
	h.contacts.add("ana@example.com")
	h.store.completeErr = errors.New("connection reset by peer")

	resp, err := h.service.Ingest(context.Background(), Inbound{
		Source: SourceAsaas,
		Body:   asaasBody(AsaasPaymentReceived, "pay_10", "ana@example.com"),
	})
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, h.store.event(resp.EventID).Status)
	h.store.completeErr = nil

	// Within the lease the event still belongs to its first run.
	report, err := h.service.Reprocess(context.Background(), ReprocessRequest{All: true})
	require.NoError(t, err)
	assert.Zero(t, report.Processed)

	byID, err := h.service.Reprocess(context.Background(), ReprocessRequest{WebhookID: &resp.EventID})
	require.NoError(t, err)
	assert.Equal(t, 1, byID.Skipped)
	assert.Equal(t, StatusProcessing, h.store.event(resp.EventID).Status)

	h.service.SetClock(func() time.Time { return time.Now().Add(time.Hour) })

	listed, err := h.service.ListFailed(context.Background(), FailedFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, resp.EventID, listed[0].ID)

	report, err = h.service.Reprocess(context.Background(), ReprocessRequest{All: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	event := h.store.event(resp.EventID)
	assert.Equal(t, StatusSuccess, event.Status)
	assert.Equal(t, 1, event.Attempts)
	assert.Len(t, h.store.transactions, 1)
}

func TestIngestKeepsBodyWithNULEscapeVerbatim(t *testing.T) {
	h := newHarness()
	h.contacts.add("ana@example.com")
	body := []byte(`{"event":"PAYMENT_RECEIVED","payment":{"id":"pay_11","value":97,` +
		`"description":"Curso\u0000Online","customer":{"id":"cus_1","email":"ana@example.com"}}}`)

	resp, err := h.service.Ingest(context.Background(), Inbound{Source: SourceAsaas, Body: body})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	event := h.store.event(resp.EventID)
	assert.Equal(t, StatusSuccess, event.Status)
	assert.Equal(t, body, []byte(event.RawPayload))

	tx, ok := h.store.transactions["asaas_pay_11"]
	require.True(t, ok)
	assert.Equal(t, "CursoOnline", tx.ProductName)
}

func TestReprocessAllReportsTruncation(t *testing.T) {
	h := newHarness()
	for i := 0; i < ReprocessBatchLimit+1; i++ {
		h.store.insert(NewEvent{Source: SourceAsaas, ProviderEventType: "unknown", RawPayload: []byte(`{}`)}, StatusError)
	}

	report, err := h.service.Reprocess(context.Background(), ReprocessRequest{All: true, DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.Truncated)
	assert.Equal(t, ReprocessBatchLimit, report.Processed)

	small := newHarness()
	small.store.insert(NewEvent{Source: SourceAsaas, ProviderEventType: "unknown", RawPayload: []byte(`{}`)}, StatusError)

	report, err = small.service.Reprocess(context.Background(), ReprocessRequest{All: true, DryRun: true})
	require.NoError(t, err)
	assert.False(t, report.Truncated)
	assert.Equal(t, 1, report.Processed)
}

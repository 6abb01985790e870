package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apphttp "salesops_backend/internal/http"
	"salesops_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testWebhookConfig struct {
	asaasHeader  string
	asaasToken   string
	stripeSecret string
	maxBody      int64
}

func (c testWebhookConfig) GetAsaasAuthHeader() string     { return c.asaasHeader }
func (c testWebhookConfig) GetAsaasAuthToken() string      { return c.asaasToken }
func (c testWebhookConfig) GetStripeWebhookSecret() string { return c.stripeSecret }
func (c testWebhookConfig) GetWebhookMaxBodyBytes() int64  { return c.maxBody }
func (c testWebhookConfig) GetWebhookProcessingLease() time.Duration {
	return 15 * time.Minute
}

type fakeQueue struct {
	requests []ReprocessRequest
}

func (q *fakeQueue) EnqueueReprocess(_ context.Context, req ReprocessRequest) (string, error) {
	q.requests = append(q.requests, req)
	return "task-1", nil
}

func newTestEngine(h *harness, cfg testWebhookConfig, queue ReprocessQueue) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	module := &Module{
		handler: NewHandler(h.service, queue, validator.New(), cfg),
		service: h.service,
		cfg:     cfg,
	}
	module.RegisterRoutes(&apphttp.RouterContext{
		Engine:           engine,
		V1:               engine.Group("/api/v1"),
		Admin:            engine.Group("/api/v1/admin"),
		WebhookRateLimit: func(c *gin.Context) { c.Next() },
	})
	return engine
}

func serve(engine *gin.Engine, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHandleAsaasStatusCodes(t *testing.T) {
	cfg := testWebhookConfig{asaasHeader: "asaas-access-token", asaasToken: "s3cret", maxBody: 1 << 20}
	valid := asaasBody(AsaasPaymentReceived, "pay_1", "ana@example.com")

	tests := []struct {
		name    string
		method  string
		body    []byte
		headers map[string]string
		want    int
	}{
		{name: "accepted", method: http.MethodPost, body: valid, headers: map[string]string{"asaas-access-token": "s3cret"}, want: http.StatusOK},
		{name: "wrong token", method: http.MethodPost, body: valid, headers: map[string]string{"asaas-access-token": "nope"}, want: http.StatusUnauthorized},
		{name: "missing token", method: http.MethodPost, body: valid, want: http.StatusUnauthorized},
		{name: "missing fields", method: http.MethodPost, body: []byte(`{"event":"PAYMENT_RECEIVED"}`), headers: map[string]string{"asaas-access-token": "s3cret"}, want: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, want: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.contacts.add("ana@example.com")
			engine := newTestEngine(h, cfg, nil)

			rec := serve(engine, tt.method, "/api/v1/webhooks/asaas", tt.body, tt.headers)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleAsaasResponseBody(t *testing.T) {
	h := newHarness()
	h.contacts.add("ana@example.com")
	engine := newTestEngine(h, testWebhookConfig{}, nil)

	rec := serve(engine, http.MethodPost, "/api/v1/webhooks/asaas", asaasBody(AsaasPaymentReceived, "pay_1", "ana@example.com"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, ActionCreated, body["action"])
	assert.NotEmpty(t, body["event_id"])
	assert.NotEmpty(t, body["transaction_id"])
}

func TestHandleRejectsOversizedBody(t *testing.T) {
	h := newHarness()
	engine := newTestEngine(h, testWebhookConfig{maxBody: 16}, nil)

	rec := serve(engine, http.MethodPost, "/api/v1/webhooks/asaas", asaasBody(AsaasPaymentReceived, "pay_1", "ana@example.com"), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, h.store.order)
}

func TestHandleStripeRejectsBadSignature(t *testing.T) {
	h := newHarness()
	engine := newTestEngine(h, testWebhookConfig{stripeSecret: "whsec_test"}, nil)

	rec := serve(engine, http.MethodPost, "/api/v1/webhooks/stripe", []byte(`{"id":"evt_1","type":"charge.refunded"}`),
		map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.store.order)
}

func TestHandleLeadStatusCodes(t *testing.T) {
	header, value := "X-Form-Token", "abc123"

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    int
	}{
		{name: "unknown slug", path: "/api/v1/webhooks/leads/nope", want: http.StatusNotFound},
		{name: "missing endpoint token", path: "/api/v1/webhooks/leads/secure", want: http.StatusUnauthorized},
		{name: "valid endpoint token", path: "/api/v1/webhooks/leads/secure", headers: map[string]string{header: value}, want: http.StatusOK},
		{name: "open endpoint", path: "/api/v1/webhooks/leads/open", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.store.addEndpoint(Endpoint{Slug: "secure", AuthHeaderName: &header, AuthHeaderValue: &value})
			h.store.addEndpoint(Endpoint{Slug: "open"})
			engine := newTestEngine(h, testWebhookConfig{}, nil)

			rec := serve(engine, http.MethodPost, tt.path, []byte(`{"name":"Ana","email":"ana@example.com"}`), tt.headers)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleReprocess(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		queue bool
		want  int
	}{
		{name: "no selection", body: `{"dry_run":true}`, want: http.StatusBadRequest},
		{name: "malformed", body: `{"all":"yes"}`, want: http.StatusBadRequest},
		{name: "bad month", body: `{"all":true,"year_month":"2026-13"}`, want: http.StatusBadRequest},
		{name: "inline", body: `{"all":true}`, want: http.StatusOK},
		{name: "async without queue", body: `{"all":true,"async":true}`, want: http.StatusServiceUnavailable},
		{name: "async", body: `{"all":true,"async":true}`, queue: true, want: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			var queue *fakeQueue
			var rq ReprocessQueue
			if tt.queue {
				queue = &fakeQueue{}
				rq = queue
			}
			engine := newTestEngine(h, testWebhookConfig{}, rq)

			rec := serve(engine, http.MethodPost, "/api/v1/admin/webhooks/reprocess", []byte(tt.body), nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if queue != nil {
				require.Len(t, queue.requests, 1)
				assert.True(t, queue.requests[0].All)
			}
		})
	}
}

func TestHandleListFailed(t *testing.T) {
	h := newHarness()
	h.contacts.ambiguous = true
	_, err := h.service.Ingest(context.Background(), Inbound{
		Source: SourceAsaas,
		Body:   asaasBody(AsaasPaymentReceived, "pay_1", "ana@example.com"),
	})
	require.NoError(t, err)
	engine := newTestEngine(h, testWebhookConfig{}, nil)

	rec := serve(engine, http.MethodGet, "/api/v1/admin/webhooks/failed?days=3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Days   int              `json:"days"`
		Count  int              `json:"count"`
		Events []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Days)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Events, 1)
	event := body.Events[0]
	assert.Equal(t, AsaasPaymentReceived, event["provider_event_type"])
	assert.Equal(t, StatusError, event["status"])
	assert.Contains(t, event, "created_at")
	assert.Contains(t, event, "error_message")
	assert.NotContains(t, event, "providerEventType")
	raw, ok := event["raw_payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, AsaasPaymentReceived, raw["event"])

	rec = serve(engine, http.MethodGet, "/api/v1/admin/webhooks/failed?days=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"salesops_backend/platform/apperr"
	"salesops_backend/platform/config"
	"salesops_backend/platform/httpkit"
	"salesops_backend/platform/validator"

	"github.com/gin-gonic/gin"
	stripewebhook "github.com/stripe/stripe-go/v83/webhook"
)

const (
	errInvalidRequest  = "invalid request body"
	errValidation      = "validation error"
	errPayloadTooLarge = "payload too large"

	defaultFailedDays = 7
)

// ReprocessQueue hands a reprocess request to the background worker.
type ReprocessQueue interface {
	EnqueueReprocess(ctx context.Context, req ReprocessRequest) (string, error)
}

// Handler handles webhook HTTP requests.
type Handler struct {
	service *Service
	queue   ReprocessQueue
	val     *validator.Validator
	cfg     config.WebhookConfig
}

// NewHandler creates a new webhook handler. queue may be nil, in which case
// async reprocess requests are refused.
func NewHandler(service *Service, queue ReprocessQueue, val *validator.Validator, cfg config.WebhookConfig) *Handler {
	return &Handler{service: service, queue: queue, val: val, cfg: cfg}
}

// HandleAsaas processes a payment processor delivery.
// POST /api/v1/webhooks/asaas
func (h *Handler) HandleAsaas(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	h.ingest(c, Inbound{Source: SourceAsaas, Body: body})
}

// HandleStripe processes a Stripe event. The signature is verified when a
// signing secret is configured.
// POST /api/v1/webhooks/stripe
func (h *Handler) HandleStripe(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	if secret := h.cfg.GetStripeWebhookSecret(); secret != "" {
		_, err := stripewebhook.ConstructEventWithOptions(body, c.GetHeader("Stripe-Signature"), secret,
			stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			httpkit.Error(c, http.StatusUnauthorized, "invalid stripe signature", nil)
			return
		}
	}

	h.ingest(c, Inbound{Source: SourceStripe, Body: body})
}

// HandleLead processes a lead form delivery for a configured endpoint.
// POST /api/v1/webhooks/leads/:slug
func (h *Handler) HandleLead(c *gin.Context) {
	endpoint, err := h.service.Endpoint(c.Request.Context(), c.Param("slug"))
	if httpkit.HandleError(c, err) {
		return
	}
	if !endpointAuthorized(c.Request, endpoint) {
		httpkit.Error(c, http.StatusUnauthorized, "invalid webhook token", nil)
		return
	}

	body, ok := readBody(c)
	if !ok {
		return
	}
	h.ingest(c, Inbound{Source: endpoint.Source(), Endpoint: &endpoint, Body: body})
}

// HandleListFailed lists failed and stranded events from a trailing day window.
// GET /api/v1/admin/webhooks/failed?days=N
func (h *Handler) HandleListFailed(c *gin.Context) {
	days := defaultFailedDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpkit.Error(c, http.StatusBadRequest, "days must be a non-negative integer", nil)
			return
		}
		days = parsed
	}

	events, err := h.service.ListFailed(c.Request.Context(), FailedFilter{DaysBack: days})
	if httpkit.HandleError(c, err) {
		return
	}
	if events == nil {
		events = []Event{}
	}

	httpkit.OK(c, gin.H{"days": days, "count": len(events), "events": events})
}

// HandleReprocess replays error events, inline or through the worker queue.
// POST /api/v1/admin/webhooks/reprocess
func (h *Handler) HandleReprocess(c *gin.Context) {
	var req ReprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, gin.H{"fields": validator.FieldNames(err)})
		return
	}

	if req.Async {
		h.enqueue(c, req)
		return
	}

	report, err := h.service.Reprocess(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, report)
}

func (h *Handler) enqueue(c *gin.Context, req ReprocessRequest) {
	if h.queue == nil {
		httpkit.HandleError(c, apperr.Unavailable("async reprocessing is not configured"))
		return
	}
	if req.WebhookID == nil && len(req.WebhookIDs) == 0 && !req.All {
		httpkit.HandleError(c, apperr.Validation("webhook_id, webhook_ids or all is required"))
		return
	}

	taskID, err := h.queue.EnqueueReprocess(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "task_id": taskID})
}

func (h *Handler) ingest(c *gin.Context, in Inbound) {
	resp, err := h.service.Ingest(c.Request.Context(), in)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err == nil {
		return body, true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpkit.Error(c, http.StatusRequestEntityTooLarge, errPayloadTooLarge, nil)
		return nil, false
	}
	httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
	return nil, false
}

package webhook

import (
	apphttp "salesops_backend/internal/http"
	"salesops_backend/platform/config"
	"salesops_backend/platform/logger"
	"salesops_backend/platform/metrics"
	"salesops_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the webhook ingestion module implementing http.Module.
type Module struct {
	handler *Handler
	service *Service
	cfg     config.WebhookConfig
}

// Dependencies are the collaborators the pipeline hands each event to.
type Dependencies struct {
	Contacts   ContactResolver
	Deals      DealReconciler
	Automation StageAutomation
	Queue      ReprocessQueue
}

// NewModule creates and initializes the webhook module with all its dependencies.
func NewModule(pool *pgxpool.Pool, deps Dependencies, cfg config.WebhookConfig, val *validator.Validator, m *metrics.Metrics, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	service := NewService(repo, NewDecoder(val), deps.Contacts, deps.Deals, deps.Automation, m, log)
	service.SetProcessingLease(cfg.GetWebhookProcessingLease())

	return &Module{
		handler: NewHandler(service, deps.Queue, val, cfg),
		service: service,
		cfg:     cfg,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// Service exposes the pipeline to the worker and the reprocess CLI.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	hooks := ctx.V1.Group("/webhooks")
	hooks.Use(ctx.WebhookRateLimit, LimitBody(m.cfg.GetWebhookMaxBodyBytes()))
	hooks.POST("/asaas", HeaderTokenAuth(m.cfg.GetAsaasAuthHeader(), m.cfg.GetAsaasAuthToken()), m.handler.HandleAsaas)
	hooks.POST("/stripe", m.handler.HandleStripe)
	hooks.POST("/leads/:slug", m.handler.HandleLead)

	admin := ctx.Admin.Group("/webhooks")
	admin.GET("/failed", m.handler.HandleListFailed)
	admin.POST("/reprocess", m.handler.HandleReprocess)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)

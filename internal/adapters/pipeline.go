package adapters

import (
	"salesops_backend/internal/automation"
	"salesops_backend/internal/contacts"
	"salesops_backend/internal/deals"
	"salesops_backend/internal/events"
	"salesops_backend/internal/webhook"
	"salesops_backend/platform/config"
	"salesops_backend/platform/logger"
	"salesops_backend/platform/metrics"
	"salesops_backend/platform/phone"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPipelineDependencies wires the contact resolver, deal reconciler and stage
// automation the webhook pipeline hands events to. The API, the worker and the
// reprocess command share it so a replay runs exactly the live path.
func NewPipelineDependencies(pool *pgxpool.Pool, bus events.Bus, cfg config.PipelineConfig, m *metrics.Metrics, log *logger.Logger) webhook.Dependencies {
	normalizer := phone.NewNormalizer(cfg.GetPhoneDefaultRegion())

	contactRepo := contacts.NewRepository(pool)
	resolver := contacts.NewResolver(contactRepo, normalizer, cfg.GetPhoneSuffixDigits(), m)
	contactService := contacts.NewService(resolver, contactRepo, normalizer, log)

	dealRepo := deals.NewRepository(pool)
	reconciler := deals.NewReconciler(dealRepo, NewOwnerDistributor(pool), bus, cfg.GetDealDuplicateWindow(), m, log)

	pipeline := automation.NewPipeline(m, log,
		automation.ActivityStep(dealRepo),
		automation.NotifyStep(bus),
	)
	engine := automation.NewEngine(automation.NewRuleRepository(pool), dealRepo, pipeline, m, log)

	return webhook.Dependencies{
		Contacts:   contactService,
		Deals:      reconciler,
		Automation: engine,
	}
}

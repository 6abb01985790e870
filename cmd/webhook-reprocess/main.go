// Command webhook-reprocess replays webhook events left in error from the
// command line. It runs the same pipeline as the API and the worker.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"salesops_backend/internal/adapters"
	"salesops_backend/internal/email"
	"salesops_backend/internal/events"
	"salesops_backend/internal/notification"
	"salesops_backend/internal/webhook"
	"salesops_backend/platform/config"
	"salesops_backend/platform/db"
	"salesops_backend/platform/logger"
	"salesops_backend/platform/metrics"
	"salesops_backend/platform/validator"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		id     = flag.String("id", "", "replay a single webhook event")
		ids    = flag.String("ids", "", "comma separated webhook event ids")
		all    = flag.Bool("all", false, "replay every event in error")
		days   = flag.Int("days", 0, "with -all, only events received in the last N days")
		month  = flag.String("month", "", "with -all, only events received in YYYY-MM")
		dryRun = flag.Bool("dry-run", false, "report decisions without writing")
	)
	flag.Parse()

	req, err := buildRequest(*id, *ids, *all, *days, *month, *dryRun)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting webhook reprocess", "all", req.All, "ids", len(req.WebhookIDs), "dryRun", req.DryRun)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	notification.New(pool, email.NewSender(cfg), cfg, log).RegisterHandlers(eventBus)

	// A private registry keeps the one-shot run from touching process globals.
	m := metrics.New(prometheus.NewRegistry(), nil)
	deps := adapters.NewPipelineDependencies(pool, eventBus, cfg, m, log)
	svc := webhook.NewModule(pool, deps, cfg, validator.New(), m, log).Service()

	report, err := svc.Reprocess(ctx, req)
	eventBus.Wait()
	if err != nil {
		log.Error("reprocess failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	log.Info("reprocess finished",
		"processed", report.Processed,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"truncated", report.Truncated,
	)
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func buildRequest(id, ids string, all bool, days int, month string, dryRun bool) (webhook.ReprocessRequest, error) {
	req := webhook.ReprocessRequest{All: all, DryRun: dryRun, DaysBack: days, YearMonth: strings.TrimSpace(month)}

	if id = strings.TrimSpace(id); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return req, fmt.Errorf("invalid -id %q: %w", id, err)
		}
		req.WebhookID = &parsed
	}

	for _, raw := range strings.Split(ids, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return req, fmt.Errorf("invalid id %q in -ids: %w", raw, err)
		}
		req.WebhookIDs = append(req.WebhookIDs, parsed)
	}

	if !req.All && req.WebhookID == nil && len(req.WebhookIDs) == 0 {
		return req, fmt.Errorf("one of -id, -ids or -all is required")
	}
	if req.YearMonth != "" {
		if _, err := time.Parse("2006-01", req.YearMonth); err != nil {
			return req, fmt.Errorf("invalid -month %q: want YYYY-MM", req.YearMonth)
		}
	}
	if days < 0 {
		return req, fmt.Errorf("-days must not be negative")
	}
	return req, nil
}

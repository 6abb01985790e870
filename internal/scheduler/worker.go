package scheduler

import (
	"context"
	"fmt"
	"time"

	"salesops_backend/platform/config"
	"salesops_backend/platform/logger"

	"github.com/hibiken/asynq"
)

const defaultConcurrency = 4

// ReprocessRunner replays a batch described by a task payload.
type ReprocessRunner interface {
	RunReprocess(ctx context.Context, payload ReprocessPayload) error
}

type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	runner    ReprocessRunner
	log       *logger.Logger
}

// NewWorker builds the task server and, when a schedule is configured, the
// periodic sweep that replays recent error events.
func NewWorker(cfg config.SchedulerConfig, runner ReprocessRunner, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := queueName(cfg)
	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		runner: runner,
		log:    log,
	}
	mux.HandleFunc(TaskReprocessWebhooks, w.handleReprocess)

	if spec := cfg.GetReprocessSchedule(); spec != "" {
		task, err := NewReprocessTask(ReprocessPayload{
			All:      true,
			DaysBack: cfg.GetReprocessSweepDays(),
			Trigger:  TriggerSchedule,
		})
		if err != nil {
			return nil, err
		}

		w.scheduler = asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
		if _, err := w.scheduler.Register(spec, task, asynq.Queue(queue), asynq.MaxRetry(0)); err != nil {
			return nil, fmt.Errorf("register reprocess schedule %q: %w", spec, err)
		}
	}

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.log.Error("scheduler: periodic sweep failed to start", "error", err)
		}
	}

	go func() {
		<-ctx.Done()
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler: worker stopped", "error", err)
	}
}

func (w *Worker) handleReprocess(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseReprocessPayload(task)
	if err != nil {
		return fmt.Errorf("parse reprocess payload: %v: %w", err, asynq.SkipRetry)
	}

	w.log.Info("scheduler: reprocess batch started", "trigger", payload.Trigger, "all", payload.All, "ids", len(payload.WebhookIDs))
	return w.runner.RunReprocess(ctx, payload)
}

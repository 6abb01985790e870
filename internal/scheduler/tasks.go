package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskReprocessWebhooks = "webhooks.reprocess"

// Reprocess triggers.
const (
	TriggerAdmin    = "admin"
	TriggerSchedule = "schedule"
)

type ReprocessPayload struct {
	WebhookIDs []string `json:"webhookIds,omitempty"`
	All        bool     `json:"all"`
	DryRun     bool     `json:"dryRun"`
	DaysBack   int      `json:"daysBack,omitempty"`
	YearMonth  string   `json:"yearMonth,omitempty"`
	Trigger    string   `json:"trigger"`
}

func NewReprocessTask(payload ReprocessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReprocessWebhooks, data), nil
}

func ParseReprocessPayload(task *asynq.Task) (ReprocessPayload, error) {
	var payload ReprocessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ReprocessPayload{}, err
	}
	return payload, nil
}

package email

import (
	"context"

	"salesops_backend/platform/config"
)

// Sender delivers operator notifications.
type Sender interface {
	SendDealStageChangedEmail(ctx context.Context, toEmail string, data DealStageChangedEmail) error
	SendDealAssignedEmail(ctx context.Context, toEmail string, data DealAssignedEmail) error
}

// DealStageChangedEmail is the content of a stage change notification.
type DealStageChangedEmail struct {
	ContactName string
	StageName   string
	Trigger     string
	DealURL     string
}

// DealAssignedEmail is the content of a new deal notification.
type DealAssignedEmail struct {
	ContactName string
	OriginName  string
	Source      string
	DealURL     string
}

// NewSender returns an SMTP sender, or a no-op sender when SMTP is not configured.
func NewSender(cfg config.SMTPConfig) Sender {
	if cfg == nil || !cfg.IsSMTPEnabled() {
		return NoopSender{}
	}
	return NewSMTPSender(cfg.GetSMTPHost(), cfg.GetSMTPPort(), cfg.GetSMTPUsername(), cfg.GetSMTPPassword(),
		cfg.GetSMTPFromAddress(), cfg.GetSMTPFromName())
}

// NoopSender drops every message.
type NoopSender struct{}

func (NoopSender) SendDealStageChangedEmail(context.Context, string, DealStageChangedEmail) error {
	return nil
}

func (NoopSender) SendDealAssignedEmail(context.Context, string, DealAssignedEmail) error {
	return nil
}

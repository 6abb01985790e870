// Package notification tells deal owners about deals assigned to them and
// about automated stage changes, in-app and by email.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"salesops_backend/internal/email"
	"salesops_backend/internal/events"
	"salesops_backend/platform/config"
	"salesops_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	categoryInfo    = "info"
	categorySuccess = "success"

	resourceTypeDeal = "deal"
	defaultContact   = "contact"
)

// Store is the read and write side the module needs. Satisfied by Repository.
type Store interface {
	InsertNotification(ctx context.Context, n NewNotification) error
	OwnerEmail(ctx context.Context, originID, userID uuid.UUID) (string, error)
	ContactName(ctx context.Context, contactID uuid.UUID) (string, error)
	OriginName(ctx context.Context, originID uuid.UUID) (string, error)
}

type Module struct {
	store  Store
	sender email.Sender
	cfg    config.NotificationConfig
	log    *logger.Logger
}

func New(pool *pgxpool.Pool, sender email.Sender, cfg config.NotificationConfig, log *logger.Logger) *Module {
	return NewWithStore(NewRepository(pool), sender, cfg, log)
}

func NewWithStore(store Store, sender email.Sender, cfg config.NotificationConfig, log *logger.Logger) *Module {
	return &Module{store: store, sender: sender, cfg: cfg, log: log}
}

// RegisterHandlers subscribes the module to deal events.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.DealCreated{}.EventName(), m)
	bus.Subscribe(events.DealStageChanged{}.EventName(), m)

	m.log.Info("notification: event handlers registered")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.DealCreated:
		return m.handleDealCreated(ctx, e)
	case events.DealStageChanged:
		return m.handleDealStageChanged(ctx, e)
	default:
		return nil
	}
}

func (m *Module) handleDealCreated(ctx context.Context, e events.DealCreated) error {
	if e.OwnerID == nil {
		return nil
	}

	contactName := m.contactName(ctx, e.ContactID)
	originName, err := m.store.OriginName(ctx, e.OriginID)
	if err != nil {
		m.log.Warn("notification: origin lookup failed", "error", err, "originId", e.OriginID)
	}

	notifyErr := m.store.InsertNotification(ctx, NewNotification{
		UserID:       *e.OwnerID,
		Title:        "New deal assigned",
		Content:      fmt.Sprintf("%s was assigned to you.", contactName),
		ResourceID:   &e.DealID,
		ResourceType: resourceTypeDeal,
		Category:     categoryInfo,
	})
	if notifyErr != nil {
		notifyErr = fmt.Errorf("insert deal assigned notification: %w", notifyErr)
	}

	mailErr := m.emailOwner(ctx, e.OriginID, *e.OwnerID, func(to string) error {
		return m.sender.SendDealAssignedEmail(ctx, to, email.DealAssignedEmail{
			ContactName: contactName,
			OriginName:  originName,
			Source:      e.Source,
			DealURL:     m.dealURL(e.DealID),
		})
	})

	return errors.Join(notifyErr, mailErr)
}

func (m *Module) handleDealStageChanged(ctx context.Context, e events.DealStageChanged) error {
	if !e.NotifyOwner || e.OwnerID == nil {
		return nil
	}

	contactName := m.contactName(ctx, e.ContactID)
	notifyErr := m.store.InsertNotification(ctx, NewNotification{
		UserID:       *e.OwnerID,
		Title:        "Deal moved to " + e.ToStageName,
		Content:      fmt.Sprintf("%s moved to %s after %s.", contactName, e.ToStageName, strings.ReplaceAll(e.TriggerSource, "_", " ")),
		ResourceID:   &e.DealID,
		ResourceType: resourceTypeDeal,
		Category:     categorySuccess,
	})
	if notifyErr != nil {
		notifyErr = fmt.Errorf("insert stage change notification: %w", notifyErr)
	}

	mailErr := m.emailOwner(ctx, e.OriginID, *e.OwnerID, func(to string) error {
		return m.sender.SendDealStageChangedEmail(ctx, to, email.DealStageChangedEmail{
			ContactName: contactName,
			StageName:   e.ToStageName,
			Trigger:     e.TriggerSource,
			DealURL:     m.dealURL(e.DealID),
		})
	})

	m.log.Info("notification: stage change delivered", "dealId", e.DealID, "ownerId", *e.OwnerID)
	return errors.Join(notifyErr, mailErr)
}

func (m *Module) emailOwner(ctx context.Context, originID, ownerID uuid.UUID, send func(to string) error) error {
	if m.sender == nil {
		return nil
	}
	to, err := m.store.OwnerEmail(ctx, originID, ownerID)
	if err != nil {
		return fmt.Errorf("lookup owner email: %w", err)
	}
	if to == "" {
		return nil
	}
	if err := send(to); err != nil {
		m.log.Warn("notification: owner email failed", "error", err, "ownerId", ownerID)
		return fmt.Errorf("email owner: %w", err)
	}
	return nil
}

func (m *Module) contactName(ctx context.Context, contactID uuid.UUID) string {
	name, err := m.store.ContactName(ctx, contactID)
	if err != nil {
		m.log.Warn("notification: contact lookup failed", "error", err, "contactId", contactID)
	}
	if strings.TrimSpace(name) == "" {
		return defaultContact
	}
	return name
}

func (m *Module) dealURL(dealID uuid.UUID) string {
	if m.cfg == nil || m.cfg.GetAppBaseURL() == "" {
		return ""
	}
	return strings.TrimRight(m.cfg.GetAppBaseURL(), "/") + "/deals/" + dealID.String()
}

package notifications

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/labloan-backend/pkg/outbox/registry"
	"github.com/google/uuid"
)

// ConsumerName scopes the idempotency markers written by this subscriber.
const ConsumerName = "lending-notifications"

type writer interface {
	CreateBatch(ctx context.Context, notifications []models.Notification) error
}

type adminLister interface {
	ListActiveAdminIDs(ctx context.Context) ([]uuid.UUID, error)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// eventLedger is satisfied by idempotency.Ledger.
type eventLedger interface {
	Claim(ctx context.Context, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, eventID uuid.UUID) error
}

// ConsumerParams groups the consumer dependencies.
type ConsumerParams struct {
	Repo         writer
	Admins       adminLister
	Subscription receiver
	Idempotency  eventLedger
	Logger       *logger.Logger
}

// Consumer turns lending events into in-app notifications for borrowers and admins.
type Consumer struct {
	repo         writer
	admins       adminLister
	subscription receiver
	idempotency  eventLedger
	logg         *logger.Logger
}

// NewConsumer builds a lending notification consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if params.Admins == nil {
		return nil, fmt.Errorf("admin lister required")
	}
	if params.Subscription == nil {
		return nil, fmt.Errorf("lending subscription required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         params.Repo,
		admins:       params.Admins,
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack     bool
	nack    bool
	created int
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	})

	switch eventType {
	case enums.EventBorrowRequestCreated, enums.EventBorrowRequestTransitioned, enums.EventBorrowRequestReturnRequested:
	default:
		c.logg.Debug(logCtx, "skipping event without notification")
		return processResult{ack: true}
	}

	envelope, payload, err := registry.Decode(eventType, msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "undecodable lending event dropped", err)
		return processResult{ack: true}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "lending event without a valid id dropped", err)
		return processResult{ack: true}
	}

	first, err := c.idempotency.Claim(ctx, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !first {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	rows, err := c.buildNotifications(ctx, payload)
	if err == nil {
		err = c.repo.CreateBatch(ctx, rows)
	}
	if err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Release(ctx, eventID)
		return processResult{nack: true}
	}

	c.logg.Info(c.logg.WithField(logCtx, "notifications", len(rows)), "lending notifications created")
	return processResult{ack: true, created: len(rows)}
}

func (c *Consumer) buildNotifications(ctx context.Context, payload any) ([]models.Notification, error) {
	switch event := payload.(type) {
	case *payloads.BorrowRequestCreatedEvent:
		adminIDs, err := c.admins.ListActiveAdminIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list admins: %w", err)
		}
		link := fmt.Sprintf("/admin/requests/%s", event.RequestID)
		rows := make([]models.Notification, 0, len(adminIDs))
		for _, adminID := range adminIDs {
			rows = append(rows, models.Notification{
				UserID:  adminID,
				Type:    enums.NotificationTypeNewRequest,
				Title:   "New borrow request",
				Message: fmt.Sprintf("%s requested %d x %s.", event.UserName, event.Quantity, event.ComponentName),
				Link:    stringPtr(link),
			})
		}
		return rows, nil
	case *payloads.BorrowRequestTransitionedEvent:
		return []models.Notification{{
			UserID:  event.UserID,
			Type:    enums.NotificationTypeLoanUpdate,
			Title:   transitionTitle(event.To),
			Message: fmt.Sprintf("Your request for %d x %s is now %s.", event.Quantity, event.ComponentName, event.To),
			Link:    stringPtr(fmt.Sprintf("/requests/%s", event.RequestID)),
		}}, nil
	case *payloads.BorrowRequestReturnRequestedEvent:
		return []models.Notification{{
			UserID:  event.UserID,
			Type:    enums.NotificationTypeReturnRequest,
			Title:   "Return requested",
			Message: fmt.Sprintf("Please return %d x %s to the lab.", event.Quantity, event.ComponentName),
			Link:    stringPtr(fmt.Sprintf("/requests/%s", event.RequestID)),
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported payload %T", payload)
	}
}

func transitionTitle(status enums.RequestStatus) string {
	switch status {
	case enums.RequestStatusApproved:
		return "Request approved"
	case enums.RequestStatusRejected:
		return "Request rejected"
	case enums.RequestStatusReturned:
		return "Return confirmed"
	default:
		return "Request updated"
	}
}

func stringPtr(value string) *string {
	return &value
}

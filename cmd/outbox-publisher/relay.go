package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/labloan-backend/pkg/config"
	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/metrics"
	"github.com/angelmondragon/labloan-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/labloan-backend/pkg/outbox/registry"
)

const (
	publishTimeout = 15 * time.Second
	maxIdleBackoff = 10 * time.Second
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// topicPublisher sends one message and blocks until the broker acknowledges it.
type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) (string, error)
}

// RelayDeps groups what the relay needs besides its tuning knobs.
type RelayDeps struct {
	Logger     *logger.Logger
	DB         txRunner
	Broker     interface{ Ping(context.Context) error }
	Events     eventStore
	DeadLetter deadLetterStore
	Registry   eventResolver
	Topic      topicPublisher
	Metrics    *metrics.OutboxMetrics
}

// Relay moves committed lending events from outbox_events onto the lending topic.
type Relay struct {
	deps        RelayDeps
	batch       int
	maxAttempts int
	idle        time.Duration
}

func NewRelay(cfg config.OutboxConfig, deps RelayDeps) (*Relay, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.DB == nil:
		return nil, errors.New("database client is required")
	case deps.Broker == nil:
		return nil, errors.New("pubsub client is required")
	case deps.Events == nil || deps.DeadLetter == nil:
		return nil, errors.New("outbox repositories are required")
	case deps.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	r := &Relay{
		deps:        deps,
		batch:       cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		idle:        time.Duration(cfg.PollIntervalMS) * time.Millisecond,
	}
	if r.batch <= 0 {
		r.batch = 50
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 10
	}
	if r.idle <= 0 {
		r.idle = 500 * time.Millisecond
	}
	return r, nil
}

// Run drains the outbox until ctx is canceled. An empty poll sleeps for the
// idle interval; a failed batch doubles the wait up to maxIdleBackoff.
func (r *Relay) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": r.deps.DB.Ping,
		"pubsub":   r.deps.Broker.Ping,
	} {
		if err := ping(ctx); err != nil {
			r.deps.Logger.Error(ctx, name+" not ready", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	wait := r.idle
	for {
		drained, err := r.drain(ctx)
		switch {
		case err != nil:
			r.deps.Logger.Error(ctx, "outbox drain failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case drained > 0:
			wait = r.idle
			continue
		default:
			wait = r.idle
		}

		timer := time.NewTimer(wait + jitter(wait))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.deps.Logger.Info(ctx, "outbox relay stopping")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func jitter(d time.Duration) time.Duration {
	if d < 4 {
		return 0
	}
	return rand.N(d / 4)
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

// drain claims one batch inside a transaction and settles every row in it.
func (r *Relay) drain(ctx context.Context) (int, error) {
	var claimed int
	err := r.deps.DB.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.deps.Events.FetchUnpublishedForPublish(tx, r.batch, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		claimed = len(rows)
		if claimed == 0 {
			return nil
		}
		r.deps.Metrics.ObserveBatch(claimed)

		for _, row := range rows {
			if err := r.settle(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	result, reason, sendErr := r.deliver(ctx, row)
	logCtx := r.deps.Logger.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"aggregate_id":  row.AggregateID.String(),
		"attempt_count": row.AttemptCount + 1,
	})

	switch result {
	case outcomePublished:
		if err := r.deps.Events.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.deps.Metrics.IncPublished(string(row.EventType))
		r.deps.Logger.Debug(logCtx, "lending event published")
	case outcomeRetry:
		if err := r.deps.Events.MarkFailedTx(tx, row.ID, sendErr); err != nil {
			return fmt.Errorf("mark failed %s: %w", row.ID, err)
		}
		r.deps.Metrics.IncFailed(string(row.EventType))
		r.deps.Logger.Warn(r.deps.Logger.WithField(logCtx, "error", sendErr.Error()), "lending event publish failed, will retry")
	case outcomeDeadLetter:
		if err := r.deps.DeadLetter.InsertTx(tx, deadLetterEntry(row, reason, sendErr)); err != nil {
			return fmt.Errorf("dead-letter %s: %w", row.ID, err)
		}
		if err := r.deps.Events.MarkTerminalTx(tx, row.ID, sendErr, r.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", row.ID, err)
		}
		r.deps.Metrics.IncDeadLettered(string(reason))
		r.deps.Logger.Warn(r.deps.Logger.WithFields(logCtx, map[string]any{
			"error":        sendErr.Error(),
			"error_reason": reason,
		}), "lending event dead-lettered")
	}
	return nil
}

// deliver resolves the row against the lending registry and publishes it.
// Rows that can never be published are dead-lettered at once; transient
// broker errors are retried until the attempt ceiling.
func (r *Relay) deliver(ctx context.Context, row models.OutboxEvent) (outcome, enums.OutboxDLQErrorReason, error) {
	resolved, err := r.deps.Registry.Resolve(row)
	if err != nil {
		return outcomeDeadLetter, enums.OutboxDLQReasonNonRetryable, err
	}
	if r.deps.Topic == nil {
		return outcomeDeadLetter, enums.OutboxDLQReasonNonRetryable, fmt.Errorf("no publisher for topic %s", resolved.Topic)
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := r.deps.Topic.Publish(publishCtx, lendingMessage(row, resolved)); err != nil {
		if row.AttemptCount+1 >= r.maxAttempts {
			return outcomeDeadLetter, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("giving up after %d attempts: %w", row.AttemptCount+1, err)
		}
		return outcomeRetry, "", err
	}
	return outcomePublished, "", nil
}

// lendingMessage copies the stored envelope verbatim and lifts the lending
// identifiers into attributes so subscribers can filter without decoding.
func lendingMessage(row models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
	}
	switch p := resolved.Payload.(type) {
	case *payloads.BorrowRequestCreatedEvent:
		attrs["component_id"] = p.ComponentID.String()
		attrs["user_id"] = p.UserID.String()
		attrs["status"] = string(enums.RequestStatusPending)
	case *payloads.BorrowRequestTransitionedEvent:
		attrs["component_id"] = p.ComponentID.String()
		attrs["user_id"] = p.UserID.String()
		attrs["status"] = string(p.To)
	case *payloads.BorrowRequestReturnRequestedEvent:
		attrs["component_id"] = p.ComponentID.String()
		attrs["user_id"] = p.UserID.String()
		attrs["status"] = string(enums.RequestStatusApproved)
	case *payloads.ComponentEvent:
		attrs["component_id"] = p.ComponentID.String()
	}
	return &gcppubsub.Message{Data: row.Payload, Attributes: attrs}
}

func deadLetterEntry(row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) models.OutboxDLQ {
	msg := cause.Error()
	return models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
}

// pubsubTopic adapts a Pub/Sub publisher to the synchronous topicPublisher.
type pubsubTopic struct {
	publisher *gcppubsub.Publisher
}

func newPubSubTopic(p *gcppubsub.Publisher) topicPublisher {
	if p == nil {
		return nil
	}
	return pubsubTopic{publisher: p}
}

func (t pubsubTopic) Publish(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	return t.publisher.Publish(ctx, msg).Get(ctx)
}

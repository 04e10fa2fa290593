package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/labloan-backend/pkg/config"
	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/metrics"
	"github.com/angelmondragon/labloan-backend/pkg/outbox"
	"github.com/angelmondragon/labloan-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/labloan-backend/pkg/outbox/registry"
)

func TestRelayPublishesApprovalWithLendingAttributes(t *testing.T) {
	componentID := uuid.New()
	userID := uuid.New()
	row := approvalRow(t, userID, componentID)
	store := &memoryEventStore{rows: []models.OutboxEvent{row}}
	topic := &recordingTopic{}
	relay := newTestRelay(t, store, &memoryDeadLetters{}, topic, config.OutboxConfig{})

	drained, err := relay.drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if drained != 1 {
		t.Fatalf("expected one row claimed, got %d", drained)
	}
	if len(store.published) != 1 || store.published[0] != row.ID {
		t.Fatalf("expected row %s marked published, got %v", row.ID, store.published)
	}
	if len(topic.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(topic.sent))
	}
	attrs := topic.sent[0].Attributes
	want := map[string]string{
		"event_type":   string(enums.EventBorrowRequestTransitioned),
		"aggregate_id": row.AggregateID.String(),
		"component_id": componentID.String(),
		"user_id":      userID.String(),
		"status":       string(enums.RequestStatusApproved),
	}
	for key, value := range want {
		if attrs[key] != value {
			t.Fatalf("attribute %s = %q, want %q", key, attrs[key], value)
		}
	}
	if string(topic.sent[0].Data) != string(row.Payload) {
		t.Fatalf("message data must be the stored envelope")
	}
}

func TestRelayRetriesTransientFailureAndKeepsGoing(t *testing.T) {
	first := approvalRow(t, uuid.New(), uuid.New())
	second := approvalRow(t, uuid.New(), uuid.New())
	store := &memoryEventStore{rows: []models.OutboxEvent{first, second}}
	topic := &recordingTopic{failures: []error{errors.New("unavailable"), nil}}
	dlq := &memoryDeadLetters{}
	relay := newTestRelay(t, store, dlq, topic, config.OutboxConfig{MaxAttempts: 5})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(store.failed) != 1 || store.failed[0] != first.ID {
		t.Fatalf("expected first row marked failed, got %v", store.failed)
	}
	if len(store.published) != 1 || store.published[0] != second.ID {
		t.Fatalf("expected second row published, got %v", store.published)
	}
	if len(dlq.entries) != 0 {
		t.Fatalf("transient failure must not dead-letter")
	}
}

func TestRelayDeadLettersOnLastAttempt(t *testing.T) {
	row := approvalRow(t, uuid.New(), uuid.New())
	row.AttemptCount = 2
	store := &memoryEventStore{rows: []models.OutboxEvent{row}}
	topic := &recordingTopic{failures: []error{errors.New("deadline exceeded")}}
	dlq := &memoryDeadLetters{}
	relay := newTestRelay(t, store, dlq, topic, config.OutboxConfig{MaxAttempts: 3})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected reason %s", entry.ErrorReason)
	}
	if entry.EventID != row.ID || string(entry.Payload) != string(row.Payload) {
		t.Fatalf("dead letter must keep the original row")
	}
	if len(store.terminal) != 1 || store.terminal[0] != row.ID {
		t.Fatalf("expected row pinned terminal, got %v", store.terminal)
	}
}

func TestRelayDeadLettersUnknownEventType(t *testing.T) {
	row := approvalRow(t, uuid.New(), uuid.New())
	row.EventType = enums.OutboxEventType("component_scrapped")
	store := &memoryEventStore{rows: []models.OutboxEvent{row}}
	topic := &recordingTopic{}
	dlq := &memoryDeadLetters{}
	relay := newTestRelay(t, store, dlq, topic, config.OutboxConfig{})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(topic.sent) != 0 {
		t.Fatalf("unknown event must not be published")
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("expected non-retryable dead letter, got %+v", dlq.entries)
	}
}

func TestRelayDeadLettersWithoutTopic(t *testing.T) {
	row := approvalRow(t, uuid.New(), uuid.New())
	store := &memoryEventStore{rows: []models.OutboxEvent{row}}
	dlq := &memoryDeadLetters{}
	relay := newTestRelay(t, store, dlq, nil, config.OutboxConfig{})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("expected non-retryable dead letter, got %+v", dlq.entries)
	}
	if len(store.published) != 0 {
		t.Fatalf("nothing should be published")
	}
}

func TestRelayCountsOutcomes(t *testing.T) {
	store := &memoryEventStore{rows: []models.OutboxEvent{
		approvalRow(t, uuid.New(), uuid.New()),
		approvalRow(t, uuid.New(), uuid.New()),
	}}
	topic := &recordingTopic{failures: []error{nil, errors.New("unavailable")}}
	relay := newTestRelay(t, store, &memoryDeadLetters{}, topic, config.OutboxConfig{MaxAttempts: 5})
	reg := prometheus.NewRegistry()
	relay.deps.Metrics = metrics.NewOutboxMetrics(reg)

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	transitioned := string(enums.EventBorrowRequestTransitioned)
	if got := counterValue(t, reg, "labloan_outbox_published_total", transitioned); got != 1 {
		t.Fatalf("published = %v, want 1", got)
	}
	if got := counterValue(t, reg, "labloan_outbox_publish_failures_total", transitioned); got != 1 {
		t.Fatalf("failures = %v, want 1", got)
	}
}

func TestRelayRunFailsWhenBrokerUnreachable(t *testing.T) {
	relay := newTestRelay(t, &memoryEventStore{}, &memoryDeadLetters{}, &recordingTopic{}, config.OutboxConfig{})
	relay.deps.Broker = pingStub{err: errors.New("no route to pubsub")}

	if err := relay.Run(context.Background()); err == nil {
		t.Fatalf("expected readiness error")
	}
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	relay := newTestRelay(t, &memoryEventStore{}, &memoryDeadLetters{}, &recordingTopic{}, config.OutboxConfig{PollIntervalMS: 5})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := relay.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func newTestRelay(t *testing.T, store eventStore, dlq deadLetterStore, topic *recordingTopic, cfg config.OutboxConfig) *Relay {
	t.Helper()
	reg, err := registry.NewEventRegistry(config.PubSubConfig{LendingTopic: "lending-events"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	deps := RelayDeps{
		Logger:     logger.New(logger.Options{ServiceName: "outbox-relay-test", Output: io.Discard}),
		DB:         inlineTx{},
		Broker:     pingStub{},
		Events:     store,
		DeadLetter: dlq,
		Registry:   reg,
	}
	if topic != nil {
		deps.Topic = topic
	}
	relay, err := NewRelay(cfg, deps)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	return relay
}

func approvalRow(t *testing.T, userID, componentID uuid.UUID) models.OutboxEvent {
	t.Helper()
	requestID := uuid.New()
	data, err := json.Marshal(payloads.BorrowRequestTransitionedEvent{
		RequestID:     requestID,
		UserID:        userID,
		ComponentID:   componentID,
		ComponentName: "Oscilloscope",
		Quantity:      1,
		From:          enums.RequestStatusPending,
		To:            enums.RequestStatusApproved,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventBorrowRequestTransitioned,
		AggregateType: enums.AggregateBorrowRequest,
		AggregateID:   requestID,
		Payload:       envelope,
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, pair := range m.GetLabel() {
				if pair.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

type inlineTx struct{}

func (inlineTx) Ping(context.Context) error { return nil }

func (inlineTx) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

type memoryEventStore struct {
	rows      []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (m *memoryEventStore) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	if limit < len(m.rows) {
		return m.rows[:limit], nil
	}
	return m.rows, nil
}

func (m *memoryEventStore) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	m.published = append(m.published, id)
	return nil
}

func (m *memoryEventStore) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	m.failed = append(m.failed, id)
	return nil
}

func (m *memoryEventStore) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	m.terminal = append(m.terminal, id)
	return nil
}

type memoryDeadLetters struct {
	entries []models.OutboxDLQ
}

func (m *memoryDeadLetters) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	m.entries = append(m.entries, entry)
	return nil
}

type recordingTopic struct {
	failures []error
	sent     []*gcppubsub.Message
}

func (r *recordingTopic) Publish(_ context.Context, msg *gcppubsub.Message) (string, error) {
	var err error
	if len(r.failures) > 0 {
		err, r.failures = r.failures[0], r.failures[1:]
	}
	if err == nil {
		r.sent = append(r.sent, msg)
	}
	return "msg-id", err
}

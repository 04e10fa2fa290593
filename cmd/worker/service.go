package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/labloan-backend/pkg/logger"
)

const (
	heartbeatInterval = 30 * time.Second
	// A consumer that ran at least this long before failing starts a fresh
	// restart budget.
	healthyRun      = time.Minute
	maxRestarts     = 5
	firstRestartGap = time.Second
	maxRestartGap   = 30 * time.Second
)

type pinger interface {
	Ping(context.Context) error
}

type runner interface {
	Run(context.Context) error
}

type ServiceParams struct {
	Logger               *logger.Logger
	DB                   pinger
	Redis                pinger
	PubSub               pinger
	NotificationConsumer runner
}

// Service keeps the lending notification consumer attached to its
// subscription. A stream that drops is reopened with backoff until it fails
// maxRestarts times in a row.
type Service struct {
	logg      *logger.Logger
	deps      []namedPinger
	consumer  runner
	heartbeat time.Duration
	firstGap  time.Duration
}

type namedPinger struct {
	name string
	pinger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.NotificationConsumer == nil {
		return nil, errors.New("notification consumer is required")
	}
	deps := []namedPinger{{"database", params.DB}, {"redis", params.Redis}, {"pubsub", params.PubSub}}
	for _, d := range deps {
		if d.pinger == nil {
			return nil, fmt.Errorf("%s client is required", d.name)
		}
	}
	return &Service{
		logg:      params.Logger,
		deps:      deps,
		consumer:  params.NotificationConsumer,
		heartbeat: heartbeatInterval,
		firstGap:  firstRestartGap,
	}, nil
}

// Run blocks until ctx ends or the consumer exhausts its restart budget.
func (s *Service) Run(ctx context.Context) error {
	for _, d := range s.deps {
		if err := d.Ping(ctx); err != nil {
			s.logg.Error(ctx, d.name+" not ready", err)
			return fmt.Errorf("%s ping failed: %w", d.name, err)
		}
	}
	s.logg.Info(ctx, "notification worker dependencies ready")

	failures := 0
	gap := s.firstGap
	for {
		started := time.Now()
		err := s.supervise(ctx)
		if ctx.Err() != nil {
			s.logg.Info(ctx, "notification worker stopping")
			return ctx.Err()
		}
		if err == nil {
			err = errors.New("consumer returned without error")
		}

		if time.Since(started) >= healthyRun {
			failures, gap = 0, s.firstGap
		}
		failures++
		restartCtx := s.logg.WithFields(ctx, map[string]any{"restart": failures, "backoff_ms": gap.Milliseconds()})
		if failures > maxRestarts {
			s.logg.Error(restartCtx, "lending consumer keeps failing, giving up", err)
			return fmt.Errorf("lending consumer failed %d times: %w", failures, err)
		}
		s.logg.Warn(s.logg.WithField(restartCtx, "error_message", err.Error()), "lending consumer stopped, reopening subscription")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(gap):
		}
		gap = min(gap*2, maxRestartGap)
	}
}

// supervise runs one consumer session and logs heartbeats while it lasts.
func (s *Service) supervise(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.consumer.Run(ctx) }()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ticker.C:
			s.logg.Debug(ctx, "notification worker heartbeat")
		}
	}
}

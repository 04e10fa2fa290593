package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/metrics"
)

const defaultInterval = 15 * time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Jobs     []Job
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service sweeps the lending tables on a fixed cadence. Only the replica
// holding the lock sweeps; the others skip the tick.
type Service struct {
	logg     *logger.Logger
	jobs     []Job
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	s := &Service{
		logg:     params.Logger,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
	}
	for _, job := range params.Jobs {
		if job != nil {
			s.jobs = append(s.jobs, job)
		}
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s, nil
}

// Run sweeps once immediately, then on every tick until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.sweep(ctx); err != nil {
			s.logg.Error(ctx, "cron sweep failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) sweep(ctx context.Context) (err error) {
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !held {
		s.logg.Info(ctx, "cron lock held by another replica, skipping sweep")
		return nil
	}
	defer func() {
		err = multierr.Append(err, s.lock.Release(ctx))
	}()

	for _, job := range s.jobs {
		jobCtx := s.logg.WithField(ctx, "job", job.Name())
		start := time.Now()
		runErr := job.Run(jobCtx)
		took := time.Since(start)
		s.metrics.Observe(job.Name(), took, runErr)

		jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
		if runErr != nil {
			s.logg.Error(jobCtx, "cron job failed", runErr)
			err = multierr.Append(err, fmt.Errorf("%s: %w", job.Name(), runErr))
			continue
		}
		s.logg.Info(jobCtx, "cron job done")
	}
	return err
}

package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/labloan-backend/pkg/logger"
)

const (
	defaultRetentionDays = 30

	// Unpublished outbox rows are only pruned once the relay has given up on them.
	abandonedOutboxAttempts = 5
)

type notificationPruner interface {
	DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

// RetentionParams configures the two pruning jobs. Zero day counts fall back
// to 30 days.
type RetentionParams struct {
	Logger           *logger.Logger
	DB               txRunner
	Notifications    notificationPruner
	Outbox           outboxPruner
	NotificationDays int
	OutboxDays       int
}

// NewRetentionJobs returns a job that drops read notifications and one that
// drops relayed outbox rows, each past its retention window.
func NewRetentionJobs(p RetentionParams) ([]Job, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger required")
	case p.DB == nil:
		return nil, errors.New("db runner required")
	case p.Notifications == nil || p.Outbox == nil:
		return nil, errors.New("notification and outbox repositories required")
	}
	notify := p.job("notification-retention", p.NotificationDays, p.Notifications.DeleteOlderThan)
	relayed := p.job("outbox-retention", p.OutboxDays, func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
		return p.Outbox.DeletePublishedBefore(ctx, tx, cutoff, abandonedOutboxAttempts)
	})
	return []Job{notify, relayed}, nil
}

type pruneJob struct {
	name  string
	days  int
	prune func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	logg  *logger.Logger
	db    txRunner
	now   func() time.Time
}

func (j *pruneJob) Name() string { return j.name }

func (j *pruneJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.days)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.prune(ctx, tx, cutoff)
		deleted = n
		return err
	})
	if err != nil {
		return fmt.Errorf("prune before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "retention sweep done")
	return nil
}

func (p RetentionParams) job(name string, days int, prune func(context.Context, *gorm.DB, time.Time) (int64, error)) *pruneJob {
	if days <= 0 {
		days = defaultRetentionDays
	}
	return &pruneJob{name: name, days: days, prune: prune, logg: p.Logger, db: p.DB, now: time.Now}
}

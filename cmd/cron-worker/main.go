package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/labloan-backend/internal/boot"
	"github.com/angelmondragon/labloan-backend/internal/cron"
	"github.com/angelmondragon/labloan-backend/internal/inventory"
	"github.com/angelmondragon/labloan-backend/internal/notifications"
	"github.com/angelmondragon/labloan-backend/pkg/metrics"
	"github.com/angelmondragon/labloan-backend/pkg/outbox"
	"github.com/angelmondragon/labloan-backend/pkg/redis"
)

func main() {
	p := boot.Start("cron-worker")
	defer p.Close()
	cfg, conn := p.Config, p.DB.DB()

	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	// One lock per environment: staging and production replicas never block
	// each other's audits.
	lock := boot.Must(p, "cron lock", func() (*cron.RedisLock, error) {
		return cron.NewRedisLock(p.Redis(), redis.CronLockKey(env), cfg.Cron.LockTTL)
	})

	audit := boot.Must(p, "inventory audit job", func() (cron.Job, error) {
		return cron.NewInventoryAuditJob(cron.InventoryAuditJobParams{
			Logger:     p.Logger,
			Repository: inventory.NewRepository(conn),
			Metrics:    metrics.NewInventoryMetrics(prometheus.DefaultRegisterer),
		})
	})
	retention := boot.Must(p, "retention jobs", func() ([]cron.Job, error) {
		return cron.NewRetentionJobs(cron.RetentionParams{
			Logger:           p.Logger,
			DB:               p.DB,
			Notifications:    notifications.NewRepository(conn),
			Outbox:           outbox.NewRepository(conn),
			NotificationDays: cfg.Cron.NotificationRetention,
			OutboxDays:       cfg.Cron.OutboxRetention,
		})
	})
	service := boot.Must(p, "cron service", func() (*cron.Service, error) {
		return cron.NewService(cron.ServiceParams{
			Logger:   p.Logger,
			Jobs:     append([]cron.Job{audit}, retention...),
			Lock:     lock,
			Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
			Interval: cfg.Cron.InventoryAuditInterval,
		})
	})

	ctx, stop := p.Context()
	defer stop()
	p.ServeMetrics(ctx, prometheus.DefaultGatherer)
	p.Logger.Info(p.Logger.WithField(ctx, "interval", cfg.Cron.InventoryAuditInterval.String()), "auditing lab inventory")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.Fatal(ctx, "cron worker", err)
	}
	p.Logger.Info(ctx, "cron worker stopped")
}

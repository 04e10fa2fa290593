package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/labloan-backend/internal/boot"
	"github.com/angelmondragon/labloan-backend/internal/notifications"
	"github.com/angelmondragon/labloan-backend/internal/users"
	"github.com/angelmondragon/labloan-backend/pkg/outbox/idempotency"
)

func main() {
	p := boot.Start("worker")
	defer p.Close()
	cfg, conn := p.Config, p.DB.DB()
	store, broker := p.Redis(), p.PubSub()

	subscription := broker.LendingSubscription()
	if subscription == nil {
		p.Fatal(context.Background(), "lending subscription", errors.New("LABLOAN_PUBSUB_LENDING_SUBSCRIPTION is not set"))
	}
	ledger := boot.Must(p, "event ledger", func() (*idempotency.Ledger, error) {
		return idempotency.NewLedger(store, notifications.ConsumerName, cfg.Eventing.OutboxIdempotencyTTL)
	})
	consumer := boot.Must(p, "notification consumer", func() (*notifications.Consumer, error) {
		return notifications.NewConsumer(notifications.ConsumerParams{
			Repo:         notifications.NewRepository(conn),
			Admins:       users.NewRepository(conn),
			Subscription: subscription,
			Idempotency:  ledger,
			Logger:       p.Logger,
		})
	})
	service := boot.Must(p, "notification worker", func() (*Service, error) {
		return NewService(ServiceParams{
			Logger:               p.Logger,
			DB:                   p.DB,
			Redis:                store,
			PubSub:               broker,
			NotificationConsumer: consumer,
		})
	})

	ctx, stop := p.Context()
	defer stop()
	p.ServeMetrics(ctx, prometheus.DefaultGatherer)
	p.Logger.Info(ctx, "notifying borrowers and lab admins")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.Fatal(ctx, "notification worker", err)
	}
	p.Logger.Info(ctx, "notification worker stopped")
}

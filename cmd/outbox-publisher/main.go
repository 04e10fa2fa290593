package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/labloan-backend/internal/boot"
	"github.com/angelmondragon/labloan-backend/pkg/metrics"
	"github.com/angelmondragon/labloan-backend/pkg/outbox"
	"github.com/angelmondragon/labloan-backend/pkg/outbox/registry"
)

func main() {
	p := boot.Start("outbox-publisher")
	defer p.Close()
	cfg, conn := p.Config, p.DB.DB()
	broker := p.PubSub()

	events := boot.Must(p, "lending event registry", func() (*registry.EventRegistry, error) {
		return registry.NewEventRegistry(cfg.PubSub)
	})
	relay := boot.Must(p, "outbox relay", func() (*Relay, error) {
		return NewRelay(cfg.Outbox, RelayDeps{
			Logger:     p.Logger,
			DB:         p.DB,
			Broker:     broker,
			Events:     outbox.NewRepository(conn),
			DeadLetter: outbox.NewDLQRepository(conn),
			Registry:   events,
			Topic:      newPubSubTopic(broker.LendingPublisher()),
			Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
		})
	})

	ctx, stop := p.Context()
	defer stop()
	p.ServeMetrics(ctx, prometheus.DefaultGatherer)
	p.Logger.Info(p.Logger.WithField(ctx, "topic", cfg.PubSub.LendingTopic), "relaying lending events")

	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.Fatal(ctx, "outbox relay", err)
	}
	p.Logger.Info(ctx, "outbox relay stopped")
}

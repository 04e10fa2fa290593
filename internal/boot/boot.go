// Package boot brings up what every labloan process shares: environment,
// config, the logger, Postgres with the dev schema, and on request Redis and
// Pub/Sub. Failures during startup end the process after closing whatever was
// already opened.
package boot

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/labloan-backend/pkg/config"
	"github.com/angelmondragon/labloan-backend/pkg/db"
	"github.com/angelmondragon/labloan-backend/pkg/instance"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/metrics"
	"github.com/angelmondragon/labloan-backend/pkg/migrate"
	"github.com/angelmondragon/labloan-backend/pkg/pubsub"
	"github.com/angelmondragon/labloan-backend/pkg/redis"
)

// Process holds the shared clients of one running binary.
type Process struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client

	redis   *redis.Client
	pubsub  *pubsub.Client
	closers []namedCloser
	exit    func(int)
}

type namedCloser struct {
	name  string
	close func() error
}

// Start prepares a process of the given kind ("api", "worker", ...).
func Start(kind string) *Process {
	p := &Process{Kind: kind, Logger: logger.New(logger.Options{ServiceName: kind}), exit: os.Exit}
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		p.Logger.Debug(ctx, "no .env file, using process environment")
	}
	cfg, err := config.Load()
	if err != nil {
		p.Fatal(ctx, "load config", err)
	}
	cfg.Service.Kind = kind
	p.Config = cfg
	p.Logger = logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	p.DB = Must(p, "open database", func() (*db.Client, error) { return db.New(ctx, cfg.DB, p.Logger) })
	p.onClose("database", p.DB.Close)
	if err := migrate.MaybeRunDev(ctx, cfg, p.Logger, p.DB); err != nil {
		p.Fatal(ctx, "apply dev schema", err)
	}
	return p
}

// Must runs build and ends the process when it fails.
func Must[T any](p *Process, what string, build func() (T, error)) T {
	v, err := build()
	if err != nil {
		p.Fatal(context.Background(), what, err)
	}
	return v
}

// Redis opens the session, replay and lock store on first use.
func (p *Process) Redis() *redis.Client {
	if p.redis == nil {
		p.redis = Must(p, "open redis", func() (*redis.Client, error) {
			return redis.New(context.Background(), p.Config.Redis, p.Logger)
		})
		p.onClose("redis", p.redis.Close)
	}
	return p.redis
}

// PubSub opens the lending topic and subscription client on first use.
func (p *Process) PubSub() *pubsub.Client {
	if p.pubsub == nil {
		p.pubsub = Must(p, "open pubsub", func() (*pubsub.Client, error) {
			return pubsub.NewClient(context.Background(), p.Config.GCP, p.Config.PubSub, p.Logger)
		})
		p.onClose("pubsub", p.pubsub.Close)
	}
	return p.pubsub
}

func (p *Process) onClose(name string, fn func() error) {
	p.closers = append(p.closers, namedCloser{name: name, close: fn})
}

// Context is canceled on SIGINT or SIGTERM and carries the process fields
// every log line should have.
func (p *Process) Context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return p.Logger.WithFields(ctx, map[string]any{
		"env":          p.Config.App.Env,
		"service_kind": p.Kind,
		"instance":     instance.GetID(),
	}), stop
}

// ServeMetrics exposes gatherer on the configured metrics address, if any,
// until ctx ends.
func (p *Process) ServeMetrics(ctx context.Context, gatherer prometheus.Gatherer) {
	if p.Config.Metrics.Addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, p.Config.Metrics.Addr, gatherer); err != nil {
			p.Logger.Error(ctx, "metrics listener stopped", err)
		}
	}()
}

// Close releases clients in reverse order of opening.
func (p *Process) Close() {
	for _, c := range slices.Backward(p.closers) {
		if err := c.close(); err != nil {
			p.Logger.Error(context.Background(), "close "+c.name, err)
		}
	}
	p.closers = nil
}

// Fatal logs err, releases what was opened and exits with status 1.
func (p *Process) Fatal(ctx context.Context, what string, err error) {
	p.Logger.Error(ctx, what+" failed", err)
	p.Close()
	p.exit(1)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/labloan-backend/api/routes"
	"github.com/angelmondragon/labloan-backend/internal/auth"
	"github.com/angelmondragon/labloan-backend/internal/boot"
	"github.com/angelmondragon/labloan-backend/internal/inventory"
	"github.com/angelmondragon/labloan-backend/internal/lending"
	"github.com/angelmondragon/labloan-backend/internal/notifications"
	"github.com/angelmondragon/labloan-backend/internal/requests"
	"github.com/angelmondragon/labloan-backend/internal/users"
	"github.com/angelmondragon/labloan-backend/pkg/auth/session"
	"github.com/angelmondragon/labloan-backend/pkg/metrics"
	"github.com/angelmondragon/labloan-backend/pkg/outbox"
)

const shutdownTimeout = 15 * time.Second

func main() {
	p := boot.Start("api")
	defer p.Close()
	cfg, logg := p.Config, p.Logger
	store := p.Redis()

	ctx, stop := p.Context()
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	conn := p.DB.DB()
	userRepo := users.NewRepository(conn)
	componentRepo := inventory.NewRepository(conn)
	requestRepo := requests.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	// Shared by the inventory service and the engine so an admin edit and an
	// approval on the same component queue behind each other in this replica.
	locks := inventory.NewComponentLocks()

	sessions := boot.Must(p, "session manager", func() (*session.Manager, error) {
		return session.NewManager(store, cfg.JWT)
	})
	authService := boot.Must(p, "auth service", func() (auth.Service, error) {
		return auth.NewService(auth.ServiceParams{
			UserRepo:       userRepo,
			SessionManager: sessions,
			JWTConfig:      cfg.JWT,
			PasswordConfig: cfg.Password,
			Logger:         logg,
		})
	})
	registerService := boot.Must(p, "register service", func() (auth.RegisterService, error) {
		return auth.NewRegisterService(auth.RegisterServiceParams{DB: p.DB, PasswordConfig: cfg.Password})
	})
	inventoryService := boot.Must(p, "inventory service", func() (inventory.Service, error) {
		return inventory.NewService(inventory.ServiceParams{
			Repo:   componentRepo,
			TX:     p.DB,
			Outbox: emitter,
			Locks:  locks,
			Logger: logg,
		})
	})
	requestService := boot.Must(p, "request service", func() (requests.Service, error) {
		return requests.NewService(requests.ServiceParams{
			Repo:       requestRepo,
			Components: componentRepo,
			TX:         p.DB,
			Outbox:     emitter,
			Logger:     logg,
		})
	})
	engine := boot.Must(p, "lending engine", func() (*lending.Engine, error) {
		return lending.NewEngine(lending.EngineParams{
			Requests:    requestRepo,
			Components:  componentRepo,
			TX:          p.DB,
			Outbox:      emitter,
			Locks:       locks,
			Metrics:     metrics.NewLendingMetrics(reg),
			Logger:      logg,
			MaxAttempts: cfg.Lending.MaxAttempts,
		})
	})
	notificationService := boot.Must(p, "notifications service", func() (notifications.Service, error) {
		return notifications.NewService(notifications.NewRepository(conn))
	})

	boot.Must(p, "bootstrap admin", func() (bool, error) {
		return users.EnsureAdmin(ctx, users.BootstrapParams{
			Repo:     userRepo,
			App:      cfg.App,
			Seed:     cfg.Seed,
			Password: cfg.Password,
			Logger:   logg,
		})
	})
	if cfg.Seed.SampleData {
		boot.Must(p, "seed lab inventory", func() (int, error) { return inventoryService.SeedIfEmpty(ctx) })
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr: ":" + port,
		Handler: routes.NewRouter(routes.Deps{
			Config:          cfg,
			Logger:          logg,
			DB:              p.DB,
			Redis:           store,
			Sessions:        sessions,
			Auth:            authService,
			Register:        registerService,
			Inventory:       inventoryService,
			Requests:        requestService,
			Engine:          engine,
			Notifications:   notificationService,
			HTTPMetrics:     metrics.NewHTTPMetrics(reg),
			MetricsGatherer: reg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx = logg.WithField(ctx, "addr", server.Addr)
	logg.Info(ctx, "serving lab loan api")

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			p.Fatal(ctx, "api server", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown", err)
		}
		logg.Info(ctx, "api server stopped")
	}
}

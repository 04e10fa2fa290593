package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/labloan-backend/api/controllers"
	"github.com/angelmondragon/labloan-backend/api/middleware"
	"github.com/angelmondragon/labloan-backend/internal/auth"
	"github.com/angelmondragon/labloan-backend/internal/inventory"
	"github.com/angelmondragon/labloan-backend/internal/notifications"
	"github.com/angelmondragon/labloan-backend/internal/requests"
	pkgAuth "github.com/angelmondragon/labloan-backend/pkg/auth"
	"github.com/angelmondragon/labloan-backend/pkg/auth/session"
	"github.com/angelmondragon/labloan-backend/pkg/config"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/metrics"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(context.Context, string, string) (string, string, error)
	Revoke(context.Context, string) error
}

// RedisStore is the redis surface shared by rate limiting and idempotency.
type RedisStore interface {
	middleware.ReplayStore
	middleware.RateCounter
	Ping(ctx context.Context) error
}

type lendingEngine interface {
	Transition(ctx context.Context, actor pkgAuth.Actor, requestID uuid.UUID, target enums.RequestStatus) (*requests.RequestDTO, error)
	RequestReturn(ctx context.Context, actor pkgAuth.Actor, requestID uuid.UUID) (*requests.RequestDTO, error)
}

// Deps collects everything the HTTP surface needs.
type Deps struct {
	Config          *config.Config
	Logger          *logger.Logger
	DB              controllers.Pinger
	Redis           RedisStore
	Sessions        sessionManager
	Auth            auth.Service
	Register        auth.RegisterService
	Inventory       inventory.Service
	Requests        requests.Service
	Engine          lendingEngine
	Notifications   notifications.Service
	HTTPMetrics     *metrics.HTTPMetrics
	MetricsGatherer prometheus.Gatherer
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger
	redisClient := deps.Redis

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	loginPolicy := middleware.AuthRateLimitPolicy{
		Name:         "login",
		Window:       cfg.AuthRateLimit.LoginWindow,
		PerIP:        cfg.AuthRateLimit.LoginIPLimit,
		PerCollegeID: cfg.AuthRateLimit.LoginCollegeIDLimit,
	}
	registerPolicy := middleware.AuthRateLimitPolicy{
		Name:         "register",
		Window:       cfg.AuthRateLimit.RegisterWindow,
		PerIP:        cfg.AuthRateLimit.RegisterIPLimit,
		PerCollegeID: cfg.AuthRateLimit.RegisterCollegeIDLimit,
	}
	replay := middleware.NewReplay(redisClient, logg)
	idem := replay.For(middleware.ReplayTTL)
	decision := replay.For(middleware.DecisionReplayTTL)

	readiness := map[string]controllers.Pinger{"db": deps.DB}
	if redisClient != nil {
		readiness["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, redisClient, logg)).Post("/login", controllers.AuthLogin(deps.Auth, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, redisClient, logg), idem).Post("/register", controllers.AuthRegister(deps.Register, deps.Auth, logg))
		r.Post("/logout", controllers.AuthLogout(deps.Sessions, cfg.JWT, logg))
		r.Post("/refresh", controllers.AuthRefresh(deps.Sessions, cfg.JWT, logg))
		r.With(middleware.Auth(cfg.JWT, deps.Sessions, logg)).Get("/me", controllers.AuthMe(deps.Auth, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
		r.Use(middleware.RateLimit(redisClient, cfg.RateLimit.UserLimit, cfg.RateLimit.Window, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/components", func(r chi.Router) {
			r.Get("/", controllers.ListComponents(deps.Inventory, logg))
			r.Get("/{componentId}", controllers.GetComponent(deps.Inventory, logg))
		})

		r.Route("/v1/requests", func(r chi.Router) {
			r.With(middleware.RejectRole(enums.UserRoleAdmin, logg), idem).Post("/", controllers.CreateBorrowRequest(deps.Requests, logg))
			r.With(middleware.RejectRole(enums.UserRoleAdmin, logg)).Get("/me", controllers.ListMyRequests(deps.Requests, logg))
			r.Get("/{requestId}", controllers.GetBorrowRequest(deps.Requests, logg))
		})

		r.Route("/v1/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.With(idem).Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			r.With(idem).Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
		})

		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.UserRoleAdmin, logg))

			r.Route("/components", func(r chi.Router) {
				r.With(idem).Post("/", controllers.AdminCreateComponent(deps.Inventory, logg))
				r.With(decision).Put("/{componentId}/total", controllers.AdminSetComponentTotal(deps.Inventory, logg))
				r.Patch("/{componentId}", controllers.AdminUpdateComponent(deps.Inventory, logg))
			})

			r.Route("/requests", func(r chi.Router) {
				r.Get("/", controllers.AdminListRequests(deps.Requests, logg))
				r.With(decision).Patch("/{requestId}/status", controllers.AdminTransitionRequest(deps.Engine, logg))
				r.With(idem).Post("/{requestId}/request-return", controllers.AdminRequestReturn(deps.Engine, logg))
			})
		})
	})

	return r
}

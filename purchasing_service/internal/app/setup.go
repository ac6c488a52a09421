// Package app contains the application setup for the purchasing service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/abgdnv/marketplace/pkg/bootstrap"
	pkgconfig "github.com/abgdnv/marketplace/pkg/config"
	"github.com/abgdnv/marketplace/pkg/messaging"
	pkgnats "github.com/abgdnv/marketplace/pkg/nats"
	"github.com/abgdnv/marketplace/pkg/server"
	"github.com/abgdnv/marketplace/purchasing_service/internal/config"
	"github.com/abgdnv/marketplace/purchasing_service/internal/service"
	"github.com/abgdnv/marketplace/purchasing_service/internal/store"
	"github.com/abgdnv/marketplace/purchasing_service/internal/transport/rest"
	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// Backend is a data store that can also administer the catalog.
type Backend interface {
	store.Store
	store.Catalog
}

type Dependencies struct {
	PurchasingService service.PurchasingService
	CatalogService    service.CatalogService
	Health            *health.Server
	MetricsHandler    http.Handler
	MetricsPath       string
	Logger            *slog.Logger
}

func SetupDependencies(backend Backend, publisher messaging.Publisher, logger *slog.Logger) *Dependencies {
	return &Dependencies{
		PurchasingService: service.NewService(backend, publisher, logger),
		CatalogService:    service.NewCatalog(backend, backend, logger),
		Health:            health.NewServer(),
		Logger:            logger,
	}
}

// NewBackend opens the configured data store. The returned func releases it.
func NewBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, func(), error) {
	if cfg.Database.Driver == pkgconfig.DriverMemory {
		logger.Warn("Using the in-memory store, data is lost on restart")
		return store.NewMemoryStore(cfg.Checkout.LockTimeout), func() {}, nil
	}

	dbPool, err := bootstrap.NewDbPool(ctx, cfg.Database.URL, cfg.Database.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	logger.Info("Successfully connected to the database!")
	if err := bootstrap.Migrate(cfg.Database.URL, cfg.Database.Migrations, logger); err != nil {
		dbPool.Close()
		return nil, nil, err
	}
	return store.NewPgStore(dbPool, cfg.Checkout.LockTimeout), dbPool.Close, nil
}

// NewPublisher connects to NATS JetStream when enabled and guards publishing with a circuit breaker.
// Without NATS, events are dropped.
func NewPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (messaging.Publisher, func(), error) {
	if !cfg.Nats.Enabled {
		logger.Info("NATS is disabled, purchase events will not be published")
		return messaging.NopPublisher{}, func() {}, nil
	}
	nc, err := pkgnats.NewClient(cfg.Nats.Url, cfg.Nats.Timeout)
	if err != nil {
		return nil, nil, err
	}
	js, err := pkgnats.NewJetStreamContext(nc)
	if err != nil {
		return nil, nil, err
	}
	if err := pkgnats.EnsureStream(ctx, js, cfg.Nats.Stream, messaging.PurchasesCompletedSubject); err != nil {
		nc.Close()
		return nil, nil, err
	}
	publisher := messaging.NewBreakerPublisher("nats-publisher", pkgnats.NewNatsPublisher(js), cfg.CircuitBreaker)
	cleanup := func() {
		if err := nc.Drain(); err != nil {
			logger.Error("Failed to drain NATS connection", "error", err)
		}
	}
	return publisher, cleanup, nil
}

// SetupHttpHandler builds the router with every route of the service.
// Used by tests to exercise the service end to end.
func SetupHttpHandler(deps *Dependencies) http.Handler {
	mux := server.NewChiRouter(deps.Logger)
	wireRoutes(mux, deps)
	return mux
}

func wireRoutes(mux *chi.Mux, deps *Dependencies) {
	rest.NewHandler(deps.PurchasingService, deps.Logger).RegisterRoutes(mux)
	rest.NewAdminHandler(deps.CatalogService, deps.Logger).RegisterRoutes(mux)
	if deps.MetricsHandler != nil {
		mux.Handle(deps.MetricsPath, deps.MetricsHandler)
	}
}

// SetupHttpServer creates and configures the HTTP server.
func SetupHttpServer(deps *Dependencies, cfg *config.Config) *http.Server {
	mux := SetupHttpHandler(deps)

	httpCfg := server.HTTPConfig{
		Port:           cfg.HTTPServer.Port,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		ReadTimeout:    cfg.HTTPServer.Timeout.Read,
		WriteTimeout:   cfg.HTTPServer.Timeout.Write,
		IdleTimeout:    cfg.HTTPServer.Timeout.Idle,
		ReadHeader:     cfg.HTTPServer.Timeout.ReadHeader,
	}

	return server.NewHTTPServer(httpCfg, mux, "purchasing-http")
}

// SetupGrpcServer creates the gRPC server that answers health checks.
func SetupGrpcServer(deps *Dependencies, reflectionEnabled bool) *grpc.Server {
	return server.NewGRPCServer(reflectionEnabled, server.WithHealth(deps.Health))
}

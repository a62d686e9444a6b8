package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/auth"
	"github.com/pel/esocialize-portal/config"
	"github.com/pel/esocialize-portal/identity"
	"github.com/pel/esocialize-portal/internal/observability"
	"github.com/pel/esocialize-portal/middleware"
	"github.com/pel/esocialize-portal/services"
	"github.com/pel/esocialize-portal/services/audit"
	"github.com/pel/esocialize-portal/services/principal"
	"github.com/pel/esocialize-portal/services/session"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Store   *Store
	Retrier *services.Retrier

	// Services
	Audit      *audit.AuditService
	Principals *principal.Service
	Cache      *session.PrincipalCache

	// Auth
	Verifier       identity.Verifier
	authHandler    *auth.Handler
	AuthMiddleware *middleware.AuthMiddleware
	AdminLimiter   *middleware.RateLimiter
}

// AuthHandler returns the sign-in handler for route wiring
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// NewDependencies creates and wires up all application dependencies.
// The audit workers are running when it returns; call Close to stop them.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	if err := deps.initStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		_ = deps.Store.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := deps.initAuth(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.AdminLimiter = middleware.NewRateLimiter(cfg.RateLimit.AdminRPS, cfg.RateLimit.AdminBurst)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initStore opens the configured backend and brings its schema up to date
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	store, err := OpenStore(cfg.Store, d.Logger)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return err
	}

	d.Store = store
	d.Logger.Info("principal store ready",
		zap.String("driver", cfg.Store.Driver),
		zap.String("connection", cfg.Store.LogString()))
	return nil
}

// initServices builds the retrier, audit writer, principal service and cache
func (d *Dependencies) initServices(cfg *config.Config) error {
	d.Retrier = services.NewRetrier(services.RetryConfig{
		Attempts:         cfg.Store.RetryAttempts,
		InitialInterval:  cfg.Store.RetryInitial,
		MaxInterval:      cfg.Store.RetryMax,
		OperationTimeout: cfg.Store.OperationTimeout,
	}, d.Logger, d.Metrics)

	d.Audit = audit.NewAuditService(d.Store.Repos.AuditLogs, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	}, d.Metrics)
	if err := d.Audit.Start(); err != nil {
		return err
	}

	d.Principals = principal.NewService(d.Store.Repos.Principals, d.Retrier, d.Audit, d.Logger)
	d.Cache = session.NewPrincipalCache(d.Principals, cfg.Cache.MaxEntries, cfg.Cache.TTL, d.Logger, d.Metrics)
	d.Principals.SetInvalidator(d.Cache)
	return nil
}

// initAuth builds the token verifier chain and the sign-in handler
func (d *Dependencies) initAuth(ctx context.Context, cfg *config.Config) error {
	var (
		chain identity.Chain
		flow  auth.CodeFlow
	)

	if cfg.Identity.OIDCEnabled() {
		provider, err := identity.NewProvider(ctx, cfg.Identity)
		if err != nil {
			return err
		}
		chain = append(chain, provider)
		flow = provider
		d.Logger.Info("oidc provider configured", zap.String("issuer", cfg.Identity.IssuerURL))
	} else {
		d.Logger.Warn("oidc not configured, sign-in endpoints disabled")
	}

	if cfg.Identity.DevSecret != "" {
		dev, err := identity.NewHS256Verifier(cfg.Identity.DevSecret)
		if err != nil {
			return err
		}
		chain = append(chain, dev)
		d.Logger.Warn("development tokens accepted")
	}

	d.Verifier = chain
	d.AuthMiddleware = middleware.NewAuthMiddleware(chain, d.Cache, d.Logger)
	d.authHandler = auth.NewHandler(cfg.Identity, flow, chain, d.Cache, d.Logger)
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain queued audit events before the store goes away
	if d.Audit != nil {
		if err := d.Audit.Stop(d.Config.Server.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		} else {
			d.Logger.Info("store connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

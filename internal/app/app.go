// Package app wires repositories, the sandboxing engine, services and the
// HTTP router from the process-level dependencies main() opens.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"duck-sandbox/internal/api"
	"duck-sandbox/internal/config"
	"duck-sandbox/internal/db/repository"
	"duck-sandbox/internal/engine"
	"duck-sandbox/internal/middleware"
	"duck-sandbox/internal/observability"
	"duck-sandbox/internal/sandbox"
	"duck-sandbox/internal/service/catalog"
	"duck-sandbox/internal/service/governance"
	"duck-sandbox/internal/service/query"
	"duck-sandbox/internal/service/security"
)

// Deps holds the external dependencies that main() must provide: database
// handles, config and the logger.
type Deps struct {
	Cfg     *config.Config
	DuckDB  *sql.DB
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// App holds the fully-wired application.
type App struct {
	Services api.Services
	Engine   *engine.SecureEngine
	Sync     *engine.MetadataSync
	Policies *sandbox.PolicyCache
	Auth     *middleware.Authenticator
	Handler  *api.APIHandler

	cfg     *config.Config
	metrics *observability.Metrics
	logger  *slog.Logger
	bus     sandbox.Bus
}

// New wires all repositories, services and the engine. It loads the sample
// warehouse, syncs table metadata and seeds the sandboxing fixtures when the
// config asks for them.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// === Warehouse ===
	if cfg.LoadSampleData {
		if err := engine.LoadSampleData(ctx, deps.DuckDB); err != nil {
			return nil, fmt.Errorf("load sample data: %w", err)
		}
	}

	// === Repositories (write-pool) ===
	principalRepo := repository.NewPrincipalRepo(deps.WriteDB)
	groupRepo := repository.NewGroupRepo(deps.WriteDB)
	apiKeyRepo := repository.NewAPIKeyRepo(deps.WriteDB)
	auditRepo := repository.NewAuditRepo(deps.WriteDB)
	collectionRepo := repository.NewCollectionRepo(deps.WriteDB)
	cardRepo := repository.NewCardRepo(deps.WriteDB)
	metadataRepo := repository.NewMetadataRepo(deps.WriteDB)
	policyRepo := repository.NewSandboxPolicyRepo(deps.WriteDB)

	// === Repositories (read-pool) ===
	apiKeyLookup := repository.NewAPIKeyRepo(deps.ReadDB)
	policyReader := repository.NewSandboxPolicyRepo(deps.ReadDB)

	// === Metadata ===
	syncer := engine.NewMetadataSync(deps.DuckDB, metadataRepo, deps.Metrics, logger)
	if _, err := syncer.Sync(ctx); err != nil {
		return nil, fmt.Errorf("initial metadata sync: %w", err)
	}

	if cfg.SeedFixtures {
		s := seeder{
			principals:  principalRepo,
			groups:      groupRepo,
			collections: collectionRepo,
			cards:       cardRepo,
			metadata:    metadataRepo,
			logger:      logger.With("component", "seed"),
		}
		if err := s.seed(ctx); err != nil {
			return nil, fmt.Errorf("seed fixtures: %w", err)
		}
	}

	// === Sandboxing ===
	bus, err := newBus(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	policies := sandbox.NewPolicyCache(policyReader, cfg.PolicyCacheTTL, bus, deps.Metrics, logger)
	views := sandbox.NewViewCache(deps.Metrics)

	eng := engine.NewSecureEngine(engine.Deps{
		DuckDB:        deps.DuckDB,
		Principals:    principalRepo,
		Groups:        groupRepo,
		Metadata:      metadataRepo,
		Cards:         cardRepo,
		Collections:   collectionRepo,
		Policies:      policies,
		Views:         views,
		SchemaVersion: syncer.Version,
		MaxRows:       cfg.QueryMaxRows,
		Metrics:       deps.Metrics,
		Logger:        logger,
	})

	// === Services ===
	principalSvc := security.NewPrincipalService(principalRepo, auditRepo)
	svc := api.Services{
		Query:      query.NewQueryService(eng, cardRepo, auditRepo),
		Principal:  principalSvc,
		Group:      security.NewGroupService(groupRepo, auditRepo, policies),
		APIKey:     security.NewAPIKeyService(apiKeyRepo, auditRepo),
		Sandbox:    security.NewSandboxPolicyService(policyRepo, metadataRepo, groupRepo, eng.Evaluator(), eng, policies, auditRepo),
		Collection: catalog.NewCollectionService(collectionRepo, cardRepo, auditRepo),
		Card:       catalog.NewCardService(cardRepo, collectionRepo, policyRepo, views, policies, auditRepo),
		Metadata:   catalog.NewMetadataService(metadataRepo, syncer, views, auditRepo),
		Audit:      governance.NewAuditService(auditRepo),
	}

	// === Authentication ===
	validator, err := middleware.NewValidator(ctx, cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("configure token validation: %w", err)
	}
	var keys middleware.APIKeyLookup
	if cfg.Auth.APIKeyEnabled {
		keys = apiKeyLookup
	}
	auth := middleware.NewAuthenticator(validator, keys, principalRepo, principalSvc, cfg.Auth, logger.With("component", "auth"))

	return &App{
		Services: svc,
		Engine:   eng,
		Sync:     syncer,
		Policies: policies,
		Auth:     auth,
		Handler:  api.NewHandler(svc, logger.With("component", "api")),
		cfg:      cfg,
		metrics:  deps.Metrics,
		logger:   logger,
		bus:      bus,
	}, nil
}

// newBus picks the invalidation bus: Redis pub/sub when REDIS_URL is set,
// otherwise an in-process bus.
func newBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sandbox.Bus, error) {
	if cfg.RedisURL == "" {
		return sandbox.NewLocalBus(), nil
	}
	bus, err := sandbox.NewRedisBus(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect policy invalidation bus: %w", err)
	}
	logger.Info("policy invalidations shared over redis")
	return bus, nil
}

// Start schedules metadata sync and subscribes the policy cache to remote
// invalidations. Both stop when ctx is done or Close is called.
func (a *App) Start(ctx context.Context) error {
	if err := a.Sync.Start(a.cfg.SchemaSyncSchedule); err != nil {
		return err
	}
	go func() {
		if err := a.Policies.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("policy invalidation listener stopped", "error", err)
		}
	}()
	return nil
}

// Close stops background work and releases the invalidation bus.
func (a *App) Close() error {
	a.Sync.Stop()
	if a.bus != nil {
		return a.bus.Close()
	}
	return nil
}

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/locations"
	"github.com/abdialidrus/scm-mining/internal/observability"
	"github.com/abdialidrus/scm-mining/internal/picking"
	"github.com/abdialidrus/scm-mining/internal/platform/db"
	"github.com/abdialidrus/scm-mining/internal/putaway"
	"github.com/abdialidrus/scm-mining/internal/rbac"
	"github.com/abdialidrus/scm-mining/internal/receiving"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
	"github.com/abdialidrus/scm-mining/jobs"
)

// Repositories groups the storage ports of the warehouse modules.
type Repositories struct {
	Receiving receiving.RepositoryPort
	PutAway   putaway.RepositoryPort
	Picking   picking.RepositoryPort
	Ledger    ledger.RepositoryPort
	Serials   serials.RepositoryPort
	Locations locations.RepositoryPort
}

// PostgresRepositories builds pgx backed repositories sharing one pool.
func PostgresRepositories(pool *pgxpool.Pool, cfg *Config) Repositories {
	var opts []db.TxOption
	if cfg != nil {
		opts = append(opts, db.WithLockTimeout(cfg.PGLockTimeout), db.WithStatementTimeout(cfg.PGStatementTimeout))
	}
	return Repositories{
		Receiving: receiving.NewRepository(pool, opts...),
		PutAway:   putaway.NewRepository(pool, opts...),
		Picking:   picking.NewRepository(pool, opts...),
		Ledger:    ledger.NewRepository(pool, opts...),
		Serials:   serials.NewRepository(pool, opts...),
		Locations: locations.NewRepository(pool, opts...),
	}
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ModuleDeps carries the collaborators shared by every module.
type ModuleDeps struct {
	Audit   AuditRecorder
	Metrics *observability.Metrics
	Cache   *ledger.BalanceCache
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Modules holds the wired warehouse services.
type Modules struct {
	Receiving *receiving.Service
	PutAway   *putaway.Service
	Picking   *picking.Service
	Ledger    *ledger.Service
	Serials   *serials.Service
	Locations *locations.Service
	Refs      *shared.ReferenceRegistry
}

// NewModules wires the services and registers every posting document kind
// with the reference registry.
func NewModules(repos Repositories, deps ModuleDeps) *Modules {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	moduleLogger := func(name string) *slog.Logger {
		return logger.With(slog.String("module", name))
	}
	var observer shared.PostingObserver
	if deps.Metrics != nil {
		observer = deps.Metrics
	}

	refs := shared.NewReferenceRegistry()
	ledgerSvc := ledger.NewService(repos.Ledger, deps.Cache, refs, moduleLogger("ledger"))

	receivingSvc := receiving.NewService(repos.Receiving, receiving.Deps{
		Audit:    deps.Audit,
		Observer: observer,
		Cache:    ledgerSvc,
		Logger:   moduleLogger("receiving"),
		Clock:    deps.Clock,
	})
	putAwaySvc := putaway.NewService(repos.PutAway, putaway.Deps{
		Audit:    deps.Audit,
		Observer: observer,
		Cache:    ledgerSvc,
		Logger:   moduleLogger("putaway"),
		Clock:    deps.Clock,
	})
	pickingSvc := picking.NewService(repos.Picking, picking.Deps{
		Audit:    deps.Audit,
		Observer: observer,
		Cache:    ledgerSvc,
		Logger:   moduleLogger("picking"),
		Clock:    deps.Clock,
	})
	serialsSvc := serials.NewService(repos.Serials, deps.Audit, ledgerSvc, moduleLogger("serials"))
	locationsSvc := locations.NewService(repos.Locations, deps.Audit, moduleLogger("locations"))

	refs.Register(shared.RefGoodsReceipt, receivingSvc)
	refs.Register(shared.RefPutAway, putAwaySvc)
	refs.Register(shared.RefPicking, pickingSvc)
	refs.Register(shared.RefAdjustment, serialsSvc)

	return &Modules{
		Receiving: receivingSvc,
		PutAway:   putAwaySvc,
		Picking:   pickingSvc,
		Ledger:    ledgerSvc,
		Serials:   serialsSvc,
		Locations: locationsSvc,
		Refs:      refs,
	}
}

// RouterParams builds router parameters exposing every module handler.
// enqueuer may be nil, in which case reconciliation runs inline.
func (m *Modules) RouterParams(cfg *Config, logger *slog.Logger, mw rbac.Middleware, metrics *observability.Metrics, enqueuer ledger.ReconcileEnqueuer) RouterParams {
	return RouterParams{
		Logger:           logger,
		Config:           cfg,
		RBACMiddleware:   mw,
		Metrics:          metrics,
		ReceivingHandler: receiving.NewHandler(logger, m.Receiving, mw),
		PutAwayHandler:   putaway.NewHandler(logger, m.PutAway, mw),
		PickingHandler:   picking.NewHandler(logger, m.Picking, mw),
		StockHandler:     ledger.NewHandler(logger, m.Ledger, enqueuer, mw),
		SerialsHandler:   serials.NewHandler(logger, m.Serials, mw),
		LocationsHandler: locations.NewHandler(logger, m.Locations, mw),
	}
}

var _ jobs.Reconciler = (*ledger.Service)(nil)

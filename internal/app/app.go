// Package app собирает движок из конфигурации: хранилище, провайдера, сервисы и воркер.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-engine/internal/config"
	"github.com/ignatzorin/escrow-engine/internal/db"
	domain "github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/repository"
	"github.com/ignatzorin/escrow-engine/internal/repository/memory"
	"github.com/ignatzorin/escrow-engine/internal/service"
	"github.com/ignatzorin/escrow-engine/internal/worker"
)

// Engine: собранные компоненты движка.
type Engine struct {
	DB       *sqlx.DB
	Store    domain.Store
	Gateway  gateway.Gateway
	Ledger   *service.EscrowLedger
	Jobs     *service.JobService
	Disputes *service.DisputeService
	Worker   *worker.Reconciler
	Tokens   *service.TokenManager
}

// Build подключает хранилище, применяет миграции и связывает сервисы с воркером.
func Build(ctx context.Context, cfg *config.Config) (*Engine, error) {
	e := &Engine{}

	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		logger.Log.Warn("app: используется хранилище в памяти, данные не сохраняются между запусками")
		e.Store = memory.NewStore()
	default:
		conn, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
		if err != nil {
			return nil, err
		}
		if _, err := db.RunMigrations(ctx, conn, cfg.MigrationsPath); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("app: ошибка миграций: %w", err)
		}
		e.DB = conn
		e.Store = repository.NewStore(conn)
	}

	e.Gateway = NewGateway(cfg.Payment)
	e.Ledger = service.NewEscrowLedger(e.Store)
	e.Jobs = service.NewJobService(e.Store, e.Ledger, e.Gateway, cfg.ModerationRequired)
	e.Disputes = service.NewDisputeService(e.Store, e.Ledger, e.Jobs)
	e.Tokens = service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)

	e.Worker = worker.NewReconciler(e.Store, e.Gateway, e.Jobs, WorkerConfig(cfg))
	e.Jobs.SetDispatcher(e.Worker)

	return e, nil
}

// NewGateway выбирает реализацию провайдера.
func NewGateway(cfg config.PaymentConfig) gateway.Gateway {
	if cfg.Provider == config.PaymentProviderHTTP {
		return gateway.NewHTTPGateway(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout)
	}
	logger.Log.WithField("auto_settle", cfg.SandboxAutoSettle.String()).Warn("app: используется песочница платёжного провайдера")
	return gateway.NewSandboxGateway(cfg.SandboxAutoSettle)
}

func WorkerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		CallbackWindow:    cfg.Worker.CallbackWindow,
		SettlementCeiling: cfg.Worker.SettlementCeiling,
		PollInterval:      cfg.Worker.PollInterval,
		DispatchLease:     cfg.Worker.DispatchLease,
		ScanInterval:      cfg.Worker.ScanInterval,
		Concurrency:       cfg.Worker.Concurrency,
		BatchSize:         cfg.Worker.BatchSize,
		CallbackSecret:    []byte(cfg.Payment.CallbackSecret),
	}
}

// Close освобождает подключение к базе.
func (e *Engine) Close() {
	if e.DB == nil {
		return
	}
	if err := e.DB.Close(); err != nil {
		logger.Log.WithError(err).Warn("app: ошибка закрытия базы")
	}
}

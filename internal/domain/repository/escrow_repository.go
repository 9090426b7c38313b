package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
)

// JobRepository хранит заказы. Все изменения статуса идут через CompareAndSwap.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// CompareAndSwap записывает job, только если в хранилище у заказа ожидаемые статус и версия.
	// При успехе job.Version увеличивается на единицу, иначе возвращается apperror.ErrStaleVersion.
	CompareAndSwap(ctx context.Context, job *models.Job, expectedStatus valueobject.JobStatus, expectedVersion int64) error
}

type ApplicationRepository interface {
	Create(ctx context.Context, app *models.Application) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error)
	GetAcceptedByJob(ctx context.Context, jobID uuid.UUID) (*models.Application, error)
	// UpdateStatus меняет статус отклика, если текущий равен expected.
	UpdateStatus(ctx context.Context, id uuid.UUID, expected, next valueobject.ApplicationStatus) error
}

type TransactionRepository interface {
	// Create отклоняет вторую незавершённую транзакцию по заказу.
	Create(ctx context.Context, tx *models.PaymentTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	GetByProviderRef(ctx context.Context, providerRef string) (*models.PaymentTransaction, error)
	GetActiveByJob(ctx context.Context, jobID uuid.UUID) (*models.PaymentTransaction, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.PaymentTransaction, error)
	// ListUnsettled возвращает INITIATED и PROVIDER_PENDING транзакции, старые первыми.
	ListUnsettled(ctx context.Context, limit int) ([]*models.PaymentTransaction, error)
	// MarkPending переводит INITIATED → PROVIDER_PENDING и сохраняет ссылку провайдера.
	MarkPending(ctx context.Context, id uuid.UUID, providerRef string, at time.Time) error
	// Settle переводит транзакцию из expected в конечный статус next.
	Settle(ctx context.Context, id uuid.UUID, expected, next valueobject.TransactionStatus, reason *string, at time.Time) error
	// Claim берёт аренду на транзакцию до until; false, если аренда уже у другого воркера.
	Claim(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error)
	// Release снимает аренду после обработки.
	Release(ctx context.Context, id uuid.UUID) error
	TouchPolled(ctx context.Context, id uuid.UUID, at time.Time) error
}

type LedgerRepository interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.LedgerEntry, error)
	SumByJob(ctx context.Context, jobID uuid.UUID) (int64, error)
	// SumAll возвращает сумму проводок по каждому заказу, у которого они есть.
	SumAll(ctx context.Context) (map[uuid.UUID]int64, error)
	// GetBalance возвращает нулевой баланс версии 0, если заказ ещё не финансировался.
	GetBalance(ctx context.Context, jobID uuid.UUID) (*models.EscrowBalance, error)
	// SaveBalance пишет баланс при совпадении версии; bal.Version становится expectedVersion+1.
	SaveBalance(ctx context.Context, bal *models.EscrowBalance, expectedVersion int64) error
	ListBalances(ctx context.Context) ([]*models.EscrowBalance, error)
}

type DisputeRepository interface {
	// Create возвращает apperror.ErrDisputeExists, если по заказу уже есть открытый спор.
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetOpenByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Dispute, error)
	// Resolve закрывает открытый спор; для уже решённого возвращает apperror.ErrStaleVersion.
	Resolve(ctx context.Context, d *models.Dispute) error
}

type ArbitrationRepository interface {
	Append(ctx context.Context, rec *models.ArbitrationRecord) error
	ListByDispute(ctx context.Context, disputeID uuid.UUID) ([]*models.ArbitrationRecord, error)
}

type JobEventRepository interface {
	Add(ctx context.Context, ev *models.JobEvent) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.JobEvent, error)
}

// Repositories: набор репозиториев, привязанных к одному соединению или транзакции.
type Repositories struct {
	Jobs         JobRepository
	Applications ApplicationRepository
	Transactions TransactionRepository
	Ledger       LedgerRepository
	Disputes     DisputeRepository
	Arbitration  ArbitrationRepository
	Events       JobEventRepository
}

// Store: граница хранилища с единицей работы.
type Store interface {
	Repos() Repositories
	// WithTransaction выполняет fn атомарно: при ошибке не сохраняется ничего.
	// Внутри fn используются только переданные репозитории.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
}

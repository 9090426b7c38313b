package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/repository/common"
)

var errActiveTransaction = apperror.New(apperror.ErrCodeInvalidState, "по заказу уже есть незавершённая платёжная операция")

func activeStatuses() interface{} {
	statuses := make([]string, 0, len(valueobject.ActiveTransactionStatuses))
	for _, s := range valueobject.ActiveTransactionStatuses {
		statuses = append(statuses, string(s))
	}
	return pq.Array(statuses)
}

type TransactionRepository struct {
	db sqlx.ExtContext
}

func NewTransactionRepository(db sqlx.ExtContext) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *models.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (id, job_id, direction, amount, currency, counterparty_handle, status, retry_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := sqlx.GetContext(ctx, r.db, tx, query,
		tx.ID, tx.JobID, tx.Direction, tx.Amount, tx.Currency, tx.CounterpartyHandle, tx.Status, tx.RetryOf,
	)
	if err != nil {
		if c, ok := common.UniqueViolation(err); ok && c == common.ConstraintOneActiveTransaction {
			return errActiveTransaction
		}
		return fmt.Errorf("payment repository: create transaction %w", err)
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return common.GetByID[models.PaymentTransaction](ctx, r.db, "payment_transactions", id, apperror.ErrTransactionNotFound)
}

func (r *TransactionRepository) GetByProviderRef(ctx context.Context, providerRef string) (*models.PaymentTransaction, error) {
	return common.GetByField[models.PaymentTransaction](ctx, r.db, "payment_transactions", "provider_ref", providerRef, apperror.ErrTransactionNotFound)
}

func (r *TransactionRepository) GetActiveByJob(ctx context.Context, jobID uuid.UUID) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	query := `SELECT * FROM payment_transactions WHERE job_id = $1 AND status = ANY($2)`
	if err := sqlx.GetContext(ctx, r.db, &tx, query, jobID, activeStatuses()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("payment repository: get active %w", err)
	}
	return &tx, nil
}

func (r *TransactionRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.PaymentTransaction, error) {
	return common.SelectWhere[models.PaymentTransaction](ctx, r.db, "payment_transactions", "job_id = $1", "created_at", jobID)
}

func (r *TransactionRepository) ListUnsettled(ctx context.Context, limit int) ([]*models.PaymentTransaction, error) {
	var items []*models.PaymentTransaction
	query := `SELECT * FROM payment_transactions WHERE status = ANY($1) ORDER BY created_at LIMIT $2`
	if err := sqlx.SelectContext(ctx, r.db, &items, query, activeStatuses(), limit); err != nil {
		return nil, fmt.Errorf("payment repository: list unsettled %w", err)
	}
	return items, nil
}

func (r *TransactionRepository) MarkPending(ctx context.Context, id uuid.UUID, providerRef string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $2, provider_ref = $3, pending_since = $4, lease_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, valueobject.TransactionStatusProviderPending, providerRef, at, valueobject.TransactionStatusInitiated)
	if err != nil {
		if c, ok := common.UniqueViolation(err); ok && c == common.ConstraintProviderRef {
			return apperror.New(apperror.ErrCodeConflict, "ссылка провайдера уже используется")
		}
		return fmt.Errorf("payment repository: mark pending %w", err)
	}
	return common.ExpectOneRow(res, apperror.ErrStaleVersion)
}

func (r *TransactionRepository) Settle(ctx context.Context, id uuid.UUID, expected, next valueobject.TransactionStatus, reason *string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $3, failure_reason = $4, settled_at = $5, lease_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, expected, next, reason, at)
	if err != nil {
		return fmt.Errorf("payment repository: settle %w", err)
	}
	return common.ExpectOneRow(res, apperror.ErrStaleVersion)
}

func (r *TransactionRepository) Claim(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_transactions SET lease_until = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($4) AND (lease_until IS NULL OR lease_until <= $2)
	`, id, now, until, activeStatuses())
	if err != nil {
		return false, fmt.Errorf("payment repository: claim %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment repository: claim %w", err)
	}
	return n == 1, nil
}

func (r *TransactionRepository) Release(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE payment_transactions SET lease_until = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("payment repository: release %w", err)
	}
	return nil
}

func (r *TransactionRepository) TouchPolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE payment_transactions SET last_polled_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("payment repository: touch polled %w", err)
	}
	return nil
}

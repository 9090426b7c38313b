package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/repository/common"
)

// LedgerRepository: журнал эскроу (только вставка) и проекция баланса.
type LedgerRepository struct {
	db sqlx.ExtContext
}

func NewLedgerRepository(db sqlx.ExtContext) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	query := `
		INSERT INTO escrow_ledger_entries (id, job_id, entry_type, amount, currency, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := sqlx.GetContext(ctx, r.db, &entry.CreatedAt, query,
		entry.ID, entry.JobID, entry.EntryType, entry.Amount, entry.Currency, entry.TransactionID,
	)
	if err != nil {
		return fmt.Errorf("ledger repository: append %w", err)
	}
	return nil
}

func (r *LedgerRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.LedgerEntry, error) {
	return common.SelectWhere[models.LedgerEntry](ctx, r.db, "escrow_ledger_entries", "job_id = $1", "created_at, id", jobID)
}

func (r *LedgerRepository) SumByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var sum int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM escrow_ledger_entries WHERE job_id = $1`
	if err := sqlx.GetContext(ctx, r.db, &sum, query, jobID); err != nil {
		return 0, fmt.Errorf("ledger repository: sum %w", err)
	}
	return sum, nil
}

func (r *LedgerRepository) SumAll(ctx context.Context) (map[uuid.UUID]int64, error) {
	var rows []struct {
		JobID uuid.UUID `db:"job_id"`
		Sum   int64     `db:"sum"`
	}
	query := `SELECT job_id, SUM(amount) AS sum FROM escrow_ledger_entries GROUP BY job_id`
	if err := sqlx.SelectContext(ctx, r.db, &rows, query); err != nil {
		return nil, fmt.Errorf("ledger repository: sum all %w", err)
	}
	sums := make(map[uuid.UUID]int64, len(rows))
	for _, row := range rows {
		sums[row.JobID] = row.Sum
	}
	return sums, nil
}

func (r *LedgerRepository) GetBalance(ctx context.Context, jobID uuid.UUID) (*models.EscrowBalance, error) {
	var bal models.EscrowBalance
	err := sqlx.GetContext(ctx, r.db, &bal, `SELECT * FROM escrow_balances WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.EscrowBalance{JobID: jobID}, nil
		}
		return nil, fmt.Errorf("ledger repository: get balance %w", err)
	}
	return &bal, nil
}

// SaveBalance пишет баланс условно по версии: вставка для версии 0, иначе UPDATE ... WHERE version.
func (r *LedgerRepository) SaveBalance(ctx context.Context, bal *models.EscrowBalance, expectedVersion int64) error {
	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = r.db.ExecContext(ctx, `
			INSERT INTO escrow_balances (job_id, held, currency, version, updated_at)
			VALUES ($1, $2, $3, 1, NOW())
			ON CONFLICT (job_id) DO NOTHING
		`, bal.JobID, bal.Held, bal.Currency)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE escrow_balances SET held = $2, currency = $3, version = version + 1, updated_at = NOW()
			WHERE job_id = $1 AND version = $4
		`, bal.JobID, bal.Held, bal.Currency, expectedVersion)
	}
	if err != nil {
		if _, ok := common.CheckViolation(err); ok {
			return apperror.New(apperror.ErrCodeNoFundsHeld, "баланс эскроу не может стать отрицательным")
		}
		return fmt.Errorf("ledger repository: save balance %w", err)
	}
	if err := common.ExpectOneRow(res, apperror.ErrStaleVersion); err != nil {
		return err
	}
	bal.Version = expectedVersion + 1
	return nil
}

func (r *LedgerRepository) ListBalances(ctx context.Context) ([]*models.EscrowBalance, error) {
	var items []*models.EscrowBalance
	if err := sqlx.SelectContext(ctx, r.db, &items, `SELECT * FROM escrow_balances ORDER BY job_id`); err != nil {
		return nil, fmt.Errorf("ledger repository: list balances %w", err)
	}
	return items, nil
}

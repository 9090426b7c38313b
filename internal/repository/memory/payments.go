package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

func isActive(s valueobject.TransactionStatus) bool {
	return !s.IsSettled()
}

type transactionRepo struct{ exec execFunc }

func (r *transactionRepo) Create(_ context.Context, tx *models.PaymentTransaction) error {
	return r.exec(func(st *state) error {
		for _, t := range st.transactions {
			if t.JobID == tx.JobID && isActive(t.Status) {
				return apperror.New(apperror.ErrCodeInvalidState, "по заказу уже есть незавершённая платёжная операция")
			}
		}
		ts := now()
		tx.CreatedAt = ts
		tx.UpdatedAt = ts
		st.transactions[tx.ID] = *tx
		return nil
	})
}

func (r *transactionRepo) get(id uuid.UUID) (*models.PaymentTransaction, error) {
	var out models.PaymentTransaction
	err := r.exec(func(st *state) error {
		t, ok := st.transactions[id]
		if !ok {
			return apperror.ErrTransactionNotFound
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *transactionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return r.get(id)
}

func (r *transactionRepo) GetByProviderRef(_ context.Context, providerRef string) (*models.PaymentTransaction, error) {
	return r.find(func(t models.PaymentTransaction) bool {
		return t.ProviderRef != nil && *t.ProviderRef == providerRef
	})
}

func (r *transactionRepo) GetActiveByJob(_ context.Context, jobID uuid.UUID) (*models.PaymentTransaction, error) {
	return r.find(func(t models.PaymentTransaction) bool {
		return t.JobID == jobID && isActive(t.Status)
	})
}

func (r *transactionRepo) find(match func(models.PaymentTransaction) bool) (*models.PaymentTransaction, error) {
	var out *models.PaymentTransaction
	err := r.exec(func(st *state) error {
		for _, t := range st.transactions {
			if match(t) {
				found := t
				out = &found
				return nil
			}
		}
		return apperror.ErrTransactionNotFound
	})
	return out, err
}

func (r *transactionRepo) list(match func(models.PaymentTransaction) bool) []*models.PaymentTransaction {
	var out []*models.PaymentTransaction
	_ = r.exec(func(st *state) error {
		for _, t := range st.transactions {
			if match(t) {
				found := t
				out = append(out, &found)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *transactionRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.PaymentTransaction, error) {
	return r.list(func(t models.PaymentTransaction) bool { return t.JobID == jobID }), nil
}

func (r *transactionRepo) ListUnsettled(_ context.Context, limit int) ([]*models.PaymentTransaction, error) {
	out := r.list(func(t models.PaymentTransaction) bool { return isActive(t.Status) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *transactionRepo) update(id uuid.UUID, fn func(t *models.PaymentTransaction) error) error {
	return r.exec(func(st *state) error {
		t, ok := st.transactions[id]
		if !ok {
			return apperror.ErrTransactionNotFound
		}
		if err := fn(&t); err != nil {
			return err
		}
		t.UpdatedAt = now()
		st.transactions[id] = t
		return nil
	})
}

func (r *transactionRepo) MarkPending(_ context.Context, id uuid.UUID, providerRef string, at time.Time) error {
	return r.exec(func(st *state) error {
		for _, t := range st.transactions {
			if t.ID != id && t.ProviderRef != nil && *t.ProviderRef == providerRef {
				return apperror.New(apperror.ErrCodeConflict, "ссылка провайдера уже используется")
			}
		}
		t, ok := st.transactions[id]
		if !ok {
			return apperror.ErrTransactionNotFound
		}
		if t.Status != valueobject.TransactionStatusInitiated {
			return apperror.ErrStaleVersion
		}
		ref := providerRef
		t.ProviderRef = &ref
		t.Status = valueobject.TransactionStatusProviderPending
		t.PendingSince = &at
		t.LeaseUntil = nil
		t.UpdatedAt = now()
		st.transactions[id] = t
		return nil
	})
}

func (r *transactionRepo) Settle(_ context.Context, id uuid.UUID, expected, next valueobject.TransactionStatus, reason *string, at time.Time) error {
	return r.update(id, func(t *models.PaymentTransaction) error {
		if t.Status != expected {
			return apperror.ErrStaleVersion
		}
		t.Status = next
		t.FailureReason = reason
		t.SettledAt = &at
		t.LeaseUntil = nil
		return nil
	})
}

func (r *transactionRepo) Claim(_ context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	claimed := false
	err := r.update(id, func(t *models.PaymentTransaction) error {
		if !isActive(t.Status) {
			return nil
		}
		if t.LeaseUntil != nil && t.LeaseUntil.After(now) {
			return nil
		}
		t.LeaseUntil = &until
		claimed = true
		return nil
	})
	return claimed, err
}

func (r *transactionRepo) Release(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(t *models.PaymentTransaction) error {
		t.LeaseUntil = nil
		return nil
	})
}

func (r *transactionRepo) TouchPolled(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(t *models.PaymentTransaction) error {
		t.LastPolledAt = &at
		return nil
	})
}

type ledgerRepo struct{ exec execFunc }

func (r *ledgerRepo) Append(_ context.Context, entry *models.LedgerEntry) error {
	return r.exec(func(st *state) error {
		entry.CreatedAt = now()
		st.ledger = append(st.ledger, *entry)
		return nil
	})
}

func (r *ledgerRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.LedgerEntry, error) {
	var out []*models.LedgerEntry
	err := r.exec(func(st *state) error {
		for _, e := range st.ledger {
			if e.JobID == jobID {
				entry := e
				out = append(out, &entry)
			}
		}
		return nil
	})
	return out, err
}

func (r *ledgerRepo) SumByJob(_ context.Context, jobID uuid.UUID) (int64, error) {
	var sum int64
	err := r.exec(func(st *state) error {
		for _, e := range st.ledger {
			if e.JobID == jobID {
				sum += e.Amount
			}
		}
		return nil
	})
	return sum, err
}

func (r *ledgerRepo) SumAll(_ context.Context) (map[uuid.UUID]int64, error) {
	sums := make(map[uuid.UUID]int64)
	err := r.exec(func(st *state) error {
		for _, e := range st.ledger {
			sums[e.JobID] += e.Amount
		}
		return nil
	})
	return sums, err
}

func (r *ledgerRepo) GetBalance(_ context.Context, jobID uuid.UUID) (*models.EscrowBalance, error) {
	out := models.EscrowBalance{JobID: jobID}
	err := r.exec(func(st *state) error {
		if b, ok := st.balances[jobID]; ok {
			out = b
		}
		return nil
	})
	return &out, err
}

func (r *ledgerRepo) SaveBalance(_ context.Context, bal *models.EscrowBalance, expectedVersion int64) error {
	return r.exec(func(st *state) error {
		cur, ok := st.balances[bal.JobID]
		if !ok && expectedVersion != 0 {
			return apperror.ErrStaleVersion
		}
		if ok && cur.Version != expectedVersion {
			return apperror.ErrStaleVersion
		}
		next := *bal
		next.Version = expectedVersion + 1
		next.UpdatedAt = now()
		st.balances[bal.JobID] = next
		bal.Version = next.Version
		bal.UpdatedAt = next.UpdatedAt
		return nil
	})
}

func (r *ledgerRepo) ListBalances(_ context.Context) ([]*models.EscrowBalance, error) {
	var out []*models.EscrowBalance
	err := r.exec(func(st *state) error {
		for _, b := range st.balances {
			bal := b
			out = append(out, &bal)
		}
		return nil
	})
	return out, err
}

package service

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// EscrowLedger ведёт журнал эскроу и проекцию баланса.
// Баланс по заказу: 0 до оплаты, равен бюджету пока средства удержаны, и ровно один раз возвращается в 0.
type EscrowLedger struct {
	store repository.Store
}

func NewEscrowLedger(store repository.Store) *EscrowLedger {
	return &EscrowLedger{store: store}
}

// Hold удерживает средства подтверждённого депозита.
func (l *EscrowLedger) Hold(ctx context.Context, deposit *models.PaymentTransaction) (*models.EscrowBalance, error) {
	var bal *models.EscrowBalance
	err := l.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		bal, err = l.HoldTx(ctx, r, deposit)
		return err
	})
	return bal, err
}

// HoldTx: Hold внутри чужой единицы работы.
func (l *EscrowLedger) HoldTx(ctx context.Context, r repository.Repositories, deposit *models.PaymentTransaction) (*models.EscrowBalance, error) {
	if deposit.Direction != valueobject.DirectionDeposit || deposit.Amount <= 0 {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "удержать можно только положительный депозит")
	}

	bal, err := r.Ledger.GetBalance(ctx, deposit.JobID)
	if err != nil {
		return nil, err
	}
	if bal.Held != 0 {
		return nil, apperror.ErrAlreadyHeld
	}

	if err := r.Ledger.Append(ctx, &models.LedgerEntry{
		ID:            uuid.New(),
		JobID:         deposit.JobID,
		EntryType:     valueobject.LedgerEntryHold,
		Amount:        deposit.Amount,
		Currency:      deposit.Currency,
		TransactionID: deposit.ID,
	}); err != nil {
		return nil, err
	}

	expected := bal.Version
	bal.Held = deposit.Amount
	bal.Currency = deposit.Currency
	if err := r.Ledger.SaveBalance(ctx, bal, expected); err != nil {
		return nil, err
	}
	return bal, nil
}

// Release выводит весь удержанный остаток исполнителю на destination.
func (l *EscrowLedger) Release(ctx context.Context, jobID uuid.UUID, destination string) (*models.PaymentTransaction, error) {
	return l.disburse(ctx, jobID, valueobject.DirectionPayout, destination)
}

// Refund возвращает весь удержанный остаток плательщику депозита.
func (l *EscrowLedger) Refund(ctx context.Context, jobID uuid.UUID) (*models.PaymentTransaction, error) {
	return l.disburse(ctx, jobID, valueobject.DirectionRefund, "")
}

func (l *EscrowLedger) disburse(ctx context.Context, jobID uuid.UUID, direction valueobject.TransactionDirection, destination string) (*models.PaymentTransaction, error) {
	var tx *models.PaymentTransaction
	err := l.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		job, err := r.Jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if direction == valueobject.DirectionRefund {
			if destination, err = RefundDestination(ctx, r, jobID); err != nil {
				return err
			}
		}
		tx, err = l.DisburseTx(ctx, r, job, direction, destination)
		return err
	})
	return tx, err
}

// DisburseTx обнуляет баланс и создаёт PAYOUT/REFUND в статусе INITIATED в той же единице работы.
// Провайдеру выплату отправляет воркер.
func (l *EscrowLedger) DisburseTx(ctx context.Context, r repository.Repositories, job *models.Job,
	direction valueobject.TransactionDirection, destination string) (*models.PaymentTransaction, error) {
	if !direction.IsDisbursement() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "недопустимое направление выплаты")
	}
	if job.Status.IsTerminal() {
		return nil, apperror.ErrTerminalState
	}

	bal, err := r.Ledger.GetBalance(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if bal.Held <= 0 {
		return nil, apperror.ErrNoFundsHeld
	}

	tx := &models.PaymentTransaction{
		ID:                 uuid.New(),
		JobID:              job.ID,
		Direction:          direction,
		Amount:             bal.Held,
		Currency:           bal.Currency,
		CounterpartyHandle: destination,
		Status:             valueobject.TransactionStatusInitiated,
	}
	if err := r.Transactions.Create(ctx, tx); err != nil {
		return nil, err
	}

	if err := r.Ledger.Append(ctx, &models.LedgerEntry{
		ID:            uuid.New(),
		JobID:         job.ID,
		EntryType:     valueobject.LedgerEntryFor(direction),
		Amount:        -bal.Held,
		Currency:      bal.Currency,
		TransactionID: tx.ID,
	}); err != nil {
		return nil, err
	}

	expected := bal.Version
	bal.Held = 0
	if err := r.Ledger.SaveBalance(ctx, bal, expected); err != nil {
		return nil, err
	}
	return tx, nil
}

// RefundDestination возвращает кошелёк, с которого пришёл подтверждённый депозит.
func RefundDestination(ctx context.Context, r repository.Repositories, jobID uuid.UUID) (string, error) {
	txs, err := r.Transactions.ListByJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	for i := len(txs) - 1; i >= 0; i-- {
		t := txs[i]
		if t.Direction == valueobject.DirectionDeposit && t.Status == valueobject.TransactionStatusConfirmed {
			return t.CounterpartyHandle, nil
		}
	}
	return "", apperror.ErrNoFundsHeld
}

// Balance возвращает текущую проекцию баланса.
func (l *EscrowLedger) Balance(ctx context.Context, jobID uuid.UUID) (*models.EscrowBalance, error) {
	return l.store.Repos().Ledger.GetBalance(ctx, jobID)
}

// Entries возвращает журнал заказа в порядке записи.
func (l *EscrowLedger) Entries(ctx context.Context, jobID uuid.UUID) ([]*models.LedgerEntry, error) {
	return l.store.Repos().Ledger.ListByJob(ctx, jobID)
}

// VerifyDrift сверяет сумму проводок с балансом. Расхождение только логируется и возвращается.
func (l *EscrowLedger) VerifyDrift(ctx context.Context, jobID uuid.UUID) (*models.LedgerDrift, error) {
	repos := l.store.Repos()
	sum, err := repos.Ledger.SumByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	bal, err := repos.Ledger.GetBalance(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if sum == bal.Held {
		return nil, nil
	}
	drift := &models.LedgerDrift{JobID: jobID, Held: bal.Held, EntriesSum: sum}
	reportDrift(drift)
	return drift, apperror.ErrLedgerDrift
}

// AuditAll сверяет журнал и баланс по всем заказам.
func (l *EscrowLedger) AuditAll(ctx context.Context) ([]models.LedgerDrift, error) {
	repos := l.store.Repos()
	sums, err := repos.Ledger.SumAll(ctx)
	if err != nil {
		return nil, err
	}
	balances, err := repos.Ledger.ListBalances(ctx)
	if err != nil {
		return nil, err
	}

	held := make(map[uuid.UUID]int64, len(balances))
	for _, b := range balances {
		held[b.JobID] = b.Held
		if _, ok := sums[b.JobID]; !ok {
			sums[b.JobID] = 0
		}
	}

	var drifts []models.LedgerDrift
	for jobID, sum := range sums {
		if held[jobID] != sum {
			drift := models.LedgerDrift{JobID: jobID, Held: held[jobID], EntriesSum: sum}
			reportDrift(&drift)
			drifts = append(drifts, drift)
		}
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].JobID.String() < drifts[j].JobID.String() })

	logger.Log.WithFields(logrus.Fields{
		"jobs_checked": len(sums),
		"drifts":       len(drifts),
	}).Info("ledger: сверка журнала эскроу завершена")
	return drifts, nil
}

func reportDrift(d *models.LedgerDrift) {
	logger.Job(d.JobID).WithFields(logrus.Fields{
		"held":        d.Held,
		"entries_sum": d.EntriesSum,
	}).Error("ledger: журнал эскроу расходится с балансом")
}

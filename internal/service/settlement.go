package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// Переходы, которые выполняет воркер сверки по исходу операции у провайдера.
// Каждый метод принимает снимок транзакции и меняет её статус через CAS,
// поэтому повторная доставка того же исхода получает ErrStaleVersion и ничего не меняет.

// ConfirmDeposit удерживает средства и переводит заказ в IN_PROGRESS.
func (s *JobService) ConfirmDeposit(ctx context.Context, tx *models.PaymentTransaction, settledAt time.Time) error {
	var job *models.Job
	err := s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		if err := r.Transactions.Settle(ctx, tx.ID, tx.Status, valueobject.TransactionStatusConfirmed, nil, settledAt); err != nil {
			return err
		}
		var err error
		if job, err = r.Jobs.GetByID(ctx, tx.JobID); err != nil {
			return err
		}
		if tx.Amount != job.Budget || tx.Currency != job.Currency {
			return apperror.New(apperror.ErrCodeInvalidState, "сумма депозита не совпадает с бюджетом заказа")
		}
		if err := guardState(job, valueobject.JobStatusHiredPendingFunding); err != nil {
			return err
		}
		held := *tx
		held.Status = valueobject.TransactionStatusConfirmed
		if _, err := s.ledger.HoldTx(ctx, r, &held); err != nil {
			return err
		}
		return transition(ctx, r, job, valueobject.JobStatusInProgress, valueobject.System, models.JobActionFunded,
			map[string]any{"transaction_id": tx.ID.String(), "amount": tx.Amount})
	})
	if err != nil {
		return err
	}

	logger.Transaction(tx.JobID, tx.ID, tx.ProviderRef).WithField("amount", tx.Amount).
		Info("settlement: депозит подтверждён, средства удержаны")
	s.afterCommit(ctx, job, nil)
	return nil
}

// FailDeposit закрывает депозит как FAILED или TIMED_OUT и возвращает заказ к найму.
func (s *JobService) FailDeposit(ctx context.Context, tx *models.PaymentTransaction, next valueobject.TransactionStatus, reason string, at time.Time) error {
	var job *models.Job
	err := s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		if err := r.Transactions.Settle(ctx, tx.ID, tx.Status, next, &reason, at); err != nil {
			return err
		}
		var err error
		if job, err = r.Jobs.GetByID(ctx, tx.JobID); err != nil {
			return err
		}
		if job.Status != valueobject.JobStatusHiredPendingFunding {
			return nil
		}
		if job.HiredApplicationID != nil {
			err := r.Applications.UpdateStatus(ctx, *job.HiredApplicationID,
				valueobject.ApplicationStatusAccepted, valueobject.ApplicationStatusPending)
			if err != nil && !apperror.IsStaleVersion(err) {
				return err
			}
		}
		job.HiredApplicationID = nil
		job.ProfessionalID = nil
		return transition(ctx, r, job, valueobject.JobStatusListed, valueobject.System, models.JobActionFundingFailed,
			map[string]any{"transaction_id": tx.ID.String(), "status": next, "reason": reason})
	})
	if err != nil {
		return err
	}

	logger.Transaction(tx.JobID, tx.ID, tx.ProviderRef).WithFields(logrus.Fields{
		"status": next,
		"reason": reason,
	}).Warn("settlement: депозит не прошёл, заказ снова открыт для найма")
	s.afterCommit(ctx, job, nil)
	return nil
}

// ConfirmDisbursement фиксирует успешную выплату. Баланс уже обнулён при создании выплаты.
func (s *JobService) ConfirmDisbursement(ctx context.Context, tx *models.PaymentTransaction, settledAt time.Time) error {
	err := s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		if err := r.Transactions.Settle(ctx, tx.ID, tx.Status, valueobject.TransactionStatusConfirmed, nil, settledAt); err != nil {
			return err
		}
		return note(ctx, r, tx.JobID, valueobject.System, models.JobActionDisbursed, map[string]any{
			"transaction_id": tx.ID.String(),
			"direction":      tx.Direction,
			"amount":         tx.Amount,
		})
	})
	if err != nil {
		return err
	}
	logger.Transaction(tx.JobID, tx.ID, tx.ProviderRef).WithField("direction", tx.Direction).
		Info("settlement: выплата подтверждена провайдером")
	s.notifyJob(ctx, tx.JobID)
	return nil
}

// FailDisbursement фиксирует неуспешную выплату. Средства уже вышли из эскроу,
// поэтому журнал не меняется: нужна повторная отправка администратором.
func (s *JobService) FailDisbursement(ctx context.Context, tx *models.PaymentTransaction, next valueobject.TransactionStatus, reason string, at time.Time) error {
	err := s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		if err := r.Transactions.Settle(ctx, tx.ID, tx.Status, next, &reason, at); err != nil {
			return err
		}
		return note(ctx, r, tx.JobID, valueobject.System, models.JobActionDisbursementFailed, map[string]any{
			"transaction_id": tx.ID.String(),
			"direction":      tx.Direction,
			"status":         next,
			"reason":         reason,
		})
	})
	if err != nil {
		return err
	}
	logger.Transaction(tx.JobID, tx.ID, tx.ProviderRef).WithFields(logrus.Fields{
		"direction": tx.Direction,
		"status":    next,
		"reason":    reason,
	}).Error("settlement: выплата не прошла, требуется повтор администратором")
	s.notifyJob(ctx, tx.JobID)
	return nil
}

// RecordLateSettlement записывает исход, пришедший после закрытия операции. Исход не применяется.
func (s *JobService) RecordLateSettlement(ctx context.Context, tx *models.PaymentTransaction, status gateway.ProviderStatus) error {
	err := note(ctx, s.store.Repos(), tx.JobID, valueobject.System, models.JobActionLateSettlement, map[string]any{
		"transaction_id":  tx.ID.String(),
		"direction":       tx.Direction,
		"recorded_status": tx.Status,
		"provider_status": status,
		"provider_ref":    tx.ProviderRef,
	})
	logger.Transaction(tx.JobID, tx.ID, tx.ProviderRef).WithFields(logrus.Fields{
		"recorded_status": tx.Status,
		"provider_status": status,
		"provider_ref":    tx.ProviderRef,
	}).Warn("settlement: поздний исход от провайдера не применён, нужна проверка персоналом")
	return err
}

// RetryDisbursement создаёт новую выплату взамен FAILED/TIMED_OUT. Журнал не меняется.
func (s *JobService) RetryDisbursement(ctx context.Context, actor valueobject.Actor, txID uuid.UUID) (*models.PaymentTransaction, error) {
	if err := actor.Require(valueobject.CapArbitrateDisputes); err != nil {
		return nil, err
	}
	prev, err := s.store.Repos().Transactions.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !prev.Direction.IsDisbursement() || !prev.Status.IsUnsuccessful() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "повторить можно только неуспешную выплату")
	}

	// Провайдер мог провести выплату уже после таймаута: повтор тогда заплатил бы дважды.
	// Если ссылка провайдера не сохранилась, исходную операцию ищем по её ключу идемпотентности.
	status, known, err := s.providerOutcome(ctx, prev)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeProviderUnavailable, apperror.ErrProviderUnavailable.Message)
	}
	if known && status != gateway.StatusFailed {
		if status == gateway.StatusSuccess {
			_ = s.RecordLateSettlement(ctx, prev, status)
		}
		return nil, apperror.New(apperror.ErrCodeInvalidState,
			"провайдер сообщает статус "+string(status)+" по исходной выплате, повтор запрещён")
	}

	retry := &models.PaymentTransaction{
		ID:                 uuid.New(),
		JobID:              prev.JobID,
		Direction:          prev.Direction,
		Amount:             prev.Amount,
		Currency:           prev.Currency,
		CounterpartyHandle: prev.CounterpartyHandle,
		Status:             valueobject.TransactionStatusInitiated,
		RetryOf:            &prev.ID,
	}
	err = s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		txs, err := r.Transactions.ListByJob(ctx, prev.JobID)
		if err != nil {
			return err
		}
		for _, t := range txs {
			if t.RetryOf != nil && *t.RetryOf == prev.ID {
				return apperror.New(apperror.ErrCodeInvalidState, "по этой выплате повтор уже создан")
			}
		}
		if err := r.Transactions.Create(ctx, retry); err != nil {
			return err
		}
		return note(ctx, r, prev.JobID, actor, models.JobActionDisbursementRetry, map[string]any{
			"transaction_id": retry.ID.String(),
			"retry_of":       prev.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Transaction(retry.JobID, retry.ID, nil).WithFields(logrus.Fields{
		"admin_id": actor.ID.String(),
		"retry_of": prev.ID.String(),
	}).Info("settlement: повторная выплата создана")
	s.afterCommit(ctx, nil, retry)
	return retry, nil
}

// providerOutcome возвращает статус операции у провайдера. known = false, только если
// провайдер подтвердил, что операцию с этим ключом не получал.
func (s *JobService) providerOutcome(ctx context.Context, tx *models.PaymentTransaction) (gateway.ProviderStatus, bool, error) {
	if tx.ProviderRef != nil {
		status, err := s.gateway.CheckStatus(ctx, *tx.ProviderRef)
		return status, err == nil, err
	}
	found, err := s.gateway.FindByReference(ctx, tx.ID.String())
	if errors.Is(err, gateway.ErrReferenceUnknown) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	ref := found.ProviderRef
	tx.ProviderRef = &ref
	return found.Status, true, nil
}

func (s *JobService) notifyJob(ctx context.Context, jobID uuid.UUID) {
	if s.notifier == nil {
		return
	}
	job, err := s.store.Repos().Jobs.GetByID(ctx, jobID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Job(jobID).WithError(err).Debug("settlement: не удалось перечитать заказ для уведомления")
		}
		return
	}
	s.notifier.JobChanged(job)
}

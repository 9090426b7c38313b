package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/validation"
)

// DisputeService: открытие и разрешение споров. Решение спора остаётся единственным путём,
// которым средства уходят из эскроу без согласия клиента.
type DisputeService struct {
	store  repository.Store
	ledger *EscrowLedger
	jobs   *JobService
}

func NewDisputeService(store repository.Store, ledger *EscrowLedger, jobs *JobService) *DisputeService {
	return &DisputeService{store: store, ledger: ledger, jobs: jobs}
}

// OpenDispute открывает спор по заказу в работе или на приёмке и переводит заказ в DISPUTED.
func (s *DisputeService) OpenDispute(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID, reason string) (*models.Dispute, error) {
	job, err := s.store.Repos().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsParticipant(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	if job.Status == valueobject.JobStatusDisputed {
		if _, err := s.store.Repos().Disputes.GetOpenByJob(ctx, jobID); err == nil {
			return nil, apperror.ErrDisputeExists
		}
	}
	if !job.Status.IsDisputable() {
		return nil, apperror.New(apperror.ErrCodeInvalidState,
			"спор можно открыть только по заказу в работе или на приёмке")
	}
	reason = strings.TrimSpace(reason)
	if err := validation.ValidateDisputeReason(reason); err != nil {
		return nil, validationError(err)
	}

	dispute := &models.Dispute{
		ID:       uuid.New(),
		JobID:    job.ID,
		RaisedBy: actor.ID,
		Reason:   reason,
		Status:   valueobject.DisputeStatusOpen,
	}
	err = s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		if err := r.Disputes.Create(ctx, dispute); err != nil {
			return err
		}
		return transition(ctx, r, job, valueobject.JobStatusDisputed, actor, models.JobActionDisputed,
			map[string]any{"dispute_id": dispute.ID.String()})
	})
	if err != nil {
		return nil, err
	}

	logger.Job(job.ID).WithFields(logrus.Fields{
		"dispute_id": dispute.ID.String(),
		"raised_by":  actor.ID.String(),
	}).Info("dispute: спор открыт")
	s.jobs.afterCommit(ctx, job, nil)
	return dispute, nil
}

// ResolveDispute выносит решение. В одной единице работы: выплата или возврат из эскроу,
// закрытие заказа, закрытие спора и запись в журнал арбитража. Ошибка журнала эскроу
// откатывает всё, спор остаётся открытым.
func (s *DisputeService) ResolveDispute(ctx context.Context, actor valueobject.Actor, disputeID uuid.UUID,
	outcome valueobject.DisputeOutcome, justification string) (*models.PaymentTransaction, error) {
	if err := actor.Require(valueobject.CapArbitrateDisputes); err != nil {
		return nil, err
	}
	if _, err := valueobject.NewDisputeOutcome(string(outcome)); err != nil {
		return nil, err
	}
	justification = strings.TrimSpace(justification)
	if err := validation.ValidateJustification(justification); err != nil {
		return nil, validationError(err)
	}

	dispute, err := s.store.Repos().Disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status != valueobject.DisputeStatusOpen {
		return nil, apperror.New(apperror.ErrCodeTerminalState, "спор уже разрешён")
	}
	job, err := s.store.Repos().Jobs.GetByID(ctx, dispute.JobID)
	if err != nil {
		return nil, err
	}
	if err := guardState(job, valueobject.JobStatusDisputed); err != nil {
		return nil, err
	}

	var disbursement *models.PaymentTransaction
	err = s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		var destination string
		var err error
		if outcome == valueobject.OutcomeRelease {
			destination, err = payoutDestination(ctx, r, job)
		} else {
			destination, err = RefundDestination(ctx, r, job.ID)
		}
		if err != nil {
			return err
		}
		if disbursement, err = s.ledger.DisburseTx(ctx, r, job, outcome.Direction(), destination); err != nil {
			return err
		}
		if err := transition(ctx, r, job, outcome.JobStatus(), actor, models.JobActionResolved, map[string]any{
			"dispute_id":     dispute.ID.String(),
			"outcome":        outcome,
			"transaction_id": disbursement.ID.String(),
		}); err != nil {
			return err
		}

		resolvedAt := utcNow()
		dispute.Status = outcome.DisputeStatus()
		dispute.ResolvedBy = &actor.ID
		dispute.ResolutionNote = &justification
		dispute.ResolvedAt = &resolvedAt
		if err := r.Disputes.Resolve(ctx, dispute); err != nil {
			return err
		}
		return r.Arbitration.Append(ctx, &models.ArbitrationRecord{
			ID:            uuid.New(),
			DisputeID:     dispute.ID,
			JobID:         job.ID,
			AdminID:       actor.ID,
			Outcome:       outcome,
			Justification: justification,
			TransactionID: disbursement.ID,
		})
	})
	if err != nil {
		logger.Job(job.ID).WithError(err).WithFields(logrus.Fields{
			"dispute_id": disputeID.String(),
			"admin_id":   actor.ID.String(),
			"outcome":    outcome,
		}).Warn("dispute: решение не применено, спор остаётся открытым")
		return nil, err
	}

	logger.Transaction(job.ID, disbursement.ID, nil).WithFields(logrus.Fields{
		"dispute_id":    dispute.ID.String(),
		"admin_id":      actor.ID.String(),
		"outcome":       outcome,
		"amount":        disbursement.Amount,
		"justification": justification,
		"resolved_at":   dispute.ResolvedAt,
	}).Info("dispute: спор разрешён")
	s.jobs.afterCommit(ctx, job, disbursement)
	return disbursement, nil
}

// ListDisputes возвращает споры заказа участникам и персоналу.
func (s *DisputeService) ListDisputes(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID) ([]*models.Dispute, error) {
	if _, err := s.jobs.viewable(ctx, actor, jobID); err != nil {
		return nil, err
	}
	return s.store.Repos().Disputes.ListByJob(ctx, jobID)
}

// ArbitrationLog возвращает записи арбитража по спору.
func (s *DisputeService) ArbitrationLog(ctx context.Context, actor valueobject.Actor, disputeID uuid.UUID) ([]*models.ArbitrationRecord, error) {
	if err := actor.Require(valueobject.CapArbitrateDisputes); err != nil {
		return nil, err
	}
	if _, err := s.store.Repos().Disputes.GetByID(ctx, disputeID); err != nil {
		return nil, err
	}
	return s.store.Repos().Arbitration.ListByDispute(ctx, disputeID)
}

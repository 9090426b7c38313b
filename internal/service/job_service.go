package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/validation"
)

// CreateJobInput: поля нового заказа.
type CreateJobInput struct {
	Title       string
	Description string
	Budget      int64
	Currency    string
	Region      *string
	DeadlineAt  *time.Time
}

// ApplicationInput: отклик исполнителя. Ставка информативна, к оплате идёт бюджет заказа.
type ApplicationInput struct {
	BidAmount    int64
	Proposal     string
	PayoutHandle string
}

// JobService: конечный автомат заказа и оркестратор оплаты.
type JobService struct {
	hooks
	store              repository.Store
	ledger             *EscrowLedger
	gateway            gateway.Gateway
	moderationRequired bool
}

func NewJobService(store repository.Store, ledger *EscrowLedger, gw gateway.Gateway, moderationRequired bool) *JobService {
	return &JobService{
		store:              store,
		ledger:             ledger,
		gateway:            gw,
		moderationRequired: moderationRequired,
	}
}

// SetDispatcher подключает немедленную отправку выплат.
func (s *JobService) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// SetNotifier подключает канал инвалидации.
func (s *JobService) SetNotifier(n ChangeNotifier) {
	s.notifier = n
}

// CreateJob создаёт заказ и сразу отправляет его на модерацию или в публикацию.
func (s *JobService) CreateJob(ctx context.Context, actor valueobject.Actor, in CreateJobInput) (*models.Job, error) {
	if err := actor.Require(valueobject.CapPostJobs); err != nil {
		return nil, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := validation.ValidateJobTitle(in.Title); err != nil {
		return nil, validationError(err)
	}
	if err := validation.ValidateJobDescription(in.Description); err != nil {
		return nil, validationError(err)
	}
	if err := validation.ValidateBudget(in.Budget); err != nil {
		return nil, validationError(err)
	}
	if err := validation.ValidateCurrency(in.Currency); err != nil {
		return nil, validationError(err)
	}
	if err := validation.ValidateRegion(in.Region); err != nil {
		return nil, validationError(err)
	}
	if err := validation.ValidateDeadline(in.DeadlineAt, utcNow()); err != nil {
		return nil, validationError(err)
	}
	budget, err := valueobject.NewMoney(in.Budget, in.Currency)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:          uuid.New(),
		ClientID:    actor.ID,
		Title:       in.Title,
		Description: in.Description,
		Budget:      budget.Amount,
		Currency:    budget.Currency,
		Region:      in.Region,
		DeadlineAt:  in.DeadlineAt,
		Status:      valueobject.JobStatusOpen,
	}

	target, action := valueobject.JobStatusListed, models.JobActionPublished
	if s.moderationRequired {
		target, action = valueobject.JobStatusPendingApproval, models.JobActionSubmitted
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		if err := r.Jobs.Create(ctx, job); err != nil {
			return err
		}
		if err := note(ctx, r, job.ID, actor, models.JobActionCreated, map[string]any{
			"budget":   budget.Amount,
			"currency": budget.Currency,
		}); err != nil {
			return err
		}
		return transition(ctx, r, job, target, actor, action, nil)
	})
	if err != nil {
		return nil, err
	}

	logger.Job(job.ID).WithFields(logrus.Fields{
		"client_id": actor.ID.String(),
		"status":    job.Status,
		"budget":    budget.String(),
	}).Info("job: заказ создан")
	s.afterCommit(ctx, job, nil)
	return job, nil
}

// ApproveJob публикует заказ после модерации.
func (s *JobService) ApproveJob(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID) (*models.Job, error) {
	return s.moderate(ctx, actor, jobID, valueobject.JobStatusListed, models.JobActionApproved, "")
}

// RejectJob отклоняет заказ на модерации, заказ закрывается.
func (s *JobService) RejectJob(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID, reason string) (*models.Job, error) {
	return s.moderate(ctx, actor, jobID, valueobject.JobStatusCancelled, models.JobActionRejected, reason)
}

func (s *JobService) moderate(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID,
	to valueobject.JobStatus, action, reason string) (*models.Job, error) {
	if err := actor.Require(valueobject.CapModerateJobs); err != nil {
		return nil, err
	}
	job, err := s.store.Repos().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := guardState(job, valueobject.JobStatusPendingApproval); err != nil {
		return nil, err
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		var payload map[string]any
		if reason != "" {
			payload = map[string]any{"reason": strings.TrimSpace(reason)}
		}
		return transition(ctx, r, job, to, actor, action, payload)
	})
	if err != nil {
		return nil, err
	}

	logger.Job(job.ID).WithFields(logrus.Fields{
		"moderator_id": actor.ID.String(),
		"status":       job.Status,
	}).Info("job: решение модерации")
	s.afterCommit(ctx, job, nil)
	return job, nil
}

// CancelJob закрывает заказ до поступления средств. Во время незавершённой оплаты отмена запрещена.
func (s *JobService) CancelJob(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.Repos().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsOwnedBy(actor.ID) && !actor.Role.Can(valueobject.CapModerateJobs) {
		return nil, apperror.ErrForbidden
	}
	if err := guardState(job,
		valueobject.JobStatusOpen, valueobject.JobStatusPendingApproval,
		valueobject.JobStatusListed, valueobject.JobStatusHiredPendingFunding,
	); err != nil {
		return nil, err
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		if _, err := r.Transactions.GetActiveByJob(ctx, job.ID); err == nil {
			return apperror.New(apperror.ErrCodeInvalidState, "по заказу идёт оплата, отмена сейчас невозможна")
		} else if !errors.Is(err, apperror.ErrTransactionNotFound) {
			return err
		}
		return transition(ctx, r, job, valueobject.JobStatusCancelled, actor, models.JobActionCancelled, nil)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, job, nil)
	return job, nil
}

// SubmitApplication сохраняет отклик исполнителя на опубликованный заказ.
func (s *JobService) SubmitApplication(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID, in ApplicationInput) (*models.Application, error) {
	if err := actor.Require(valueobject.CapApplyToJobs); err != nil {
		return nil, err
	}
	job, err := s.store.Repos().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := guardState(job, valueobject.JobStatusOpen, valueobject.JobStatusListed); err != nil {
		return nil, err
	}
	if in.BidAmount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "ставка должна быть положительной")
	}
	in.Proposal = strings.TrimSpace(in.Proposal)
	in.PayoutHandle = strings.TrimSpace(in.PayoutHandle)
	if err := validation.ValidateProposal(in.Proposal); err != nil {
		return nil, validationError(err)
	}
	if err := validation.ValidateWalletHandle("кошелёк для выплаты", in.PayoutHandle); err != nil {
		return nil, validationError(err)
	}

	app := &models.Application{
		ID:             uuid.New(),
		JobID:          job.ID,
		ProfessionalID: actor.ID,
		BidAmount:      in.BidAmount,
		Proposal:       in.Proposal,
		PayoutHandle:   in.PayoutHandle,
		Status:         valueobject.ApplicationStatusPending,
	}
	if err := s.store.Repos().Applications.Create(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// ListApplications: владелец и персонал видят все отклики, исполнитель только свой.
func (s *JobService) ListApplications(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID) ([]*models.Application, error) {
	job, err := s.store.Repos().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	apps, err := s.store.Repos().Applications.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if canView(actor, job) && !job.IsHired(actor.ID) {
		return apps, nil
	}
	own := make([]*models.Application, 0, 1)
	for _, a := range apps {
		if a.ProfessionalID == actor.ID {
			own = append(own, a)
		}
	}
	return own, nil
}

// AcceptApplication нанимает исполнителя. Из двух параллельных принятий проходит одно,
// второе получает ErrStaleVersion на CAS заказа.
func (s *JobService) AcceptApplication(ctx context.Context, actor valueobject.Actor, jobID, applicationID uuid.UUID) (*models.Job, error) {
	job, err := s.store.Repos().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsOwnedBy(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	if err := guardState(job, valueobject.JobStatusOpen, valueobject.JobStatusListed); err != nil {
		return nil, err
	}
	app, err := s.store.Repos().Applications.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.JobID != job.ID {
		return nil, apperror.ErrApplicationNotFound
	}
	if app.Status != valueobject.ApplicationStatusPending {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "принять можно только отклик в статусе PENDING")
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		if _, err := r.Applications.GetAcceptedByJob(ctx, job.ID); err == nil {
			return apperror.New(apperror.ErrCodeInvalidState, "исполнитель по заказу уже выбран")
		} else if !errors.Is(err, apperror.ErrApplicationNotFound) {
			return err
		}

		job.HiredApplicationID = &app.ID
		job.ProfessionalID = &app.ProfessionalID
		if err := transition(ctx, r, job, valueobject.JobStatusHiredPendingFunding, actor, models.JobActionHired,
			map[string]any{"application_id": app.ID.String()}); err != nil {
			return err
		}
		return r.Applications.UpdateStatus(ctx, app.ID, valueobject.ApplicationStatusPending, valueobject.ApplicationStatusAccepted)
	})
	if err != nil {
		return nil, err
	}

	logger.Job(job.ID).WithField("application_id", app.ID.String()).Info("job: исполнитель нанят")
	s.afterCommit(ctx, job, nil)
	return job, nil
}

// FundJob создаёт депозит на сумму бюджета и отправляет списание провайдеру.
// Синхронный отказ провайдера закрывает депозит как FAILED и возвращает заказ в LISTED.
func (s *JobService) FundJob(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID, payerHandle string) (*models.PaymentTransaction, error) {
	job, err := s.store.Repos().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsOwnedBy(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	if err := guardState(job, valueobject.JobStatusHiredPendingFunding); err != nil {
		return nil, err
	}
	payerHandle = strings.TrimSpace(payerHandle)
	if err := validation.ValidateWalletHandle("кошелёк плательщика", payerHandle); err != nil {
		return nil, validationError(err)
	}

	deposit := &models.PaymentTransaction{
		ID:                 uuid.New(),
		JobID:              job.ID,
		Direction:          valueobject.DirectionDeposit,
		Amount:             job.Budget,
		Currency:           job.Currency,
		CounterpartyHandle: payerHandle,
		Status:             valueobject.TransactionStatusInitiated,
	}
	err = s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		if err := requireFresh(ctx, r, job); err != nil {
			return err
		}
		if err := r.Transactions.Create(ctx, deposit); err != nil {
			return err
		}
		return note(ctx, r, job.ID, actor, models.JobActionFundingStarted, map[string]any{
			"transaction_id": deposit.ID.String(),
			"amount":         deposit.Amount,
		})
	})
	if err != nil {
		return nil, err
	}

	log := logger.Transaction(job.ID, deposit.ID, nil)
	receipt, err := s.gateway.InitiateCharge(ctx, gateway.ChargeRequest{
		Reference:   deposit.ID.String(),
		Amount:      deposit.Amount,
		Currency:    deposit.Currency,
		PayerHandle: deposit.CounterpartyHandle,
	})
	// Дальше пишем отдельным контекстом: запрос пользователя мог уже завершиться,
	// а провайдер, возможно, уже принял списание.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err != nil {
		// Ответ мог потеряться после того, как провайдер принял списание: спрашиваем по ключу.
		found, lerr := s.gateway.FindByReference(persistCtx, deposit.ID.String())
		if lerr != nil || found.Status == gateway.StatusFailed {
			log.WithError(err).Warn("job: провайдер отклонил списание")
			if ferr := s.FailDeposit(persistCtx, deposit, valueobject.TransactionStatusFailed, err.Error(), utcNow()); ferr != nil {
				log.WithError(ferr).Error("job: не удалось закрыть отклонённый депозит, его закроет сверка")
			}
			return nil, apperror.Wrap(err, apperror.ErrCodeProviderUnavailable, apperror.ErrProviderUnavailable.Message)
		}
		log.WithError(err).WithField("provider_ref", found.ProviderRef).
			Warn("job: ответ на списание потерян, провайдер нашёл операцию по ключу")
		receipt = gateway.Receipt{ProviderRef: found.ProviderRef, AcceptedAt: utcNow()}
	}

	// StaleVersion: сверка уже нашла операцию по ключу и сохранила ссылку сама.
	err = s.store.Repos().Transactions.MarkPending(persistCtx, deposit.ID, receipt.ProviderRef, receipt.AcceptedAt)
	if err != nil && !apperror.IsStaleVersion(err) {
		log.WithError(err).WithField("provider_ref", receipt.ProviderRef).
			Error("job: провайдер принял списание, но ссылку сохранить не удалось, её найдёт сверка")
		return nil, err
	}
	log.WithField("provider_ref", receipt.ProviderRef).Info("job: списание отправлено провайдеру")
	return s.store.Repos().Transactions.GetByID(persistCtx, deposit.ID)
}

// SubmitDeliverable: нанятый исполнитель сдаёт работу на приёмку.
func (s *JobService) SubmitDeliverable(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID, ref string) (*models.Job, error) {
	job, err := s.store.Repos().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsHired(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	if err := guardState(job, valueobject.JobStatusInProgress); err != nil {
		return nil, err
	}
	ref = strings.TrimSpace(ref)
	if err := validation.ValidateDeliverableRef(ref); err != nil {
		return nil, validationError(err)
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		job.DeliverableRef = &ref
		return transition(ctx, r, job, valueobject.JobStatusUnderReview, actor, models.JobActionDeliverable,
			map[string]any{"deliverable_ref": ref})
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, job, nil)
	return job, nil
}

// ApproveCompletion закрывает заказ и выплачивает исполнителю весь удержанный остаток.
func (s *JobService) ApproveCompletion(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID) (*models.Job, *models.PaymentTransaction, error) {
	job, err := s.store.Repos().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if !job.IsOwnedBy(actor.ID) {
		return nil, nil, apperror.ErrForbidden
	}
	if err := guardState(job, valueobject.JobStatusUnderReview); err != nil {
		return nil, nil, err
	}

	var payout *models.PaymentTransaction
	err = s.store.WithTransaction(ctx, func(ctx context.Context, r repository.Repositories) error {
		destination, err := payoutDestination(ctx, r, job)
		if err != nil {
			return err
		}
		if payout, err = s.ledger.DisburseTx(ctx, r, job, valueobject.DirectionPayout, destination); err != nil {
			return err
		}
		return transition(ctx, r, job, valueobject.JobStatusCompleted, actor, models.JobActionCompleted,
			map[string]any{"transaction_id": payout.ID.String(), "amount": payout.Amount})
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Transaction(job.ID, payout.ID, nil).WithField("amount", payout.Amount).
		Info("job: работа принята, выплата исполнителю создана")
	s.afterCommit(ctx, job, payout)
	return job, payout, nil
}

func payoutDestination(ctx context.Context, r repository.Repositories, job *models.Job) (string, error) {
	if job.HiredApplicationID == nil {
		return "", apperror.New(apperror.ErrCodeInvalidState, "у заказа нет нанятого исполнителя")
	}
	app, err := r.Applications.GetByID(ctx, *job.HiredApplicationID)
	if err != nil {
		return "", err
	}
	return app.PayoutHandle, nil
}

func canView(actor valueobject.Actor, job *models.Job) bool {
	return job.IsParticipant(actor.ID) ||
		actor.Role.Can(valueobject.CapModerateJobs) ||
		actor.Role.Can(valueobject.CapArbitrateDisputes)
}

// GetJob возвращает заказ. Опубликованные заказы видны всем, остальные только участникам и персоналу.
func (s *JobService) GetJob(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.Repos().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsHireable() || canView(actor, job) {
		return job, nil
	}
	return nil, apperror.ErrForbidden
}

// ListJobEvents возвращает историю переходов заказа.
func (s *JobService) ListJobEvents(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID) ([]*models.JobEvent, error) {
	if _, err := s.viewable(ctx, actor, jobID); err != nil {
		return nil, err
	}
	return s.store.Repos().Events.ListByJob(ctx, jobID)
}

// ListTransactions возвращает платёжные операции заказа.
func (s *JobService) ListTransactions(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID) ([]*models.PaymentTransaction, error) {
	if _, err := s.viewable(ctx, actor, jobID); err != nil {
		return nil, err
	}
	return s.store.Repos().Transactions.ListByJob(ctx, jobID)
}

// GetTransaction возвращает операцию. Для TIMED_OUT возвращается ErrSettlementTimedOut вместе с операцией.
func (s *JobService) GetTransaction(ctx context.Context, actor valueobject.Actor, txID uuid.UUID) (*models.PaymentTransaction, error) {
	tx, err := s.store.Repos().Transactions.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if _, err := s.viewable(ctx, actor, tx.JobID); err != nil {
		return nil, err
	}
	if tx.Status == valueobject.TransactionStatusTimedOut {
		return tx, apperror.ErrSettlementTimedOut
	}
	return tx, nil
}

// EscrowView: баланс и журнал эскроу заказа.
type EscrowView struct {
	Balance *models.EscrowBalance `json:"balance"`
	Entries []*models.LedgerEntry `json:"entries"`
}

func (s *JobService) GetEscrow(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID) (*EscrowView, error) {
	if _, err := s.viewable(ctx, actor, jobID); err != nil {
		return nil, err
	}
	bal, err := s.ledger.Balance(ctx, jobID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.Entries(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &EscrowView{Balance: bal, Entries: entries}, nil
}

func (s *JobService) viewable(ctx context.Context, actor valueobject.Actor, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.Repos().Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, job) && !actor.Role.Can(valueobject.CapAuditLedger) {
		return nil, apperror.ErrForbidden
	}
	return job, nil
}

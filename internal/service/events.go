package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// ChangeNotifier получает заказ после фиксации перехода (канал инвалидации UI).
type ChangeNotifier interface {
	JobChanged(job *models.Job)
}

// Dispatcher отправляет созданную выплату провайдеру сразу после фиксации.
// Если сразу не вышло, выплату подберёт воркер сверки.
type Dispatcher interface {
	Dispatch(ctx context.Context, txID uuid.UUID) error
}

func eventPayload(kv map[string]any) types.JSONText {
	if len(kv) == 0 {
		return types.JSONText("{}")
	}
	raw, err := json.Marshal(kv)
	if err != nil {
		return types.JSONText("{}")
	}
	return types.JSONText(raw)
}

func actorRef(actor valueobject.Actor) *uuid.UUID {
	if actor.IsSystem() {
		return nil
	}
	id := actor.ID
	return &id
}

// transition проверяет переход по таблице, пишет заказ через CAS и добавляет строку истории.
// Перед вызовом job может быть изменён (исполнитель, результат и т.п.), Status выставляется здесь.
func transition(ctx context.Context, r repository.Repositories, job *models.Job, to valueobject.JobStatus,
	actor valueobject.Actor, action string, payload map[string]any) error {
	from := job.Status
	if err := from.CheckTransition(to); err != nil {
		return err
	}
	version := job.Version
	job.Status = to
	if err := r.Jobs.CompareAndSwap(ctx, job, from, version); err != nil {
		job.Status = from
		return err
	}
	return r.Events.Add(ctx, &models.JobEvent{
		ID:         uuid.New(),
		JobID:      job.ID,
		ActorID:    actorRef(actor),
		Action:     action,
		FromStatus: &from,
		ToStatus:   &to,
		Payload:    eventPayload(payload),
	})
}

// note добавляет строку истории без смены статуса.
func note(ctx context.Context, r repository.Repositories, jobID uuid.UUID, actor valueobject.Actor,
	action string, payload map[string]any) error {
	return r.Events.Add(ctx, &models.JobEvent{
		ID:      uuid.New(),
		JobID:   jobID,
		ActorID: actorRef(actor),
		Action:  action,
		Payload: eventPayload(payload),
	})
}

// requireFresh перечитывает заказ внутри единицы работы и сверяет версию.
func requireFresh(ctx context.Context, r repository.Repositories, job *models.Job) error {
	cur, err := r.Jobs.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if cur.Version != job.Version || cur.Status != job.Status {
		return apperror.ErrStaleVersion
	}
	return nil
}

// guardState возвращает ErrTerminalState для закрытого заказа и ErrInvalidState,
// если статус не входит в allowed.
func guardState(job *models.Job, allowed ...valueobject.JobStatus) error {
	if job.Status.IsTerminal() {
		return apperror.ErrTerminalState
	}
	for _, s := range allowed {
		if job.Status == s {
			return nil
		}
	}
	return apperror.New(apperror.ErrCodeInvalidState,
		"действие недоступно, пока заказ в статусе "+string(job.Status))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	return apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
}

// hooks: действия после фиксации единицы работы. Ошибки только логируются.
type hooks struct {
	dispatcher Dispatcher
	notifier   ChangeNotifier
}

func (h *hooks) afterCommit(ctx context.Context, job *models.Job, disbursement *models.PaymentTransaction) {
	if h.notifier != nil && job != nil {
		h.notifier.JobChanged(job)
	}
	if h.dispatcher != nil && disbursement != nil {
		if err := h.dispatcher.Dispatch(ctx, disbursement.ID); err != nil {
			logger.Transaction(disbursement.JobID, disbursement.ID, disbursement.ProviderRef).
				WithError(err).Warn("service: немедленная отправка выплаты не удалась, её повторит воркер")
		}
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// Package worker сверяет платёжные операции с провайдером: принимает уведомления,
// опрашивает статус, закрывает операции по таймауту и отправляет выплаты.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/goroutine"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// Config: параметры сверки.
type Config struct {
	// CallbackWindow: сколько ждать уведомления, прежде чем опрашивать провайдера.
	CallbackWindow time.Duration
	// SettlementCeiling: предельный возраст незавершённой операции, после него TIMED_OUT.
	SettlementCeiling time.Duration
	// PollInterval: не чаще одного опроса на операцию за интервал.
	PollInterval time.Duration
	// DispatchLease: аренда операции одним воркером.
	DispatchLease time.Duration
	ScanInterval  time.Duration
	Concurrency   int
	BatchSize     int
	// CallbackSecret: общий секрет подписи уведомлений.
	CallbackSecret []byte
}

func DefaultConfig() Config {
	return Config{
		CallbackWindow:    90 * time.Second,
		SettlementCeiling: 5 * time.Minute,
		PollInterval:      15 * time.Second,
		DispatchLease:     30 * time.Second,
		ScanInterval:      5 * time.Second,
		Concurrency:       4,
		BatchSize:         100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CallbackWindow <= 0 {
		c.CallbackWindow = d.CallbackWindow
	}
	if c.SettlementCeiling <= 0 {
		c.SettlementCeiling = d.SettlementCeiling
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DispatchLease <= 0 {
		c.DispatchLease = d.DispatchLease
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = d.ScanInterval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	return c
}

// Settler: переходы заказа по исходу операции. Реализуется service.JobService.
type Settler interface {
	ConfirmDeposit(ctx context.Context, tx *models.PaymentTransaction, settledAt time.Time) error
	FailDeposit(ctx context.Context, tx *models.PaymentTransaction, next valueobject.TransactionStatus, reason string, at time.Time) error
	ConfirmDisbursement(ctx context.Context, tx *models.PaymentTransaction, settledAt time.Time) error
	FailDisbursement(ctx context.Context, tx *models.PaymentTransaction, next valueobject.TransactionStatus, reason string, at time.Time) error
	RecordLateSettlement(ctx context.Context, tx *models.PaymentTransaction, status gateway.ProviderStatus) error
}

// Reconciler: один сканер и пул воркеров. Оба пути получения исхода (уведомление и опрос)
// сходятся в apply, поэтому исход применяется ровно один раз. Операцию без сохранённой
// ссылки провайдера находим по ключу идемпотентности (ID операции).
type Reconciler struct {
	txs     repository.TransactionRepository
	gateway gateway.Gateway
	settler Settler
	cfg     Config
	now     func() time.Time
}

func NewReconciler(store repository.Store, gw gateway.Gateway, settler Settler, cfg Config) *Reconciler {
	return &Reconciler{
		txs:     store.Repos().Transactions,
		gateway: gw,
		settler: settler,
		cfg:     cfg.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock подменяет источник времени.
func (w *Reconciler) SetClock(now func() time.Time) {
	w.now = now
}

// Run сканирует незавершённые операции каждые ScanInterval, пока ctx не отменён.
func (w *Reconciler) Run(ctx context.Context) error {
	queue := make(chan uuid.UUID, w.cfg.BatchSize)
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		goroutine.SafeGoGroup(ctx, &wg, func(ctx context.Context) {
			for id := range queue {
				w.safeProcess(ctx, id)
			}
		})
	}

	logger.Log.WithFields(logrus.Fields{
		"concurrency":        w.cfg.Concurrency,
		"callback_window":    w.cfg.CallbackWindow.String(),
		"settlement_ceiling": w.cfg.SettlementCeiling.String(),
	}).Info("worker: сверка платежей запущена")

	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		w.scan(ctx, queue)
		select {
		case <-ctx.Done():
			close(queue)
			wg.Wait()
			logger.Log.Info("worker: сверка платежей остановлена")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Reconciler) scan(ctx context.Context, queue chan<- uuid.UUID) {
	items, err := w.txs.ListUnsettled(ctx, w.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			logger.Log.WithError(err).Error("worker: не удалось получить незавершённые операции")
		}
		return
	}
	for _, tx := range items {
		select {
		case queue <- tx.ID:
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce синхронно обрабатывает все незавершённые операции одной пачкой.
func (w *Reconciler) SweepOnce(ctx context.Context) (int, error) {
	items, err := w.txs.ListUnsettled(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, tx := range items {
		w.safeProcess(ctx, tx.ID)
	}
	return len(items), nil
}

func (w *Reconciler) safeProcess(ctx context.Context, id uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.WithField("transaction_id", id.String()).Errorf("worker: panic при обработке операции: %v", r)
		}
	}()
	if err := w.process(ctx, id); err != nil && ctx.Err() == nil {
		logger.Log.WithError(err).WithField("transaction_id", id.String()).Warn("worker: операция будет обработана повторно")
	}
}

func (w *Reconciler) process(ctx context.Context, id uuid.UUID) error {
	now := w.now()
	claimed, err := w.txs.Claim(ctx, id, now, now.Add(w.cfg.DispatchLease))
	if err != nil || !claimed {
		return err
	}
	tx, err := w.txs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if tx.Status.IsSettled() {
		return nil
	}
	defer func() {
		if err := w.txs.Release(context.WithoutCancel(ctx), id); err != nil && !apperror.IsNotFound(err) {
			logger.Log.WithError(err).WithField("transaction_id", id.String()).Debug("worker: не удалось снять аренду")
		}
	}()

	if tx.Age(now) >= w.cfg.SettlementCeiling {
		return w.expire(ctx, tx)
	}

	switch tx.Status {
	case valueobject.TransactionStatusInitiated:
		if tx.Direction.IsDisbursement() {
			return w.dispatch(ctx, tx)
		}
		return w.adopt(ctx, tx, now)
	case valueobject.TransactionStatusProviderPending:
		return w.poll(ctx, tx, now)
	}
	return nil
}

// adopt: депозит в INITIATED отправляет сам запрос оплаты. Если после окна уведомления
// ссылки всё ещё нет, ответ провайдера потерян: спрашиваем провайдера по ключу.
func (w *Reconciler) adopt(ctx context.Context, tx *models.PaymentTransaction, now time.Time) error {
	if tx.Age(now) < w.cfg.CallbackWindow {
		return nil
	}
	if tx.LastPolledAt != nil && now.Sub(*tx.LastPolledAt) < w.cfg.PollInterval {
		return nil
	}
	if err := w.txs.TouchPolled(ctx, tx.ID, now); err != nil {
		return err
	}

	found, err := w.gateway.FindByReference(ctx, tx.ID.String())
	if errors.Is(err, gateway.ErrReferenceUnknown) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("worker: поиск операции по ключу: %w", err)
	}
	if tx, err = w.attachRef(ctx, tx, found.ProviderRef); err != nil {
		return err
	}
	return w.apply(ctx, tx, found.Status, now)
}

func (w *Reconciler) poll(ctx context.Context, tx *models.PaymentTransaction, now time.Time) error {
	if tx.ProviderRef == nil {
		return nil
	}
	if tx.PendingSince != nil && now.Sub(*tx.PendingSince) < w.cfg.CallbackWindow {
		return nil
	}
	if tx.LastPolledAt != nil && now.Sub(*tx.LastPolledAt) < w.cfg.PollInterval {
		return nil
	}
	if err := w.txs.TouchPolled(ctx, tx.ID, now); err != nil {
		return err
	}

	status, err := w.gateway.CheckStatus(ctx, *tx.ProviderRef)
	if err != nil {
		return fmt.Errorf("worker: опрос провайдера: %w", err)
	}
	if status == gateway.StatusPending {
		return nil
	}
	return w.apply(ctx, tx, status, now)
}

// expire закрывает операцию, которую провайдер не завершил до предельного срока.
// Перед этим провайдер опрашивается последний раз.
func (w *Reconciler) expire(ctx context.Context, tx *models.PaymentTransaction) error {
	now := w.now()
	if tx.ProviderRef != nil {
		status, err := w.gateway.CheckStatus(ctx, *tx.ProviderRef)
		if err == nil && status.IsFinal() {
			return w.apply(ctx, tx, status, now)
		}
	} else if found, err := w.gateway.FindByReference(ctx, tx.ID.String()); err == nil {
		if tx, err = w.attachRef(ctx, tx, found.ProviderRef); err != nil {
			return err
		}
		if found.Status.IsFinal() {
			return w.apply(ctx, tx, found.Status, now)
		}
		if tx.Status.IsSettled() {
			return nil
		}
	}

	reason := fmt.Sprintf("провайдер не подтвердил операцию за %s", w.cfg.SettlementCeiling)
	var err error
	if tx.Direction == valueobject.DirectionDeposit {
		err = w.settler.FailDeposit(ctx, tx, valueobject.TransactionStatusTimedOut, reason, now)
	} else {
		err = w.settler.FailDisbursement(ctx, tx, valueobject.TransactionStatusTimedOut, reason, now)
	}
	if apperror.IsStaleVersion(err) {
		return nil
	}
	if err == nil {
		logger.Transaction(tx.JobID, tx.ID, tx.ProviderRef).Warn("worker: операция закрыта по таймауту")
	}
	return err
}

// Dispatch отправляет провайдеру выплату в статусе INITIATED.
func (w *Reconciler) Dispatch(ctx context.Context, txID uuid.UUID) error {
	now := w.now()
	claimed, err := w.txs.Claim(ctx, txID, now, now.Add(w.cfg.DispatchLease))
	if err != nil || !claimed {
		return err
	}
	defer func() {
		_ = w.txs.Release(context.WithoutCancel(ctx), txID)
	}()
	tx, err := w.txs.GetByID(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Status != valueobject.TransactionStatusInitiated || !tx.Direction.IsDisbursement() {
		return nil
	}
	return w.dispatch(ctx, tx)
}

func (w *Reconciler) dispatch(ctx context.Context, tx *models.PaymentTransaction) error {
	receipt, err := w.gateway.Disburse(ctx, gateway.DisburseRequest{
		Reference:   tx.ID.String(),
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		PayeeHandle: tx.CounterpartyHandle,
	})
	if err != nil {
		return fmt.Errorf("worker: отправка выплаты: %w", err)
	}
	if err := w.txs.MarkPending(ctx, tx.ID, receipt.ProviderRef, receipt.AcceptedAt); err != nil {
		if apperror.IsStaleVersion(err) {
			return nil
		}
		return err
	}
	logger.Transaction(tx.JobID, tx.ID, &receipt.ProviderRef).WithFields(logrus.Fields{
		"direction": tx.Direction,
		"amount":    tx.Amount,
	}).Info("worker: выплата принята провайдером")
	return nil
}

// HandleCallback проверяет подпись уведомления провайдера и применяет исход.
func (w *Reconciler) HandleCallback(ctx context.Context, body []byte, signature string) error {
	if !gateway.VerifySignature(w.cfg.CallbackSecret, body, signature) {
		return apperror.New(apperror.ErrCodeUnauthorized, "неверная подпись уведомления провайдера")
	}
	cb, err := gateway.ParseCallback(body)
	if err != nil {
		return err
	}
	return w.ApplyOutcome(ctx, cb)
}

// byReference находит операцию, ссылку на которую движок не успел сохранить.
func (w *Reconciler) byReference(ctx context.Context, reference, providerRef string) (*models.PaymentTransaction, error) {
	id, err := uuid.Parse(reference)
	if err != nil {
		return nil, apperror.ErrTransactionNotFound
	}
	tx, err := w.txs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return w.attachRef(ctx, tx, providerRef)
}

// attachRef сохраняет ссылку провайдера у операции в INITIATED. У уже закрытой операции
// ссылка ставится только в снимок, чтобы попасть в запись о позднем исходе.
func (w *Reconciler) attachRef(ctx context.Context, tx *models.PaymentTransaction, providerRef string) (*models.PaymentTransaction, error) {
	if tx.ProviderRef == nil && tx.Status == valueobject.TransactionStatusInitiated {
		err := w.txs.MarkPending(ctx, tx.ID, providerRef, w.now())
		if err != nil && !apperror.IsStaleVersion(err) {
			return nil, err
		}
		if err == nil {
			logger.Transaction(tx.JobID, tx.ID, &providerRef).Warn("worker: ссылка провайдера восстановлена по ключу")
		}
		if tx, err = w.txs.GetByID(ctx, tx.ID); err != nil {
			return nil, err
		}
	}
	if tx.ProviderRef == nil {
		ref := providerRef
		tx.ProviderRef = &ref
		return tx, nil
	}
	if *tx.ProviderRef != providerRef {
		return nil, apperror.New(apperror.ErrCodeConflict, "у операции уже другая ссылка провайдера")
	}
	return tx, nil
}

// ApplyOutcome применяет исход операции по ссылке провайдера, а если ссылка движку
// неизвестна, то по ключу из уведомления. Повторный исход для завершённой операции
// игнорируется, поздний успех по FAILED/TIMED_OUT только записывается.
func (w *Reconciler) ApplyOutcome(ctx context.Context, cb gateway.Callback) error {
	tx, err := w.txs.GetByProviderRef(ctx, cb.ProviderRef)
	if apperror.IsNotFound(err) && cb.Reference != "" {
		tx, err = w.byReference(ctx, cb.Reference, cb.ProviderRef)
	}
	if err != nil {
		return err
	}
	return w.apply(ctx, tx, cb.Status, cb.SettledAt)
}

const maxApplyAttempts = 3

func (w *Reconciler) apply(ctx context.Context, tx *models.PaymentTransaction, status gateway.ProviderStatus, at time.Time) error {
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		if tx.Status.IsSettled() {
			if status == gateway.StatusSuccess && tx.Status.IsUnsuccessful() {
				return w.settler.RecordLateSettlement(ctx, tx, status)
			}
			logger.Transaction(tx.JobID, tx.ID, tx.ProviderRef).WithField("status", status).
				Debug("worker: повторный исход проигнорирован")
			return nil
		}

		var err error
		switch {
		case status == gateway.StatusPending:
			return nil
		case tx.Direction == valueobject.DirectionDeposit && status == gateway.StatusSuccess:
			err = w.settler.ConfirmDeposit(ctx, tx, at)
		case tx.Direction == valueobject.DirectionDeposit:
			err = w.settler.FailDeposit(ctx, tx, valueobject.TransactionStatusFailed, "провайдер отклонил списание", at)
		case status == gateway.StatusSuccess:
			err = w.settler.ConfirmDisbursement(ctx, tx, at)
		default:
			err = w.settler.FailDisbursement(ctx, tx, valueobject.TransactionStatusFailed, "провайдер отклонил выплату", at)
		}
		if err == nil || !errors.Is(err, apperror.ErrStaleVersion) {
			return err
		}

		// Исход параллельно применил другой путь: перечитываем и решаем заново.
		if tx, err = w.txs.GetByID(ctx, tx.ID); err != nil {
			return err
		}
	}
	return apperror.ErrStaleVersion
}

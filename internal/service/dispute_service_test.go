package service

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

const testReason = "Исполнитель сдал не то, что обсуждали"

func TestDisputeService_ReleaseDuringReview(t *testing.T) {
	f := newFixture(t, false)
	job := f.reviewJob(t)

	dispute, err := f.disputes.OpenDispute(f.ctx, f.client, job.ID, testReason)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusOpen, dispute.Status)
	assert.Equal(t, valueobject.JobStatusDisputed, f.reload(t, job.ID).Status)

	_, err = f.disputes.OpenDispute(f.ctx, f.pro, job.ID, testReason)
	assert.True(t, errors.Is(err, apperror.ErrDisputeExists))

	_, _, err = f.jobs.ApproveCompletion(f.ctx, f.client, job.ID)
	assert.True(t, errors.Is(err, apperror.ErrInvalidState), "во время спора приёмка недоступна")

	payout, err := f.disputes.ResolveDispute(f.ctx, f.staff, dispute.ID, valueobject.OutcomeRelease, "Работа соответствует техническому заданию")
	require.NoError(t, err)
	assert.Equal(t, valueobject.DirectionPayout, payout.Direction)
	assert.Equal(t, testPayeeHandle, payout.CounterpartyHandle)
	assert.Equal(t, testBudget, payout.Amount)
	assert.Equal(t, valueobject.JobStatusResolvedRelease, f.reload(t, job.ID).Status)
	assert.Zero(t, f.held(t, job.ID))
	assert.Contains(t, f.dispatcher.dispatched(), payout.ID)

	log, err := f.disputes.ArbitrationLog(f.ctx, f.admin, dispute.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, f.staff.ID, log[0].AdminID)
	assert.Equal(t, valueobject.OutcomeRelease, log[0].Outcome)
	assert.Equal(t, payout.ID, log[0].TransactionID)

	disputes, err := f.disputes.ListDisputes(f.ctx, f.pro, job.ID)
	require.NoError(t, err)
	require.Len(t, disputes, 1)
	assert.Equal(t, valueobject.DisputeStatusResolvedRelease, disputes[0].Status)
	require.NotNil(t, disputes[0].ResolvedBy)

	_, err = f.disputes.ResolveDispute(f.ctx, f.staff, dispute.ID, valueobject.OutcomeRefund, "Передумал, возвращаем клиенту")
	assert.True(t, errors.Is(err, apperror.ErrTerminalState))

	_, err = f.jobs.SubmitDeliverable(f.ctx, f.pro, job.ID, "https://files.example/v2.zip")
	assert.True(t, errors.Is(err, apperror.ErrTerminalState))
	_, _, err = f.jobs.ApproveCompletion(f.ctx, f.client, job.ID)
	assert.True(t, errors.Is(err, apperror.ErrTerminalState))
	_, err = f.jobs.CancelJob(f.ctx, f.client, job.ID)
	assert.True(t, errors.Is(err, apperror.ErrTerminalState))
}

func TestDisputeService_RefundDuringWork(t *testing.T) {
	f := newFixture(t, false)
	job, deposit := f.fundedJob(t)

	dispute, err := f.disputes.OpenDispute(f.ctx, f.pro, job.ID, testReason)
	require.NoError(t, err)
	assert.Equal(t, f.pro.ID, dispute.RaisedBy)

	refund, err := f.disputes.ResolveDispute(f.ctx, f.admin, dispute.ID, valueobject.OutcomeRefund, "Исполнитель не приступил к работе")
	require.NoError(t, err)
	assert.Equal(t, valueobject.DirectionRefund, refund.Direction)
	assert.Equal(t, deposit.CounterpartyHandle, refund.CounterpartyHandle)
	assert.Equal(t, valueobject.JobStatusResolvedRefund, f.reload(t, job.ID).Status)
	assert.Zero(t, f.held(t, job.ID))

	entries, err := f.ledger.Entries(f.ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, valueobject.LedgerEntryRefund, entries[1].EntryType)
}

func TestDisputeService_OpenOutsideWorkIsInvalid(t *testing.T) {
	f := newFixture(t, false)
	job := f.hiredJob(t)

	_, err := f.disputes.OpenDispute(f.ctx, f.client, job.ID, testReason)
	assert.True(t, errors.Is(err, apperror.ErrInvalidState))
	assert.Equal(t, valueobject.JobStatusHiredPendingFunding, f.reload(t, job.ID).Status)
}

func TestDisputeService_OpenOnCompletedJobIsInvalid(t *testing.T) {
	f := newFixture(t, false)
	job := f.reviewJob(t)
	_, _, err := f.jobs.ApproveCompletion(f.ctx, f.client, job.ID)
	require.NoError(t, err)

	_, err = f.disputes.OpenDispute(f.ctx, f.pro, job.ID, testReason)
	assert.True(t, errors.Is(err, apperror.ErrInvalidState))
	assert.False(t, errors.Is(err, apperror.ErrTerminalState))
	assert.Equal(t, valueobject.JobStatusCompleted, f.reload(t, job.ID).Status)
}

func TestDisputeService_OpenRequiresParticipant(t *testing.T) {
	f := newFixture(t, false)
	job, _ := f.fundedJob(t)

	_, err := f.disputes.OpenDispute(f.ctx, f.pro2, job.ID, testReason)
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.disputes.OpenDispute(f.ctx, f.client, job.ID, "плохо")
	assert.True(t, apperror.IsValidation(err))

	_, err = f.disputes.OpenDispute(f.ctx, f.client, uuid.New(), testReason)
	assert.True(t, apperror.IsNotFound(err))
}

func TestDisputeService_ResolveValidation(t *testing.T) {
	f := newFixture(t, false)
	job, _ := f.fundedJob(t)
	dispute, err := f.disputes.OpenDispute(f.ctx, f.client, job.ID, testReason)
	require.NoError(t, err)

	_, err = f.disputes.ResolveDispute(f.ctx, f.client, dispute.ID, valueobject.OutcomeRefund, "Клиент решает сам за себя")
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.disputes.ResolveDispute(f.ctx, f.staff, dispute.ID, valueobject.DisputeOutcome("SPLIT"), "Делим пополам между сторонами")
	assert.True(t, apperror.IsValidation(err))

	_, err = f.disputes.ResolveDispute(f.ctx, f.staff, dispute.ID, valueobject.OutcomeRefund, "")
	assert.True(t, apperror.IsValidation(err))

	_, err = f.disputes.ArbitrationLog(f.ctx, f.pro, dispute.ID)
	assert.True(t, apperror.IsForbidden(err))
}

func TestDisputeService_ResolveFailureRollsBack(t *testing.T) {
	f := newFixture(t, false)
	job, _ := f.fundedJob(t)
	dispute, err := f.disputes.OpenDispute(f.ctx, f.client, job.ID, testReason)
	require.NoError(t, err)

	// Баланс обнулён в обход журнала: выплата из эскроу невозможна.
	bal, err := f.ledger.Balance(f.ctx, job.ID)
	require.NoError(t, err)
	version := bal.Version
	bal.Held = 0
	require.NoError(t, f.store.Repos().Ledger.SaveBalance(f.ctx, bal, version))

	_, err = f.disputes.ResolveDispute(f.ctx, f.staff, dispute.ID, valueobject.OutcomeRelease, "Работа соответствует техническому заданию")
	assert.True(t, errors.Is(err, apperror.ErrNoFundsHeld))

	assert.Equal(t, valueobject.JobStatusDisputed, f.reload(t, job.ID).Status)
	open, err := f.store.Repos().Disputes.GetOpenByJob(f.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, dispute.ID, open.ID)

	log, err := f.disputes.ArbitrationLog(f.ctx, f.staff, dispute.ID)
	require.NoError(t, err)
	assert.Empty(t, log)

	txs, err := f.jobs.ListTransactions(f.ctx, f.staff, job.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "выплата не создана")
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

func TestEscrowLedger_HoldOnlyOnce(t *testing.T) {
	f := newFixture(t, false)
	job, deposit := f.fundedJob(t)

	_, err := f.ledger.Hold(f.ctx, deposit)
	assert.True(t, errors.Is(err, apperror.ErrAlreadyHeld))
	assert.Equal(t, testBudget, f.held(t, job.ID))

	_, err = f.ledger.Hold(f.ctx, &models.PaymentTransaction{JobID: job.ID, Direction: valueobject.DirectionPayout, Amount: 1})
	assert.True(t, errors.Is(err, apperror.ErrInvalidState))
}

func TestEscrowLedger_ReleaseAndRefund(t *testing.T) {
	f := newFixture(t, false)
	job, deposit := f.fundedJob(t)

	refund, err := f.ledger.Refund(f.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, deposit.CounterpartyHandle, refund.CounterpartyHandle)
	assert.Equal(t, testBudget, refund.Amount)
	assert.Zero(t, f.held(t, job.ID))

	_, err = f.ledger.Release(f.ctx, job.ID, testPayeeHandle)
	assert.True(t, errors.Is(err, apperror.ErrNoFundsHeld), "баланс возвращается в 0 ровно один раз")
}

func TestEscrowLedger_ReleaseWithoutFunds(t *testing.T) {
	f := newFixture(t, false)
	job := f.hiredJob(t)

	_, err := f.ledger.Release(f.ctx, job.ID, testPayeeHandle)
	assert.True(t, errors.Is(err, apperror.ErrNoFundsHeld))

	_, err = f.ledger.Refund(f.ctx, job.ID)
	assert.True(t, errors.Is(err, apperror.ErrNoFundsHeld))
}

func TestEscrowLedger_Audit(t *testing.T) {
	f := newFixture(t, false)
	job, _ := f.fundedJob(t)
	other := f.reviewJob(t)
	_, _, err := f.jobs.ApproveCompletion(f.ctx, f.client, other.ID)
	require.NoError(t, err)

	drifts, err := f.ledger.AuditAll(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	drift, err := f.ledger.VerifyDrift(f.ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, drift)

	err = f.store.WithTransaction(f.ctx, func(ctx context.Context, r repository.Repositories) error {
		return r.Ledger.Append(ctx, &models.LedgerEntry{
			ID:            uuid.New(),
			JobID:         job.ID,
			EntryType:     valueobject.LedgerEntryHold,
			Amount:        1,
			Currency:      testCurrency,
			TransactionID: uuid.New(),
		})
	})
	require.NoError(t, err)

	drift, err = f.ledger.VerifyDrift(f.ctx, job.ID)
	assert.True(t, errors.Is(err, apperror.ErrLedgerDrift))
	require.NotNil(t, drift)
	assert.Equal(t, testBudget, drift.Held)
	assert.Equal(t, testBudget+1, drift.EntriesSum)

	drifts, err = f.ledger.AuditAll(f.ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, job.ID, drifts[0].JobID)
}

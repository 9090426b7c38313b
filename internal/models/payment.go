package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
)

// PaymentTransaction: одно движение средств через платёжного провайдера.
type PaymentTransaction struct {
	ID                 uuid.UUID                        `db:"id" json:"id"`
	JobID              uuid.UUID                        `db:"job_id" json:"job_id"`
	Direction          valueobject.TransactionDirection `db:"direction" json:"direction"`
	Amount             int64                            `db:"amount" json:"amount"`
	Currency           string                           `db:"currency" json:"currency"`
	CounterpartyHandle string                           `db:"counterparty_handle" json:"counterparty_handle"`
	ProviderRef        *string                          `db:"provider_ref" json:"provider_ref,omitempty"`
	Status             valueobject.TransactionStatus    `db:"status" json:"status"`
	FailureReason      *string                          `db:"failure_reason" json:"failure_reason,omitempty"`
	RetryOf            *uuid.UUID                       `db:"retry_of" json:"retry_of,omitempty"`
	LeaseUntil         *time.Time                       `db:"lease_until" json:"-"`
	LastPolledAt       *time.Time                       `db:"last_polled_at" json:"-"`
	PendingSince       *time.Time                       `db:"pending_since" json:"pending_since,omitempty"`
	SettledAt          *time.Time                       `db:"settled_at" json:"settled_at,omitempty"`
	CreatedAt          time.Time                        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time                        `db:"updated_at" json:"updated_at"`
}

// Age считает возраст транзакции от момента создания.
func (t *PaymentTransaction) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// LedgerEntry: неизменяемая проводка журнала эскроу.
// Amount со знаком: +HOLD, −PAYOUT, −REFUND.
type LedgerEntry struct {
	ID            uuid.UUID                   `db:"id" json:"id"`
	JobID         uuid.UUID                   `db:"job_id" json:"job_id"`
	EntryType     valueobject.LedgerEntryType `db:"entry_type" json:"entry_type"`
	Amount        int64                       `db:"amount" json:"amount"`
	Currency      string                      `db:"currency" json:"currency"`
	TransactionID uuid.UUID                   `db:"transaction_id" json:"transaction_id"`
	CreatedAt     time.Time                   `db:"created_at" json:"created_at"`
}

// EscrowBalance: проекция журнала, которую меняют только условной записью по версии.
type EscrowBalance struct {
	JobID     uuid.UUID `db:"job_id" json:"job_id"`
	Held      int64     `db:"held" json:"held"`
	Currency  string    `db:"currency" json:"currency"`
	Version   int64     `db:"version" json:"version"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LedgerDrift: расхождение журнала и баланса по одному заказу.
type LedgerDrift struct {
	JobID      uuid.UUID `json:"job_id"`
	Held       int64     `json:"held"`
	EntriesSum int64     `json:"entries_sum"`
}

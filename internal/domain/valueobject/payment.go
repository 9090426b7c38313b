package valueobject

type TransactionDirection string

const (
	DirectionDeposit TransactionDirection = "DEPOSIT"
	DirectionPayout  TransactionDirection = "PAYOUT"
	DirectionRefund  TransactionDirection = "REFUND"
)

// IsDisbursement: движение средств из эскроу наружу.
func (d TransactionDirection) IsDisbursement() bool {
	return d == DirectionPayout || d == DirectionRefund
}

type TransactionStatus string

const (
	TransactionStatusInitiated       TransactionStatus = "INITIATED"
	TransactionStatusProviderPending TransactionStatus = "PROVIDER_PENDING"
	TransactionStatusConfirmed       TransactionStatus = "CONFIRMED"
	TransactionStatusFailed          TransactionStatus = "FAILED"
	TransactionStatusTimedOut        TransactionStatus = "TIMED_OUT"
)

// IsSettled: транзакция в конечном статусе и больше не меняется.
func (s TransactionStatus) IsSettled() bool {
	switch s {
	case TransactionStatusConfirmed, TransactionStatusFailed, TransactionStatusTimedOut:
		return true
	}
	return false
}

// IsUnsuccessful: FAILED или TIMED_OUT.
func (s TransactionStatus) IsUnsuccessful() bool {
	return s == TransactionStatusFailed || s == TransactionStatusTimedOut
}

// ActiveTransactionStatuses: незавершённые статусы; у заказа может быть не более одной такой транзакции.
var ActiveTransactionStatuses = []TransactionStatus{
	TransactionStatusInitiated,
	TransactionStatusProviderPending,
}

type LedgerEntryType string

const (
	LedgerEntryHold   LedgerEntryType = "HOLD"
	LedgerEntryPayout LedgerEntryType = "PAYOUT"
	LedgerEntryRefund LedgerEntryType = "REFUND"
)

// LedgerEntryFor возвращает тип проводки для направления выплаты.
func LedgerEntryFor(d TransactionDirection) LedgerEntryType {
	switch d {
	case DirectionPayout:
		return LedgerEntryPayout
	case DirectionRefund:
		return LedgerEntryRefund
	default:
		return LedgerEntryHold
	}
}

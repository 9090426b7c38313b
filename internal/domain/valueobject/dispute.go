package valueobject

import "github.com/ignatzorin/escrow-engine/internal/pkg/apperror"

type DisputeStatus string

const (
	DisputeStatusOpen            DisputeStatus = "OPEN"
	DisputeStatusResolvedRelease DisputeStatus = "RESOLVED_RELEASE"
	DisputeStatusResolvedRefund  DisputeStatus = "RESOLVED_REFUND"
)

// DisputeOutcome: решение арбитра.
type DisputeOutcome string

const (
	OutcomeRelease DisputeOutcome = "RELEASE"
	OutcomeRefund  DisputeOutcome = "REFUND"
)

func NewDisputeOutcome(v string) (DisputeOutcome, error) {
	o := DisputeOutcome(v)
	switch o {
	case OutcomeRelease, OutcomeRefund:
		return o, nil
	}
	return "", apperror.New(apperror.ErrCodeValidation, "решение спора должно быть RELEASE или REFUND")
}

// JobStatus возвращает конечный статус заказа для решения.
func (o DisputeOutcome) JobStatus() JobStatus {
	if o == OutcomeRelease {
		return JobStatusResolvedRelease
	}
	return JobStatusResolvedRefund
}

func (o DisputeOutcome) DisputeStatus() DisputeStatus {
	if o == OutcomeRelease {
		return DisputeStatusResolvedRelease
	}
	return DisputeStatusResolvedRefund
}

func (o DisputeOutcome) Direction() TransactionDirection {
	if o == OutcomeRelease {
		return DirectionPayout
	}
	return DirectionRefund
}

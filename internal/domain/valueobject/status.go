package valueobject

import "github.com/ignatzorin/escrow-engine/internal/pkg/apperror"

type JobStatus string

const (
	JobStatusOpen                JobStatus = "OPEN"
	JobStatusPendingApproval     JobStatus = "PENDING_APPROVAL"
	JobStatusListed              JobStatus = "LISTED"
	JobStatusHiredPendingFunding JobStatus = "HIRED_PENDING_FUNDING"
	JobStatusInProgress          JobStatus = "IN_PROGRESS"
	JobStatusUnderReview         JobStatus = "UNDER_REVIEW"
	JobStatusCompleted           JobStatus = "COMPLETED"
	JobStatusDisputed            JobStatus = "DISPUTED"
	JobStatusResolvedRelease     JobStatus = "RESOLVED_RELEASE"
	JobStatusResolvedRefund      JobStatus = "RESOLVED_REFUND"
	JobStatusCancelled           JobStatus = "CANCELLED"
)

// jobTransitions: полная таблица допустимых переходов заказа.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusOpen:                {JobStatusPendingApproval, JobStatusListed, JobStatusHiredPendingFunding, JobStatusCancelled},
	JobStatusPendingApproval:     {JobStatusListed, JobStatusCancelled},
	JobStatusListed:              {JobStatusHiredPendingFunding, JobStatusCancelled},
	JobStatusHiredPendingFunding: {JobStatusInProgress, JobStatusListed, JobStatusCancelled},
	JobStatusInProgress:          {JobStatusUnderReview, JobStatusDisputed},
	JobStatusUnderReview:         {JobStatusCompleted, JobStatusDisputed},
	JobStatusDisputed:            {JobStatusResolvedRelease, JobStatusResolvedRefund},
	JobStatusCompleted:           {},
	JobStatusResolvedRelease:     {},
	JobStatusResolvedRefund:      {},
	JobStatusCancelled:           {},
}

func (s JobStatus) IsValid() bool {
	_, ok := jobTransitions[s]
	return ok
}

// IsTerminal возвращает true для закрытых заказов.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusResolvedRelease, JobStatusResolvedRefund, JobStatusCancelled:
		return true
	}
	return false
}

// IsPreFunding возвращает true, пока средства по заказу ещё не поступали в эскроу.
func (s JobStatus) IsPreFunding() bool {
	switch s {
	case JobStatusOpen, JobStatusPendingApproval, JobStatusListed, JobStatusHiredPendingFunding:
		return true
	}
	return false
}

// IsHireable: заказ принимает отклики и может быть отдан исполнителю.
func (s JobStatus) IsHireable() bool {
	return s == JobStatusOpen || s == JobStatusListed
}

// IsDisputable: спор можно открыть только во время работы или приёмки.
func (s JobStatus) IsDisputable() bool {
	return s == JobStatusInProgress || s == JobStatusUnderReview
}

func (s JobStatus) CanTransitionTo(newStatus JobStatus) bool {
	for _, status := range jobTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// CheckTransition возвращает типизированную ошибку движка для недопустимого перехода.
func (s JobStatus) CheckTransition(newStatus JobStatus) error {
	if s.IsTerminal() {
		return apperror.ErrTerminalState
	}
	if !s.CanTransitionTo(newStatus) {
		return apperror.New(apperror.ErrCodeInvalidState,
			"переход "+string(s)+" → "+string(newStatus)+" недоступен")
	}
	return nil
}

func NewJobStatus(status string) (JobStatus, error) {
	s := JobStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус заказа")
	}
	return s, nil
}

type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "PENDING"
	ApplicationStatusAccepted ApplicationStatus = "ACCEPTED"
	ApplicationStatusRejected ApplicationStatus = "REJECTED"
)

func (s ApplicationStatus) IsValid() bool {
	switch s {
	case ApplicationStatusPending, ApplicationStatusAccepted, ApplicationStatusRejected:
		return true
	}
	return false
}

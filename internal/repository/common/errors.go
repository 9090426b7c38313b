package common

import (
	"errors"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
)

// Имена ограничений схемы, по которым нарушение уникальности переводится в доменную ошибку.
const (
	ConstraintOneActiveTransaction = "payment_transactions_one_active_per_job"
	ConstraintOneOpenDispute       = "disputes_one_open_per_job"
	ConstraintOneAcceptedApp       = "applications_one_accepted_per_job"
	ConstraintApplicationPerPro    = "applications_job_professional_key"
	ConstraintProviderRef          = "payment_transactions_provider_ref_key"
	ConstraintBalanceNonNegative   = "escrow_balances_held_check"
)

// UniqueViolation возвращает имя нарушенного ограничения, если err является нарушением уникальности.
func UniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

// CheckViolation возвращает имя нарушенного CHECK-ограничения.
func CheckViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqCheckViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

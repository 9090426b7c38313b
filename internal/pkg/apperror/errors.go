package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden           ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest          ErrorCode = "BAD_REQUEST"
	ErrCodeConflict            ErrorCode = "CONFLICT"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation          ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError       ErrorCode = "DATABASE_ERROR"
	ErrCodeInvalidState        ErrorCode = "INVALID_STATE"
	ErrCodeTerminalState       ErrorCode = "TERMINAL_STATE"
	ErrCodeAlreadyHeld         ErrorCode = "ESCROW_ALREADY_HELD"
	ErrCodeNoFundsHeld         ErrorCode = "ESCROW_NO_FUNDS_HELD"
	ErrCodeDisputeExists       ErrorCode = "DISPUTE_EXISTS"
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeSettlementTimedOut  ErrorCode = "SETTLEMENT_TIMED_OUT"
	ErrCodeStaleVersion        ErrorCode = "STALE_VERSION"
	ErrCodeLedgerDrift         ErrorCode = "LEDGER_DRIFT"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is(err, ErrInvalidState)
// срабатывал и для ошибок с уточнённым сообщением.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Retryable сообщает, можно ли безопасно повторить операцию, перечитав состояние.
func (e *AppError) Retryable() bool {
	return e.Code == ErrCodeStaleVersion
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeInvalidState, ErrCodeTerminalState, ErrCodeAlreadyHeld,
		ErrCodeNoFundsHeld, ErrCodeDisputeExists, ErrCodeStaleVersion:
		return http.StatusConflict
	case ErrCodeProviderUnavailable:
		return http.StatusBadGateway
	case ErrCodeSettlementTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// As извлекает AppError из цепочки ошибок.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotFound
}

func IsForbidden(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeForbidden
}

func IsValidation(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeValidation
}

func IsStaleVersion(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeStaleVersion
}

var (
	ErrJobNotFound         = New(ErrCodeNotFound, "заказ не найден")
	ErrApplicationNotFound = New(ErrCodeNotFound, "отклик не найден")
	ErrTransactionNotFound = New(ErrCodeNotFound, "платёжная транзакция не найдена")
	ErrDisputeNotFound     = New(ErrCodeNotFound, "спор не найден")
	ErrApplicationExists   = New(ErrCodeConflict, "вы уже откликнулись на этот заказ")
	ErrUnauthorized        = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden           = New(ErrCodeForbidden, "недостаточно прав")

	// Ошибки движка жизненного цикла и эскроу.
	ErrInvalidState        = New(ErrCodeInvalidState, "действие недоступно в текущем статусе заказа")
	ErrTerminalState       = New(ErrCodeTerminalState, "заказ закрыт, дальнейшие изменения невозможны")
	ErrAlreadyHeld         = New(ErrCodeAlreadyHeld, "средства по заказу уже зарезервированы")
	ErrNoFundsHeld         = New(ErrCodeNoFundsHeld, "по заказу нет зарезервированных средств")
	ErrDisputeExists       = New(ErrCodeDisputeExists, "по заказу уже открыт спор, требуется решение администратора")
	ErrProviderUnavailable = New(ErrCodeProviderUnavailable, "платёжный провайдер недоступен, попробуйте позже")
	ErrSettlementTimedOut  = New(ErrCodeSettlementTimedOut, "платёжный провайдер не подтвердил операцию вовремя, повторите оплату")
	ErrStaleVersion        = New(ErrCodeStaleVersion, "заказ был изменён параллельно, обновите данные и повторите")
	ErrLedgerDrift         = New(ErrCodeLedgerDrift, "журнал эскроу расходится с балансом")
)

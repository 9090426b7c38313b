package dto

import (
	"time"

	"github.com/ignatzorin/escrow-engine/internal/models"
)

// ErrorResponse is the single error shape of the API
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse wraps a collection
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// NewListResponse never returns a null items array
func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Total: len(items)}
}

// TransactionResponse carries a transaction and, for TIMED_OUT ones, the notice to re-initiate
type TransactionResponse struct {
	Transaction *models.PaymentTransaction `json:"transaction"`
	Notice      *ErrorResponse             `json:"notice,omitempty"`
}

// CompletionResponse is returned when the client approves the work
type CompletionResponse struct {
	Job    *models.Job                `json:"job"`
	Payout *models.PaymentTransaction `json:"payout"`
}

// ResolutionResponse is returned after arbitration
type ResolutionResponse struct {
	Transaction *models.PaymentTransaction `json:"transaction"`
}

// LedgerAuditResponse lists jobs whose ledger sum differs from the held balance
type LedgerAuditResponse struct {
	CheckedAt time.Time            `json:"checked_at"`
	Drifts    []models.LedgerDrift `json:"drifts"`
	Clean     bool                 `json:"clean"`
}

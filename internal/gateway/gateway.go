// Package gateway описывает границу с платёжным провайдером мобильных денег.
package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// ProviderStatus: статус операции на стороне провайдера.
type ProviderStatus string

const (
	StatusPending ProviderStatus = "PENDING"
	StatusSuccess ProviderStatus = "SUCCESS"
	StatusFailed  ProviderStatus = "FAILED"
)

func (s ProviderStatus) IsFinal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ChargeRequest: списание с кошелька клиента. Reference используется провайдером как ключ идемпотентности.
type ChargeRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	PayerHandle string
}

// DisburseRequest: выплата на кошелёк получателя.
type DisburseRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	PayeeHandle string
}

type Receipt struct {
	ProviderRef string
	AcceptedAt  time.Time
}

// Lookup: операция провайдера, найденная по нашему ключу идемпотентности.
type Lookup struct {
	ProviderRef string
	Status      ProviderStatus
}

// ErrReferenceUnknown: провайдер не получал операцию с таким ключом.
var ErrReferenceUnknown = apperror.New(apperror.ErrCodeNotFound, "провайдер не знает операцию с таким ключом")

// Gateway: операции провайдера, которые нужны движку.
type Gateway interface {
	InitiateCharge(ctx context.Context, req ChargeRequest) (Receipt, error)
	CheckStatus(ctx context.Context, providerRef string) (ProviderStatus, error)
	Disburse(ctx context.Context, req DisburseRequest) (Receipt, error)
	// FindByReference ищет операцию по Reference из запроса. Если провайдер её не получал,
	// возвращается ErrReferenceUnknown.
	FindByReference(ctx context.Context, reference string) (Lookup, error)
}

// Callback: асинхронное уведомление провайдера об исходе операции.
// Reference повторяет ключ идемпотентности из запроса и позволяет найти операцию,
// ссылку провайдера которой движок не успел сохранить.
type Callback struct {
	ProviderRef string         `json:"provider_ref"`
	Reference   string         `json:"reference,omitempty"`
	Status      ProviderStatus `json:"status"`
	SettledAt   time.Time      `json:"settled_at"`
}

// ParseCallback разбирает и проверяет тело уведомления.
func ParseCallback(body []byte) (Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return Callback{}, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректное тело уведомления провайдера")
	}
	cb.ProviderRef = strings.TrimSpace(cb.ProviderRef)
	cb.Reference = strings.TrimSpace(cb.Reference)
	if cb.ProviderRef == "" {
		return Callback{}, apperror.New(apperror.ErrCodeValidation, "в уведомлении нет provider_ref")
	}
	if !cb.Status.IsFinal() {
		return Callback{}, apperror.New(apperror.ErrCodeValidation, "уведомление должно содержать SUCCESS или FAILED")
	}
	if cb.SettledAt.IsZero() {
		cb.SettledAt = time.Now().UTC()
	}
	return cb, nil
}

func unavailable(err error, op string) error {
	return apperror.Wrap(err, apperror.ErrCodeProviderUnavailable, "платёжный провайдер недоступен: "+op)
}

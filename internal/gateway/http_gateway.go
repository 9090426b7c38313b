package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPGateway: клиент JSON API агрегатора мобильных платежей.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway создаёт клиента агрегатора. timeout ограничивает каждый запрос.
func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type operationRequest struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Handle    string `json:"handle"`
}

type operationResponse struct {
	ProviderRef string    `json:"provider_ref"`
	Status      string    `json:"status"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

func (g *HTTPGateway) InitiateCharge(ctx context.Context, req ChargeRequest) (Receipt, error) {
	return g.submit(ctx, "charges", operationRequest{
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Handle:    req.PayerHandle,
	})
}

func (g *HTTPGateway) Disburse(ctx context.Context, req DisburseRequest) (Receipt, error) {
	return g.submit(ctx, "disbursements", operationRequest{
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Handle:    req.PayeeHandle,
	})
}

func (g *HTTPGateway) CheckStatus(ctx context.Context, providerRef string) (ProviderStatus, error) {
	var resp operationResponse
	if err := g.do(ctx, http.MethodGet, "transactions/"+url.PathEscape(providerRef), nil, "", &resp); err != nil {
		return "", unavailable(err, "проверка статуса")
	}
	switch status := ProviderStatus(strings.ToUpper(resp.Status)); status {
	case StatusPending, StatusSuccess, StatusFailed:
		return status, nil
	default:
		return "", unavailable(fmt.Errorf("неизвестный статус %q", resp.Status), "проверка статуса")
	}
}

func (g *HTTPGateway) FindByReference(ctx context.Context, reference string) (Lookup, error) {
	var resp operationResponse
	err := g.do(ctx, http.MethodGet, "transactions?reference="+url.QueryEscape(reference), nil, "", &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return Lookup{}, ErrReferenceUnknown
		}
		return Lookup{}, unavailable(err, "поиск по ключу")
	}
	if resp.ProviderRef == "" {
		return Lookup{}, unavailable(fmt.Errorf("в ответе нет provider_ref"), "поиск по ключу")
	}
	switch status := ProviderStatus(strings.ToUpper(resp.Status)); status {
	case StatusPending, StatusSuccess, StatusFailed:
		return Lookup{ProviderRef: resp.ProviderRef, Status: status}, nil
	default:
		return Lookup{}, unavailable(fmt.Errorf("неизвестный статус %q", resp.Status), "поиск по ключу")
	}
}

// statusError: провайдер ответил кодом 4xx/5xx.
type statusError struct {
	code int
	body map[string]any
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway: код ответа %d: %v", e.code, e.body)
}

func (g *HTTPGateway) submit(ctx context.Context, path string, payload operationRequest) (Receipt, error) {
	var resp operationResponse
	if err := g.do(ctx, http.MethodPost, path, payload, payload.Reference, &resp); err != nil {
		return Receipt{}, unavailable(err, path)
	}
	if resp.ProviderRef == "" {
		return Receipt{}, unavailable(fmt.Errorf("в ответе нет provider_ref"), path)
	}
	if resp.AcceptedAt.IsZero() {
		resp.AcceptedAt = time.Now().UTC()
	}
	return Receipt{ProviderRef: resp.ProviderRef, AcceptedAt: resp.AcceptedAt}, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, payload any, idempotencyKey string, out any) error {
	if g.baseURL == "" {
		return fmt.Errorf("gateway: baseURL не задан")
	}

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+"/"+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errorBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errorBody)
		return &statusError{code: resp.StatusCode, body: errorBody}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

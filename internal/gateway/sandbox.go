package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// FailHandlePrefix: кошельки с этим префиксом в песочнице всегда получают отказ.
const FailHandlePrefix = "fail-"

// SandboxOperation: операция, принятая песочницей.
type SandboxOperation struct {
	Kind        string
	Reference   string
	ProviderRef string
	Amount      int64
	Currency    string
	Handle      string
	Status      ProviderStatus
	AcceptedAt  time.Time
}

// SandboxGateway: провайдер в памяти для режима разработки и тестов.
// Операции остаются PENDING, пока их не завершит Settle или не истечёт autoSettle.
type SandboxGateway struct {
	mu          sync.Mutex
	seq         int
	autoSettle  time.Duration
	unavailable bool
	ops         map[string]*SandboxOperation
	byReference map[string]string
	now         func() time.Time
}

var _ Gateway = (*SandboxGateway)(nil)

// NewSandboxGateway создаёт песочницу. autoSettle = 0 отключает автоматическое подтверждение.
func NewSandboxGateway(autoSettle time.Duration) *SandboxGateway {
	return &SandboxGateway{
		autoSettle:  autoSettle,
		ops:         make(map[string]*SandboxOperation),
		byReference: make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetUnavailable имитирует недоступность провайдера.
func (g *SandboxGateway) SetUnavailable(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unavailable = v
}

// Settle задаёт исход операции, как если бы провайдер её завершил.
func (g *SandboxGateway) Settle(providerRef string, status ProviderStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	op, ok := g.ops[providerRef]
	if !ok {
		return fmt.Errorf("sandbox: операция %s не найдена", providerRef)
	}
	op.Status = status
	return nil
}

// Operation возвращает копию операции по ключу идемпотентности.
func (g *SandboxGateway) Operation(reference string) (SandboxOperation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.byReference[reference]
	if !ok {
		return SandboxOperation{}, false
	}
	return *g.ops[ref], true
}

// Count возвращает число принятых операций заданного вида.
func (g *SandboxGateway) Count(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, op := range g.ops {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

func (g *SandboxGateway) InitiateCharge(_ context.Context, req ChargeRequest) (Receipt, error) {
	return g.accept("charge", req.Reference, req.Amount, req.Currency, req.PayerHandle)
}

func (g *SandboxGateway) Disburse(_ context.Context, req DisburseRequest) (Receipt, error) {
	return g.accept("disbursement", req.Reference, req.Amount, req.Currency, req.PayeeHandle)
}

func (g *SandboxGateway) CheckStatus(_ context.Context, providerRef string) (ProviderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unavailable {
		return "", apperror.ErrProviderUnavailable
	}
	op, ok := g.ops[providerRef]
	if !ok {
		return "", unavailable(fmt.Errorf("операция %s не найдена", providerRef), "проверка статуса")
	}
	return g.status(op), nil
}

func (g *SandboxGateway) FindByReference(_ context.Context, reference string) (Lookup, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unavailable {
		return Lookup{}, apperror.ErrProviderUnavailable
	}
	ref, ok := g.byReference[reference]
	if !ok {
		return Lookup{}, ErrReferenceUnknown
	}
	op := g.ops[ref]
	return Lookup{ProviderRef: op.ProviderRef, Status: g.status(op)}, nil
}

// status вызывается под g.mu.
func (g *SandboxGateway) status(op *SandboxOperation) ProviderStatus {
	if op.Status == StatusPending && g.autoSettle > 0 && g.now().Sub(op.AcceptedAt) >= g.autoSettle {
		op.Status = StatusSuccess
	}
	return op.Status
}

func (g *SandboxGateway) accept(kind, reference string, amount int64, currency, handle string) (Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unavailable {
		return Receipt{}, apperror.ErrProviderUnavailable
	}
	if ref, ok := g.byReference[reference]; ok {
		op := g.ops[ref]
		return Receipt{ProviderRef: op.ProviderRef, AcceptedAt: op.AcceptedAt}, nil
	}

	g.seq++
	op := &SandboxOperation{
		Kind:        kind,
		Reference:   reference,
		ProviderRef: fmt.Sprintf("SBX-%06d", g.seq),
		Amount:      amount,
		Currency:    currency,
		Handle:      handle,
		Status:      StatusPending,
		AcceptedAt:  g.now(),
	}
	if strings.HasPrefix(handle, FailHandlePrefix) {
		op.Status = StatusFailed
	}
	g.ops[op.ProviderRef] = op
	g.byReference[reference] = op.ProviderRef
	return Receipt{ProviderRef: op.ProviderRef, AcceptedAt: op.AcceptedAt}, nil
}

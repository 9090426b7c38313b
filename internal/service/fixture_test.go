package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/repository/memory"
)

const (
	testBudget      int64 = 10000
	testCurrency          = "SSP"
	testPayerHandle       = "+211912345678"
	testPayeeHandle       = "+211998877665"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (d *recordingDispatcher) Dispatch(_ context.Context, txID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, txID)
	return nil
}

func (d *recordingDispatcher) dispatched() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uuid.UUID(nil), d.ids...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []valueobject.JobStatus
}

func (n *recordingNotifier) JobChanged(job *models.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, job.Status)
}

// mockGateway: провайдер для путей с ошибками.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) InitiateCharge(ctx context.Context, req gateway.ChargeRequest) (gateway.Receipt, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(gateway.Receipt), args.Error(1)
}

func (m *mockGateway) CheckStatus(ctx context.Context, providerRef string) (gateway.ProviderStatus, error) {
	args := m.Called(ctx, providerRef)
	return args.Get(0).(gateway.ProviderStatus), args.Error(1)
}

func (m *mockGateway) FindByReference(ctx context.Context, reference string) (gateway.Lookup, error) {
	args := m.Called(ctx, reference)
	return args.Get(0).(gateway.Lookup), args.Error(1)
}

func (m *mockGateway) Disburse(ctx context.Context, req gateway.DisburseRequest) (gateway.Receipt, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(gateway.Receipt), args.Error(1)
}

type fixture struct {
	ctx        context.Context
	store      *memory.Store
	sandbox    *gateway.SandboxGateway
	ledger     *EscrowLedger
	jobs       *JobService
	disputes   *DisputeService
	dispatcher *recordingDispatcher
	notifier   *recordingNotifier

	client valueobject.Actor
	pro    valueobject.Actor
	pro2   valueobject.Actor
	staff  valueobject.Actor
	admin  valueobject.Actor
}

func newFixture(t *testing.T, moderation bool) *fixture {
	return newFixtureWithGateway(t, moderation, nil)
}

func newFixtureWithGateway(t *testing.T, moderation bool, gw gateway.Gateway) *fixture {
	t.Helper()
	f := &fixture{
		ctx:        context.Background(),
		store:      memory.NewStore(),
		sandbox:    gateway.NewSandboxGateway(0),
		dispatcher: &recordingDispatcher{},
		notifier:   &recordingNotifier{},
		client:     valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleClient},
		pro:        valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleProfessional},
		pro2:       valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleProfessional},
		staff:      valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleStaff},
		admin:      valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin},
	}
	if gw == nil {
		gw = f.sandbox
	}
	f.ledger = NewEscrowLedger(f.store)
	f.jobs = NewJobService(f.store, f.ledger, gw, moderation)
	f.jobs.SetDispatcher(f.dispatcher)
	f.jobs.SetNotifier(f.notifier)
	f.disputes = NewDisputeService(f.store, f.ledger, f.jobs)
	return f
}

// listedJob создаёт опубликованный заказ, при необходимости проводя модерацию.
func (f *fixture) listedJob(t *testing.T) *models.Job {
	t.Helper()
	job, err := f.jobs.CreateJob(f.ctx, f.client, CreateJobInput{
		Title:       "Логотип для кафе",
		Description: "Нужен логотип и вывеска для кафе в Джубе",
		Budget:      testBudget,
		Currency:    testCurrency,
	})
	require.NoError(t, err)
	if job.Status == valueobject.JobStatusPendingApproval {
		job, err = f.jobs.ApproveJob(f.ctx, f.staff, job.ID)
		require.NoError(t, err)
	}
	require.Equal(t, valueobject.JobStatusListed, job.Status)
	return job
}

func (f *fixture) apply(t *testing.T, pro valueobject.Actor, jobID uuid.UUID) *models.Application {
	t.Helper()
	app, err := f.jobs.SubmitApplication(f.ctx, pro, jobID, ApplicationInput{
		BidAmount:    9000,
		Proposal:     "Сделаю за три дня, есть портфолио",
		PayoutHandle: testPayeeHandle,
	})
	require.NoError(t, err)
	return app
}

func (f *fixture) hiredJob(t *testing.T) *models.Job {
	t.Helper()
	job := f.listedJob(t)
	app := f.apply(t, f.pro, job.ID)
	job, err := f.jobs.AcceptApplication(f.ctx, f.client, job.ID, app.ID)
	require.NoError(t, err)
	require.Equal(t, valueobject.JobStatusHiredPendingFunding, job.Status)
	return job
}

// fundedJob доводит заказ до IN_PROGRESS через подтверждённый депозит.
func (f *fixture) fundedJob(t *testing.T) (*models.Job, *models.PaymentTransaction) {
	t.Helper()
	job := f.hiredJob(t)
	deposit, err := f.jobs.FundJob(f.ctx, f.client, job.ID, testPayerHandle)
	require.NoError(t, err)
	require.Equal(t, valueobject.TransactionStatusProviderPending, deposit.Status)
	require.NoError(t, f.jobs.ConfirmDeposit(f.ctx, deposit, deposit.CreatedAt))
	return f.reload(t, job.ID), deposit
}

func (f *fixture) reviewJob(t *testing.T) *models.Job {
	t.Helper()
	job, _ := f.fundedJob(t)
	job, err := f.jobs.SubmitDeliverable(f.ctx, f.pro, job.ID, "https://files.example/logo.zip")
	require.NoError(t, err)
	return job
}

func (f *fixture) reload(t *testing.T, jobID uuid.UUID) *models.Job {
	t.Helper()
	job, err := f.store.Repos().Jobs.GetByID(f.ctx, jobID)
	require.NoError(t, err)
	return job
}

func (f *fixture) held(t *testing.T, jobID uuid.UUID) int64 {
	t.Helper()
	bal, err := f.ledger.Balance(f.ctx, jobID)
	require.NoError(t, err)
	sum, err := f.store.Repos().Ledger.SumByJob(f.ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, sum, bal.Held, "сумма журнала должна совпадать с балансом")
	return bal.Held
}

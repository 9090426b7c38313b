package repository

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-engine/internal/db"
	domain "github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// testDB остаётся nil, если Docker недоступен или включён -short.
var testDB *sqlx.DB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	pool, err := dockertest.NewPool("")
	if err != nil || pool.Client.Ping() != nil {
		fmt.Println("postgres tests: docker недоступен, интеграционные тесты пропускаются")
		os.Exit(m.Run())
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=escrow",
			"POSTGRES_PASSWORD=escrow",
			"POSTGRES_DB=escrow",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		fmt.Printf("postgres tests: не удалось запустить контейнер: %v\n", err)
		os.Exit(1)
	}
	_ = resource.Expire(180)

	dsn := fmt.Sprintf("postgres://escrow:escrow@%s/escrow?sslmode=disable", resource.GetHostPort("5432/tcp"))
	pool.MaxWait = 90 * time.Second
	if err := pool.Retry(func() error {
		conn, err := db.NewPostgres(context.Background(), dsn, db.DefaultPoolOptions())
		if err != nil {
			return err
		}
		testDB = conn
		return nil
	}); err != nil {
		fmt.Printf("postgres tests: база не поднялась: %v\n", err)
		_ = pool.Purge(resource)
		os.Exit(1)
	}

	if _, err := db.RunMigrations(context.Background(), testDB, "../../migrations"); err != nil {
		fmt.Printf("postgres tests: миграции: %v\n", err)
		_ = pool.Purge(resource)
		os.Exit(1)
	}

	code := m.Run()
	_ = testDB.Close()
	_ = pool.Purge(resource)
	os.Exit(code)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres недоступен")
	}
	return NewStore(testDB)
}

func seedJob(t *testing.T, s *Store) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:       uuid.New(),
		ClientID: uuid.New(),
		Title:    "Перевод договора",
		Budget:   10000,
		Currency: "SSP",
		Status:   valueobject.JobStatusListed,
	}
	require.NoError(t, s.Repos().Jobs.Create(context.Background(), job))
	return job
}

func seedDeposit(t *testing.T, s *Store, jobID uuid.UUID) *models.PaymentTransaction {
	t.Helper()
	tx := &models.PaymentTransaction{
		ID:                 uuid.New(),
		JobID:              jobID,
		Direction:          valueobject.DirectionDeposit,
		Amount:             10000,
		Currency:           "SSP",
		CounterpartyHandle: "+211912345678",
		Status:             valueobject.TransactionStatusInitiated,
	}
	require.NoError(t, s.Repos().Transactions.Create(context.Background(), tx))
	return tx
}

func TestPostgres_JobCompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := seedJob(t, s)

	next := *job
	next.Status = valueobject.JobStatusHiredPendingFunding
	require.NoError(t, s.Repos().Jobs.CompareAndSwap(ctx, &next, valueobject.JobStatusListed, 0))
	assert.Equal(t, int64(1), next.Version)

	stale := *job
	stale.Status = valueobject.JobStatusCancelled
	err := s.Repos().Jobs.CompareAndSwap(ctx, &stale, valueobject.JobStatusListed, 0)
	assert.True(t, apperror.IsStaleVersion(err))

	got, err := s.Repos().Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusHiredPendingFunding, got.Status)

	_, err = s.Repos().Jobs.GetByID(ctx, uuid.New())
	assert.True(t, apperror.IsNotFound(err))
}

func TestPostgres_TransactionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := seedJob(t, s)
	dep := seedDeposit(t, s, job.ID)

	err := s.WithTransaction(ctx, func(ctx context.Context, r domain.Repositories) error {
		if err := r.Ledger.Append(ctx, &models.LedgerEntry{
			ID: uuid.New(), JobID: job.ID, EntryType: valueobject.LedgerEntryHold,
			Amount: 10000, Currency: "SSP", TransactionID: dep.ID,
		}); err != nil {
			return err
		}
		return apperror.ErrInvalidState
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	sum, err := s.Repos().Ledger.SumByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestPostgres_OneActiveTransactionPerJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := seedJob(t, s)
	dep := seedDeposit(t, s, job.ID)

	second := *dep
	second.ID = uuid.New()
	err := s.Repos().Transactions.Create(ctx, &second)
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	ref := "SBX-" + uuid.NewString()
	now := time.Now().UTC()
	require.NoError(t, s.Repos().Transactions.MarkPending(ctx, dep.ID, ref, now))
	assert.True(t, apperror.IsStaleVersion(s.Repos().Transactions.MarkPending(ctx, dep.ID, ref, now)))

	byRef, err := s.Repos().Transactions.GetByProviderRef(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, dep.ID, byRef.ID)

	require.NoError(t, s.Repos().Transactions.Settle(ctx, dep.ID,
		valueobject.TransactionStatusProviderPending, valueobject.TransactionStatusConfirmed, nil, now))
	err = s.Repos().Transactions.Settle(ctx, dep.ID,
		valueobject.TransactionStatusProviderPending, valueobject.TransactionStatusFailed, nil, now)
	assert.True(t, apperror.IsStaleVersion(err))

	// После расчёта по заказу снова можно открыть операцию.
	third := *dep
	third.ID = uuid.New()
	third.Direction = valueobject.DirectionPayout
	assert.NoError(t, s.Repos().Transactions.Create(ctx, &third))
}

func TestPostgres_ClaimLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := seedJob(t, s)
	dep := seedDeposit(t, s, job.ID)
	repo := s.Repos().Transactions
	now := time.Now().UTC()

	ok, err := repo.Claim(ctx, dep.ID, now, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(ctx, dep.ID, now.Add(time.Second), now.Add(31*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Claim(ctx, dep.ID, now.Add(time.Minute), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "истёкшая аренда перехватывается")

	require.NoError(t, repo.Release(ctx, dep.ID))
	ok, err = repo.Claim(ctx, dep.ID, now, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgres_BalanceVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := seedJob(t, s)
	ledger := s.Repos().Ledger

	bal, err := ledger.GetBalance(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, bal.Version)

	bal.Held, bal.Currency = 10000, "SSP"
	require.NoError(t, ledger.SaveBalance(ctx, bal, 0))
	assert.Equal(t, int64(1), bal.Version)

	again := &models.EscrowBalance{JobID: job.ID, Held: 10000, Currency: "SSP"}
	assert.True(t, apperror.IsStaleVersion(ledger.SaveBalance(ctx, again, 0)))

	bal.Held = -1
	err = ledger.SaveBalance(ctx, bal, 1)
	assert.ErrorIs(t, err, apperror.ErrNoFundsHeld)

	bal.Held = 0
	require.NoError(t, ledger.SaveBalance(ctx, bal, 1))
	assert.Equal(t, int64(2), bal.Version)
}

func TestPostgres_LedgerSums(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := seedJob(t, s)
	dep := seedDeposit(t, s, job.ID)

	for _, e := range []struct {
		kind   valueobject.LedgerEntryType
		amount int64
	}{
		{valueobject.LedgerEntryHold, 10000},
		{valueobject.LedgerEntryPayout, -10000},
	} {
		require.NoError(t, s.Repos().Ledger.Append(ctx, &models.LedgerEntry{
			ID: uuid.New(), JobID: job.ID, EntryType: e.kind,
			Amount: e.amount, Currency: "SSP", TransactionID: dep.ID,
		}))
	}

	sum, err := s.Repos().Ledger.SumByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, sum)

	entries, err := s.Repos().Ledger.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	sums, err := s.Repos().Ledger.SumAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, sums, job.ID)
	assert.Zero(t, sums[job.ID])
}

func TestPostgres_SingleOpenDispute(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := seedJob(t, s)
	repo := s.Repos().Disputes

	d := &models.Dispute{ID: uuid.New(), JobID: job.ID, RaisedBy: job.ClientID, Reason: "сроки сорваны", Status: valueobject.DisputeStatusOpen}
	require.NoError(t, repo.Create(ctx, d))

	dup := *d
	dup.ID = uuid.New()
	assert.ErrorIs(t, repo.Create(ctx, &dup), apperror.ErrDisputeExists)

	admin := uuid.New()
	note := "работа не сдана"
	now := time.Now().UTC()
	d.Status = valueobject.DisputeStatusResolvedRefund
	d.ResolvedBy, d.ResolutionNote, d.ResolvedAt = &admin, &note, &now
	require.NoError(t, repo.Resolve(ctx, d))
	assert.True(t, apperror.IsStaleVersion(repo.Resolve(ctx, d)))

	_, err := repo.GetOpenByJob(ctx, job.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestPostgres_ApplicationsAndEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := seedJob(t, s)

	app := &models.Application{
		ID: uuid.New(), JobID: job.ID, ProfessionalID: uuid.New(), BidAmount: 10000,
		Proposal: "сделаю за неделю", PayoutHandle: "+211998877665", Status: valueobject.ApplicationStatusPending,
	}
	require.NoError(t, s.Repos().Applications.Create(ctx, app))

	dup := *app
	dup.ID = uuid.New()
	assert.ErrorIs(t, s.Repos().Applications.Create(ctx, &dup), apperror.ErrApplicationExists)

	require.NoError(t, s.Repos().Applications.UpdateStatus(ctx, app.ID,
		valueobject.ApplicationStatusPending, valueobject.ApplicationStatusAccepted))
	accepted, err := s.Repos().Applications.GetAcceptedByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, app.ID, accepted.ID)

	to := valueobject.JobStatusListed
	require.NoError(t, s.Repos().Events.Add(ctx, &models.JobEvent{
		ID: uuid.New(), JobID: job.ID, Action: "created", ToStatus: &to, Payload: []byte(`{"budget":10000}`),
	}))
	events, err := s.Repos().Events.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"budget":10000}`, string(events[0].Payload))
}

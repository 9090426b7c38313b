package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-engine/internal/config"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/dto"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/http/handlers"
	"github.com/ignatzorin/escrow-engine/internal/http/router"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/repository/memory"
	"github.com/ignatzorin/escrow-engine/internal/service"
	"github.com/ignatzorin/escrow-engine/internal/worker"
	"github.com/ignatzorin/escrow-engine/internal/ws"
)

const callbackSecret = "router-test-callback-secret"

type testAPI struct {
	t       *testing.T
	engine  *gin.Engine
	sandbox *gateway.SandboxGateway
	jobs    *service.JobService
	tokens  *service.TokenManager
	hub     *ws.Hub

	client valueobject.Actor
	pro    valueobject.Actor
	staff  valueobject.Actor
	admin  valueobject.Actor
}

func newTestAPI(t *testing.T, mutate func(cfg *config.Config)) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Env:                     "test",
		AllowedOrigins:          []string{"http://localhost:3000"},
		RateLimitLimit:          1000,
		RateLimitPeriod:         time.Minute,
		CallbackRateLimitLimit:  1000,
		CallbackRateLimitPeriod: time.Minute,
	}
	if mutate != nil {
		mutate(cfg)
	}

	store := memory.NewStore()
	sandbox := gateway.NewSandboxGateway(0)
	ledger := service.NewEscrowLedger(store)
	jobs := service.NewJobService(store, ledger, sandbox, false)
	disputes := service.NewDisputeService(store, ledger, jobs)
	rec := worker.NewReconciler(store, sandbox, jobs, worker.Config{CallbackSecret: []byte(callbackSecret)})
	jobs.SetDispatcher(rec)

	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	jobs.SetNotifier(ws.NewJobNotifier(hub))

	tokens := service.NewTokenManager("router-test-jwt-secret-at-least-32-chars", time.Hour)
	engine := router.SetupRouter(cfg, router.Handlers{
		Jobs:     handlers.NewJobHandler(jobs),
		Payments: handlers.NewPaymentHandler(jobs, rec),
		Disputes: handlers.NewDisputeHandler(disputes),
		Admin:    handlers.NewAdminHandler(jobs, ledger),
		Health:   handlers.NewHealthHandler(nil, config.StorageDriverMemory),
		WS:       handlers.NewWSHandler(hub, tokens, cfg.AllowedOrigins),
	}, tokens)

	return &testAPI{
		t:       t,
		engine:  engine,
		sandbox: sandbox,
		jobs:    jobs,
		tokens:  tokens,
		hub:     hub,
		client:  valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleClient},
		pro:     valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleProfessional},
		staff:   valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleStaff},
		admin:   valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin},
	}
}

func (a *testAPI) token(actor valueobject.Actor) string {
	a.t.Helper()
	token, _, err := a.tokens.GenerateAccess(actor.ID, actor.Role)
	require.NoError(a.t, err)
	return token
}

func (a *testAPI) do(method, path string, actor *valueobject.Actor, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+a.token(*actor))
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *testAPI) callback(providerRef string, status gateway.ProviderStatus, secret string) *httptest.ResponseRecorder {
	a.t.Helper()
	body, err := json.Marshal(gateway.Callback{ProviderRef: providerRef, Status: status, SettledAt: time.Now().UTC()})
	require.NoError(a.t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/callback", bytes.NewReader(body))
	req.Header.Set(gateway.SignatureHeader, gateway.Sign([]byte(secret), body))
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) dto.ErrorResponse {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	body := decode[dto.ErrorResponse](t, w)
	assert.Equal(t, code, body.Code)
	assert.NotEmpty(t, body.Error)
	return body
}

// hiredJob проводит заказ через HTTP до HIRED_PENDING_FUNDING.
func (a *testAPI) hiredJob() *models.Job {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/jobs", &a.client, dto.CreateJobRequest{
		Title:       "Ремонт витрины",
		Description: "Починить витрину и перекрасить вывеску",
		Budget:      10000,
		Currency:    "SSP",
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	job := decode[models.Job](a.t, w)
	require.Equal(a.t, valueobject.JobStatusListed, job.Status)

	w = a.do(http.MethodPost, "/api/jobs/"+job.ID.String()+"/applications", &a.pro, dto.SubmitApplicationRequest{
		BidAmount:    10000,
		Proposal:     "Сделаю за выходные, материалы мои",
		PayoutHandle: "+211998877665",
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	app := decode[models.Application](a.t, w)

	w = a.do(http.MethodPost, "/api/jobs/"+job.ID.String()+"/applications/"+app.ID.String()+"/accept", &a.client, nil)
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	return &job
}

func (a *testAPI) fundedJob() (*models.Job, *models.PaymentTransaction) {
	a.t.Helper()
	job := a.hiredJob()
	w := a.do(http.MethodPost, "/api/jobs/"+job.ID.String()+"/fund", &a.client, dto.FundJobRequest{PayerHandle: "+211912345678"})
	require.Equal(a.t, http.StatusAccepted, w.Code, w.Body.String())
	deposit := decode[models.PaymentTransaction](a.t, w)
	require.NotNil(a.t, deposit.ProviderRef)

	w = a.callback(*deposit.ProviderRef, gateway.StatusSuccess, callbackSecret)
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	return job, &deposit
}

func TestRouter_Health(t *testing.T) {
	api := newTestAPI(t, nil)
	for _, path := range []string{"/health", "/api/health"} {
		w := api.do(http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode[handlers.HealthResponse](t, w)
		assert.Equal(t, "healthy", body.Status)
		assert.Equal(t, config.StorageDriverMemory, body.Checks["storage"])
	}
}

func TestRouter_RequiresToken(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(http.MethodGet, "/api/jobs/"+uuid.NewString(), nil, nil)
	assertError(t, w, http.StatusUnauthorized, "UNAUTHORIZED")

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	api.engine.ServeHTTP(rec, req)
	assertError(t, rec, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestRouter_RejectsInvalidUUID(t *testing.T) {
	api := newTestAPI(t, nil)
	w := api.do(http.MethodGet, "/api/jobs/not-a-uuid", &api.client, nil)
	assertError(t, w, http.StatusBadRequest, "BAD_REQUEST")
}

func TestRouter_CapabilityChecks(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(http.MethodPost, "/api/jobs", &api.pro, dto.CreateJobRequest{Title: "Заказ", Description: "Описание заказа", Budget: 1, Currency: "SSP"})
	assertError(t, w, http.StatusForbidden, "FORBIDDEN")

	w = api.do(http.MethodGet, "/api/admin/ledger/audit", &api.staff, nil)
	assertError(t, w, http.StatusForbidden, "FORBIDDEN")

	w = api.do(http.MethodPost, "/api/admin/disputes/"+uuid.NewString()+"/resolve", &api.client, dto.ResolveDisputeRequest{Outcome: "RELEASE", Justification: "Нет оснований"})
	assertError(t, w, http.StatusForbidden, "FORBIDDEN")
}

func TestRouter_ValidationErrors(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(http.MethodPost, "/api/jobs", &api.client, map[string]any{"title": "Заказ", "budget": -1})
	assertError(t, w, http.StatusBadRequest, "VALIDATION_ERROR")

	w = api.do(http.MethodPost, "/api/jobs", &api.client, dto.CreateJobRequest{Title: "Заказ", Description: "Описание заказа", Budget: 1, Currency: "s"})
	assertError(t, w, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestRouter_FullLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)
	job, _ := api.fundedJob()
	base := "/api/jobs/" + job.ID.String()

	w := api.do(http.MethodGet, base, &api.pro, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, valueobject.JobStatusInProgress, decode[models.Job](t, w).Status)

	w = api.do(http.MethodGet, base+"/escrow", &api.client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[service.EscrowView](t, w)
	assert.Equal(t, int64(10000), view.Balance.Held)
	assert.Len(t, view.Entries, 1)

	w = api.do(http.MethodPost, base+"/fund", &api.client, dto.FundJobRequest{PayerHandle: "+211912345678"})
	body := assertError(t, w, http.StatusConflict, "INVALID_STATE")
	assert.False(t, body.Retryable)

	w = api.do(http.MethodPost, base+"/deliverable", &api.pro, dto.SubmitDeliverableRequest{DeliverableRef: "https://files.example/photo.jpg"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodPost, base+"/complete", &api.client, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	completion := decode[dto.CompletionResponse](t, w)
	assert.Equal(t, valueobject.JobStatusCompleted, completion.Job.Status)
	assert.Equal(t, int64(10000), completion.Payout.Amount)

	w = api.do(http.MethodGet, base+"/transactions", &api.client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	txs := decode[dto.ListResponse[models.PaymentTransaction]](t, w)
	assert.Equal(t, 2, txs.Total)

	w = api.do(http.MethodGet, base+"/events", &api.client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotZero(t, decode[dto.ListResponse[models.JobEvent]](t, w).Total)

	w = api.do(http.MethodPost, base+"/cancel", &api.client, nil)
	assertError(t, w, http.StatusConflict, "TERMINAL_STATE")

	w = api.do(http.MethodGet, "/api/admin/ledger/audit", &api.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	audit := decode[dto.LedgerAuditResponse](t, w)
	assert.True(t, audit.Clean)
	assert.Empty(t, audit.Drifts)
}

func TestRouter_CallbackSignature(t *testing.T) {
	api := newTestAPI(t, nil)
	job := api.hiredJob()
	w := api.do(http.MethodPost, "/api/jobs/"+job.ID.String()+"/fund", &api.client, dto.FundJobRequest{PayerHandle: "+211912345678"})
	require.Equal(t, http.StatusAccepted, w.Code)
	deposit := decode[models.PaymentTransaction](t, w)

	w = api.callback(*deposit.ProviderRef, gateway.StatusSuccess, "forged-secret")
	assertError(t, w, http.StatusUnauthorized, "UNAUTHORIZED")

	req := httptest.NewRequest(http.MethodPost, "/api/payments/callback", strings.NewReader(`{"provider_ref":"x","status":"SUCCESS"}`))
	rec := httptest.NewRecorder()
	api.engine.ServeHTTP(rec, req)
	assertError(t, rec, http.StatusUnauthorized, "UNAUTHORIZED")

	w = api.do(http.MethodGet, "/api/jobs/"+job.ID.String(), &api.client, nil)
	assert.Equal(t, valueobject.JobStatusHiredPendingFunding, decode[models.Job](t, w).Status)
}

func TestRouter_ProviderUnavailableIsRetryable(t *testing.T) {
	api := newTestAPI(t, nil)
	job := api.hiredJob()
	api.sandbox.SetUnavailable(true)

	w := api.do(http.MethodPost, "/api/jobs/"+job.ID.String()+"/fund", &api.client, dto.FundJobRequest{PayerHandle: "+211912345678"})
	body := assertError(t, w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE")
	assert.True(t, body.Retryable)
}

func TestRouter_TimedOutTransactionCarriesNotice(t *testing.T) {
	api := newTestAPI(t, nil)
	job := api.hiredJob()
	w := api.do(http.MethodPost, "/api/jobs/"+job.ID.String()+"/fund", &api.client, dto.FundJobRequest{PayerHandle: "+211912345678"})
	require.Equal(t, http.StatusAccepted, w.Code)
	deposit := decode[models.PaymentTransaction](t, w)

	require.NoError(t, api.jobs.FailDeposit(context.Background(), &deposit, valueobject.TransactionStatusTimedOut, "таймаут", time.Now().UTC()))

	w = api.do(http.MethodGet, "/api/transactions/"+deposit.ID.String(), &api.client, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[dto.TransactionResponse](t, w)
	assert.Equal(t, valueobject.TransactionStatusTimedOut, resp.Transaction.Status)
	require.NotNil(t, resp.Notice)
	assert.Equal(t, "SETTLEMENT_TIMED_OUT", resp.Notice.Code)
}

func TestRouter_DisputeFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	job, _ := api.fundedJob()
	base := "/api/jobs/" + job.ID.String()

	w := api.do(http.MethodPost, base+"/disputes", &api.client, dto.OpenDisputeRequest{Reason: "Работа не начата уже две недели"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	dispute := decode[models.Dispute](t, w)

	w = api.do(http.MethodPost, base+"/disputes", &api.pro, dto.OpenDisputeRequest{Reason: "Клиент не отвечает на сообщения"})
	assertError(t, w, http.StatusConflict, "DISPUTE_EXISTS")

	resolve := "/api/admin/disputes/" + dispute.ID.String() + "/resolve"
	w = api.do(http.MethodPost, resolve, &api.staff, map[string]string{"outcome": "SPLIT", "justification": "Поровну между сторонами"})
	assertError(t, w, http.StatusBadRequest, "VALIDATION_ERROR")

	w = api.do(http.MethodPost, resolve, &api.staff, dto.ResolveDisputeRequest{Outcome: "REFUND", Justification: "Исполнитель не приступил к работе"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resolution := decode[dto.ResolutionResponse](t, w)
	assert.Equal(t, valueobject.DirectionRefund, resolution.Transaction.Direction)

	w = api.do(http.MethodPost, resolve, &api.staff, dto.ResolveDisputeRequest{Outcome: "RELEASE", Justification: "Пересмотр решения по жалобе"})
	assertError(t, w, http.StatusConflict, "TERMINAL_STATE")

	w = api.do(http.MethodGet, "/api/admin/disputes/"+dispute.ID.String()+"/arbitration", &api.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[dto.ListResponse[models.ArbitrationRecord]](t, w).Total)

	w = api.do(http.MethodGet, base+"/disputes", &api.pro, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[dto.ListResponse[models.Dispute]](t, w).Total)
}

func TestRouter_RateLimit(t *testing.T) {
	api := newTestAPI(t, func(cfg *config.Config) {
		cfg.RateLimitLimit = 2
	})

	for i := 0; i < 2; i++ {
		w := api.do(http.MethodGet, "/api/jobs/"+uuid.NewString(), &api.client, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
	w := api.do(http.MethodGet, "/api/jobs/"+uuid.NewString(), &api.client, nil)
	body := assertError(t, w, http.StatusTooManyRequests, "RATE_LIMITED")
	assert.True(t, body.Retryable)

	// Лимит уведомлений провайдера отдельный.
	w = api.callback("SBX-000404", gateway.StatusSuccess, callbackSecret)
	assertError(t, w, http.StatusNotFound, "NOT_FOUND")
}

func TestRouter_WebSocketReceivesJobChanges(t *testing.T) {
	api := newTestAPI(t, nil)
	srv := httptest.NewServer(api.engine)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + api.token(api.client)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return api.hub.Connected(api.client.ID) > 0 }, 2*time.Second, 10*time.Millisecond)

	w := api.do(http.MethodPost, "/api/jobs", &api.client, dto.CreateJobRequest{
		Title:       "Перевод меню",
		Description: "Перевести меню кафе на арабский язык",
		Budget:      2500,
		Currency:    "SSP",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	job := decode[models.Job](t, w)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env struct {
		Type string            `json:"type"`
		Data ws.JobChangedData `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, ws.EventJobChanged, env.Type)
	assert.Equal(t, job.ID, env.Data.JobID)
	assert.Equal(t, string(valueobject.JobStatusListed), env.Data.Status)
}

func TestRouter_WebSocketRequiresToken(t *testing.T) {
	api := newTestAPI(t, nil)
	w := api.do(http.MethodGet, "/api/ws", nil, nil)
	assertError(t, w, http.StatusUnauthorized, "UNAUTHORIZED")
}

package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-engine/internal/config"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/http/handlers"
	"github.com/ignatzorin/escrow-engine/internal/http/middleware"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

// Handlers: все хэндлеры API.
type Handlers struct {
	Jobs     *handlers.JobHandler
	Payments *handlers.PaymentHandler
	Disputes *handlers.DisputeHandler
	Admin    *handlers.AdminHandler
	Health   *handlers.HealthHandler
	WS       *handlers.WSHandler
}

func SetupRouter(cfg *config.Config, h Handlers, tokenManager *service.TokenManager) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)

	api := r.Group("/api")
	api.GET("/health", h.Health.Health)
	if h.WS != nil {
		api.GET("/ws", h.WS.Handle)
	}

	// Уведомления провайдера идут без токена, подлинность проверяет подпись.
	api.POST("/payments/callback",
		middleware.CallbackRateLimitMiddleware(cfg.CallbackRateLimitLimit, cfg.CallbackRateLimitPeriod),
		h.Payments.Callback)

	protected := api.Group("")
	protected.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))
	protected.Use(middleware.AuthMiddleware(tokenManager))

	jobs := protected.Group("/jobs")
	{
		jobs.POST("", middleware.RequireCapability(valueobject.CapPostJobs), h.Jobs.CreateJob)

		job := jobs.Group("/:id", middleware.UUIDValidator("id"))
		job.GET("", h.Jobs.GetJob)
		job.GET("/events", h.Jobs.ListEvents)
		job.POST("/approve", middleware.RequireCapability(valueobject.CapModerateJobs), h.Jobs.ApproveJob)
		job.POST("/reject", middleware.RequireCapability(valueobject.CapModerateJobs), h.Jobs.RejectJob)
		job.POST("/cancel", h.Jobs.CancelJob)

		job.POST("/applications", middleware.RequireCapability(valueobject.CapApplyToJobs), h.Jobs.SubmitApplication)
		job.GET("/applications", h.Jobs.ListApplications)
		job.POST("/applications/:applicationId/accept", middleware.UUIDValidator("applicationId"),
			middleware.RequireCapability(valueobject.CapPostJobs), h.Jobs.AcceptApplication)

		job.POST("/fund", middleware.RequireCapability(valueobject.CapPostJobs), h.Payments.FundJob)
		job.POST("/deliverable", middleware.RequireCapability(valueobject.CapApplyToJobs), h.Jobs.SubmitDeliverable)
		job.POST("/complete", middleware.RequireCapability(valueobject.CapPostJobs), h.Jobs.ApproveCompletion)
		job.GET("/escrow", h.Payments.GetEscrow)
		job.GET("/transactions", h.Payments.ListTransactions)

		job.POST("/disputes", h.Disputes.OpenDispute)
		job.GET("/disputes", h.Disputes.ListDisputes)
	}

	protected.GET("/transactions/:id", middleware.UUIDValidator("id"), h.Payments.GetTransaction)

	admin := protected.Group("/admin")
	{
		arbitration := admin.Group("", middleware.RequireCapability(valueobject.CapArbitrateDisputes))
		arbitration.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), h.Disputes.ResolveDispute)
		arbitration.GET("/disputes/:id/arbitration", middleware.UUIDValidator("id"), h.Disputes.ArbitrationLog)
		arbitration.POST("/transactions/:id/retry", middleware.UUIDValidator("id"), h.Admin.RetryDisbursement)

		admin.GET("/ledger/audit", middleware.RequireCapability(valueobject.CapAuditLedger), h.Admin.AuditLedger)
	}

	return r
}

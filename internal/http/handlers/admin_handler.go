package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-engine/internal/dto"
	"github.com/ignatzorin/escrow-engine/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

// AdminHandler: операции персонала над выплатами и журналом эскроу.
type AdminHandler struct {
	jobs   *service.JobService
	ledger *service.EscrowLedger
}

func NewAdminHandler(jobs *service.JobService, ledger *service.EscrowLedger) *AdminHandler {
	return &AdminHandler{jobs: jobs, ledger: ledger}
}

// RetryDisbursement POST /admin/transactions/:id/retry
func (h *AdminHandler) RetryDisbursement(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	txID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, err)
		return
	}

	retry, err := h.jobs.RetryDisbursement(c.Request.Context(), actor, txID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, retry)
}

// AuditLedger GET /admin/ledger/audit
// Расхождения только сообщаются, исправление остаётся за человеком.
func (h *AdminHandler) AuditLedger(c *gin.Context) {
	drifts, err := h.ledger.AuditAll(c.Request.Context())
	if err != nil {
		common.RespondError(c, err)
		return
	}
	if drifts == nil {
		drifts = []models.LedgerDrift{}
	}
	c.JSON(http.StatusOK, dto.LedgerAuditResponse{
		CheckedAt: time.Now().UTC(),
		Drifts:    drifts,
		Clean:     len(drifts) == 0,
	})
}

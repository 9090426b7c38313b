package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-engine/internal/dto"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

// maxCallbackBody ограничивает тело уведомления провайдера.
const maxCallbackBody = 64 * 1024

// CallbackProcessor принимает подписанные уведомления провайдера. Реализуется worker.Reconciler.
type CallbackProcessor interface {
	HandleCallback(ctx context.Context, body []byte, signature string) error
}

// PaymentHandler обслуживает оплату, эскроу и уведомления провайдера.
type PaymentHandler struct {
	jobs      *service.JobService
	callbacks CallbackProcessor
}

func NewPaymentHandler(jobs *service.JobService, callbacks CallbackProcessor) *PaymentHandler {
	return &PaymentHandler{jobs: jobs, callbacks: callbacks}
}

// FundJob POST /jobs/:id/fund
func (h *PaymentHandler) FundJob(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, err)
		return
	}

	var req dto.FundJobRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondError(c, err)
		return
	}

	tx, err := h.jobs.FundJob(c.Request.Context(), actor, jobID, req.PayerHandle)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	// Списание принято провайдером, исход придёт уведомлением или будет получен опросом.
	c.JSON(http.StatusAccepted, tx)
}

// GetEscrow GET /jobs/:id/escrow
func (h *PaymentHandler) GetEscrow(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, err)
		return
	}

	view, err := h.jobs.GetEscrow(c.Request.Context(), actor, jobID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListTransactions GET /jobs/:id/transactions
func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondError(c, err)
		return
	}

	txs, err := h.jobs.ListTransactions(c.Request.Context(), actor, jobID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewListResponse(txs))
}

// GetTransaction GET /transactions/:id
func (h *PaymentHandler) GetTransaction(c *gin.Context) {
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

	tx, err := h.jobs.GetTransaction(c.Request.Context(), actor, txID)
	if err != nil && !errors.Is(err, apperror.ErrSettlementTimedOut) {
		common.RespondError(c, err)
		return
	}

	resp := dto.TransactionResponse{Transaction: tx}
	if err != nil {
		// Транзакция отдаётся вместе с подсказкой повторить оплату.
		appErr, _ := apperror.As(err)
		resp.Notice = &dto.ErrorResponse{Error: appErr.Message, Code: string(appErr.Code)}
	}
	c.JSON(http.StatusOK, resp)
}

// Callback POST /payments/callback
// Без авторизации: подлинность подтверждается HMAC подписью тела.
func (h *PaymentHandler) Callback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		common.RespondError(c, apperror.Wrap(err, apperror.ErrCodeBadRequest, "не удалось прочитать тело уведомления"))
		return
	}

	if err := h.callbacks.HandleCallback(c.Request.Context(), body, c.GetHeader(gateway.SignatureHeader)); err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "accepted"})
}

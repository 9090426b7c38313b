package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/dto"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// ErrorHandler обрабатывает ошибки, положенные хэндлерами в c.Errors.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}
		WriteError(c, c.Errors.Last().Err)
	}
}

// WriteError отвечает клиентом в едином формате {"error","code","retryable"}.
// Внутренние ошибки маскируются, подробности уходят в лог.
func WriteError(c *gin.Context, err error) {
	status, body := errorBody(err)

	fields := logrus.Fields{
		"error":  err.Error(),
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
		"status": status,
	}
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusGatewayTimeout {
		logger.Log.WithFields(fields).Error("Request error")
	} else {
		logger.Log.WithFields(fields).Debug("Request rejected")
	}

	c.JSON(status, body)
}

func errorBody(err error) (int, dto.ErrorResponse) {
	appErr, ok := apperror.As(err)
	if !ok {
		return http.StatusInternalServerError, dto.ErrorResponse{
			Error: "внутренняя ошибка сервера",
			Code:  string(apperror.ErrCodeInternal),
		}
	}

	message := appErr.Message
	if appErr.HTTPStatus >= http.StatusInternalServerError &&
		appErr.Code != apperror.ErrCodeProviderUnavailable && appErr.Code != apperror.ErrCodeSettlementTimedOut {
		message = "внутренняя ошибка сервера"
	}
	return appErr.HTTPStatus, dto.ErrorResponse{
		Error:     message,
		Code:      string(appErr.Code),
		Retryable: appErr.Retryable() || appErr.Code == apperror.ErrCodeProviderUnavailable,
	}
}

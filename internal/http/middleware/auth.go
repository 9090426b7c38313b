package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

// Context ключи для gin.Context.
const (
	ContextUserIDKey = "userID"
	ContextRoleKey   = "role"
	ContextActorKey  = "actor"
)

// AuthMiddleware проверяет JWT access токен и кладёт вызывающего в контекст.
func AuthMiddleware(tokens *service.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			abortWith(c, apperror.ErrUnauthorized)
			return
		}

		actor, err := tokens.ParseActor(strings.TrimPrefix(auth, "Bearer "))
		if err != nil || actor.ID == uuid.Nil {
			abortWith(c, apperror.New(apperror.ErrCodeUnauthorized, "токен невалиден"))
			return
		}

		c.Set(ContextUserIDKey, actor.ID)
		c.Set(ContextRoleKey, string(actor.Role))
		c.Set(ContextActorKey, actor)
		c.Next()
	}
}

// RequireCapability пропускает только роли с нужной возможностью.
// Сервисы проверяют права повторно, здесь отсекаются очевидно чужие запросы.
func RequireCapability(capability valueobject.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := c.Get(ContextActorKey)
		actor, isActor := raw.(valueobject.Actor)
		if !ok || !isActor {
			abortWith(c, apperror.ErrUnauthorized)
			return
		}
		if err := actor.Require(capability); err != nil {
			abortWith(c, err)
			return
		}
		c.Next()
	}
}

func abortWith(c *gin.Context, err error) {
	status, body := errorBody(err)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, body)
}


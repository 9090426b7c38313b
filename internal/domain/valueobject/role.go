package valueobject

import (
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// Role: закрытый набор ролей платформы.
type Role string

const (
	RoleProfessional Role = "PRO"
	RoleClient       Role = "MSME"
	RoleStaff        Role = "STAFF"
	RoleAdmin        Role = "ADMIN"
)

type Capability string

const (
	CapPostJobs          Capability = "post_jobs"
	CapApplyToJobs       Capability = "apply_to_jobs"
	CapModerateJobs      Capability = "moderate_jobs"
	CapArbitrateDisputes Capability = "arbitrate_disputes"
	CapAuditLedger       Capability = "audit_ledger"
)

var roleCapabilities = map[Role]map[Capability]struct{}{
	RoleProfessional: {CapApplyToJobs: {}},
	RoleClient:       {CapPostJobs: {}},
	RoleStaff:        {CapModerateJobs: {}, CapArbitrateDisputes: {}},
	RoleAdmin:        {CapModerateJobs: {}, CapArbitrateDisputes: {}, CapAuditLedger: {}},
}

func ParseRole(v string) (Role, error) {
	r := Role(v)
	if _, ok := roleCapabilities[r]; !ok {
		return "", apperror.New(apperror.ErrCodeUnauthorized, "неизвестная роль пользователя")
	}
	return r, nil
}

// Can проверяет, входит ли возможность в набор роли.
func (r Role) Can(c Capability) bool {
	_, ok := roleCapabilities[r][c]
	return ok
}

// Actor: вызывающий пользователь, как его определила внешняя система идентификации.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// System: актор для фоновых переходов (воркер сверки).
var System = Actor{ID: uuid.Nil, Role: ""}

func (a Actor) IsSystem() bool {
	return a.ID == uuid.Nil
}

// Require возвращает ErrForbidden, если у актора нет возможности.
func (a Actor) Require(c Capability) error {
	if !a.Role.Can(c) {
		return apperror.New(apperror.ErrCodeForbidden, "недостаточно прав для действия "+string(c))
	}
	return nil
}

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
)

// Job: заказ клиента, центральная сущность движка.
type Job struct {
	ID                 uuid.UUID             `db:"id" json:"id"`
	ClientID           uuid.UUID             `db:"client_id" json:"client_id"`
	Title              string                `db:"title" json:"title"`
	Description        string                `db:"description" json:"description"`
	Budget             int64                 `db:"budget" json:"budget"`
	Currency           string                `db:"currency" json:"currency"`
	Region             *string               `db:"region" json:"region,omitempty"`
	DeadlineAt         *time.Time            `db:"deadline_at" json:"deadline_at,omitempty"`
	Status             valueobject.JobStatus `db:"status" json:"status"`
	HiredApplicationID *uuid.UUID            `db:"hired_application_id" json:"hired_application_id,omitempty"`
	ProfessionalID     *uuid.UUID            `db:"professional_id" json:"professional_id,omitempty"`
	DeliverableRef     *string               `db:"deliverable_ref" json:"deliverable_ref,omitempty"`
	Version            int64                 `db:"version" json:"version"`
	CreatedAt          time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time             `db:"updated_at" json:"updated_at"`
}

func (j *Job) IsOwnedBy(userID uuid.UUID) bool {
	return j.ClientID == userID
}

func (j *Job) IsHired(userID uuid.UUID) bool {
	return j.ProfessionalID != nil && *j.ProfessionalID == userID
}

// IsParticipant: клиент-владелец или нанятый исполнитель.
func (j *Job) IsParticipant(userID uuid.UUID) bool {
	return j.IsOwnedBy(userID) || j.IsHired(userID)
}

// Application: отклик исполнителя на заказ.
type Application struct {
	ID             uuid.UUID                     `db:"id" json:"id"`
	JobID          uuid.UUID                     `db:"job_id" json:"job_id"`
	ProfessionalID uuid.UUID                     `db:"professional_id" json:"professional_id"`
	BidAmount      int64                         `db:"bid_amount" json:"bid_amount"`
	Proposal       string                        `db:"proposal" json:"proposal"`
	PayoutHandle   string                        `db:"payout_handle" json:"payout_handle"`
	Status         valueobject.ApplicationStatus `db:"status" json:"status"`
	CreatedAt      time.Time                     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                     `db:"updated_at" json:"updated_at"`
}

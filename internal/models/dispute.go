package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
)

type Dispute struct {
	ID             uuid.UUID                 `db:"id" json:"id"`
	JobID          uuid.UUID                 `db:"job_id" json:"job_id"`
	RaisedBy       uuid.UUID                 `db:"raised_by" json:"raised_by"`
	Reason         string                    `db:"reason" json:"reason"`
	Status         valueobject.DisputeStatus `db:"status" json:"status"`
	ResolvedBy     *uuid.UUID                `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolutionNote *string                   `db:"resolution_note" json:"resolution_note,omitempty"`
	ResolvedAt     *time.Time                `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt      time.Time                 `db:"created_at" json:"created_at"`
}

// ArbitrationRecord: запись журнала арбитража, пишется вместе с решением спора.
type ArbitrationRecord struct {
	ID            uuid.UUID                  `db:"id" json:"id"`
	DisputeID     uuid.UUID                  `db:"dispute_id" json:"dispute_id"`
	JobID         uuid.UUID                  `db:"job_id" json:"job_id"`
	AdminID       uuid.UUID                  `db:"admin_id" json:"admin_id"`
	Outcome       valueobject.DisputeOutcome `db:"outcome" json:"outcome"`
	Justification string                     `db:"justification" json:"justification"`
	TransactionID uuid.UUID                  `db:"transaction_id" json:"transaction_id"`
	CreatedAt     time.Time                  `db:"created_at" json:"created_at"`
}

// Действия в истории заказа.
const (
	JobActionCreated            = "created"
	JobActionPublished          = "published"
	JobActionSubmitted          = "submitted_for_moderation"
	JobActionApproved           = "approved"
	JobActionRejected           = "rejected"
	JobActionCancelled          = "cancelled"
	JobActionHired              = "hired"
	JobActionFundingStarted     = "funding_started"
	JobActionFunded             = "funded"
	JobActionFundingFailed      = "funding_failed"
	JobActionDeliverable        = "deliverable_submitted"
	JobActionCompleted          = "completed"
	JobActionDisputed           = "disputed"
	JobActionResolved           = "resolved"
	JobActionDisbursed          = "disbursed"
	JobActionDisbursementFailed = "disbursement_failed"
	JobActionDisbursementRetry  = "disbursement_retried"
	JobActionLateSettlement     = "late_settlement"
)

// JobEvent: строка истории заказа, одна на каждый успешный переход.
type JobEvent struct {
	ID         uuid.UUID              `db:"id" json:"id"`
	JobID      uuid.UUID              `db:"job_id" json:"job_id"`
	ActorID    *uuid.UUID             `db:"actor_id" json:"actor_id,omitempty"`
	Action     string                 `db:"action" json:"action"`
	FromStatus *valueobject.JobStatus `db:"from_status" json:"from_status,omitempty"`
	ToStatus   *valueobject.JobStatus `db:"to_status" json:"to_status,omitempty"`
	Payload    types.JSONText         `db:"payload" json:"payload"`
	CreatedAt  time.Time              `db:"created_at" json:"created_at"`
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/repository/common"
)

type DisputeRepository struct {
	db sqlx.ExtContext
}

func NewDisputeRepository(db sqlx.ExtContext) *DisputeRepository {
	return &DisputeRepository{db: db}
}

func (r *DisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	query := `
		INSERT INTO disputes (id, job_id, raised_by, reason, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	if err := sqlx.GetContext(ctx, r.db, &d.CreatedAt, query, d.ID, d.JobID, d.RaisedBy, d.Reason, d.Status); err != nil {
		if c, ok := common.UniqueViolation(err); ok && c == common.ConstraintOneOpenDispute {
			return apperror.ErrDisputeExists
		}
		return fmt.Errorf("dispute repository: create %w", err)
	}
	return nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.db, "disputes", id, apperror.ErrDisputeNotFound)
}

func (r *DisputeRepository) GetOpenByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	query := `SELECT * FROM disputes WHERE job_id = $1 AND status = $2`
	if err := sqlx.GetContext(ctx, r.db, &d, query, jobID, valueobject.DisputeStatusOpen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, fmt.Errorf("dispute repository: get open %w", err)
	}
	return &d, nil
}

func (r *DisputeRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Dispute, error) {
	return common.SelectWhere[models.Dispute](ctx, r.db, "disputes", "job_id = $1", "created_at", jobID)
}

func (r *DisputeRepository) Resolve(ctx context.Context, d *models.Dispute) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE disputes SET status = $2, resolved_by = $3, resolution_note = $4, resolved_at = $5
		WHERE id = $1 AND status = $6
	`, d.ID, d.Status, d.ResolvedBy, d.ResolutionNote, d.ResolvedAt, valueobject.DisputeStatusOpen)
	if err != nil {
		return fmt.Errorf("dispute repository: resolve %w", err)
	}
	return common.ExpectOneRow(res, apperror.ErrStaleVersion)
}

type ArbitrationRepository struct {
	db sqlx.ExtContext
}

func NewArbitrationRepository(db sqlx.ExtContext) *ArbitrationRepository {
	return &ArbitrationRepository{db: db}
}

func (r *ArbitrationRepository) Append(ctx context.Context, rec *models.ArbitrationRecord) error {
	query := `
		INSERT INTO arbitration_log (id, dispute_id, job_id, admin_id, outcome, justification, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := sqlx.GetContext(ctx, r.db, &rec.CreatedAt, query,
		rec.ID, rec.DisputeID, rec.JobID, rec.AdminID, rec.Outcome, rec.Justification, rec.TransactionID,
	)
	if err != nil {
		return fmt.Errorf("arbitration repository: append %w", err)
	}
	return nil
}

func (r *ArbitrationRepository) ListByDispute(ctx context.Context, disputeID uuid.UUID) ([]*models.ArbitrationRecord, error) {
	return common.SelectWhere[models.ArbitrationRecord](ctx, r.db, "arbitration_log", "dispute_id = $1", "created_at", disputeID)
}

type JobEventRepository struct {
	db sqlx.ExtContext
}

func NewJobEventRepository(db sqlx.ExtContext) *JobEventRepository {
	return &JobEventRepository{db: db}
}

func (r *JobEventRepository) Add(ctx context.Context, ev *models.JobEvent) error {
	query := `
		INSERT INTO job_events (id, job_id, actor_id, action, from_status, to_status, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := sqlx.GetContext(ctx, r.db, &ev.CreatedAt, query,
		ev.ID, ev.JobID, ev.ActorID, ev.Action, ev.FromStatus, ev.ToStatus, ev.Payload,
	)
	if err != nil {
		return fmt.Errorf("job event repository: add %w", err)
	}
	return nil
}

func (r *JobEventRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.JobEvent, error) {
	return common.SelectWhere[models.JobEvent](ctx, r.db, "job_events", "job_id = $1", "created_at, id", jobID)
}

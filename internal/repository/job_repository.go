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

type JobRepository struct {
	db sqlx.ExtContext
}

func NewJobRepository(db sqlx.ExtContext) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, client_id, title, description, budget, currency, region, deadline_at, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err := sqlx.GetContext(ctx, r.db, job, query,
		job.ID, job.ClientID, job.Title, job.Description, job.Budget, job.Currency,
		job.Region, job.DeadlineAt, job.Status, job.Version,
	)
	if err != nil {
		return fmt.Errorf("job repository: create %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return common.GetByID[models.Job](ctx, r.db, "jobs", id, apperror.ErrJobNotFound)
}

// CompareAndSwap: единственный способ изменить заказ после создания.
func (r *JobRepository) CompareAndSwap(ctx context.Context, job *models.Job, expectedStatus valueobject.JobStatus, expectedVersion int64) error {
	query := `
		UPDATE jobs SET
			title = $4, description = $5, budget = $6, region = $7, deadline_at = $8,
			status = $9, hired_application_id = $10, professional_id = $11, deliverable_ref = $12,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND version = $3
		RETURNING version, updated_at
	`
	var res struct {
		Version   int64        `db:"version"`
		UpdatedAt sql.NullTime `db:"updated_at"`
	}
	err := sqlx.GetContext(ctx, r.db, &res, query,
		job.ID, expectedStatus, expectedVersion,
		job.Title, job.Description, job.Budget, job.Region, job.DeadlineAt,
		job.Status, job.HiredApplicationID, job.ProfessionalID, job.DeliverableRef,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.ErrStaleVersion
		}
		return fmt.Errorf("job repository: compare and swap %w", err)
	}
	job.Version = res.Version
	job.UpdatedAt = res.UpdatedAt.Time
	return nil
}

type ApplicationRepository struct {
	db sqlx.ExtContext
}

func NewApplicationRepository(db sqlx.ExtContext) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	query := `
		INSERT INTO applications (id, job_id, professional_id, bid_amount, proposal, payout_handle, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := sqlx.GetContext(ctx, r.db, app, query,
		app.ID, app.JobID, app.ProfessionalID, app.BidAmount, app.Proposal, app.PayoutHandle, app.Status,
	)
	if err != nil {
		if c, ok := common.UniqueViolation(err); ok && c == common.ConstraintApplicationPerPro {
			return apperror.ErrApplicationExists
		}
		return fmt.Errorf("application repository: create %w", err)
	}
	return nil
}

func (r *ApplicationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	return common.GetByID[models.Application](ctx, r.db, "applications", id, apperror.ErrApplicationNotFound)
}

func (r *ApplicationRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	return common.SelectWhere[models.Application](ctx, r.db, "applications", "job_id = $1", "created_at", jobID)
}

func (r *ApplicationRepository) GetAcceptedByJob(ctx context.Context, jobID uuid.UUID) (*models.Application, error) {
	var app models.Application
	query := `SELECT * FROM applications WHERE job_id = $1 AND status = $2`
	if err := sqlx.GetContext(ctx, r.db, &app, query, jobID, valueobject.ApplicationStatusAccepted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("application repository: get accepted %w", err)
	}
	return &app, nil
}

func (r *ApplicationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next valueobject.ApplicationStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE applications SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, expected, next,
	)
	if err != nil {
		if c, ok := common.UniqueViolation(err); ok && c == common.ConstraintOneAcceptedApp {
			return apperror.ErrStaleVersion
		}
		return fmt.Errorf("application repository: update status %w", err)
	}
	return common.ExpectOneRow(res, apperror.ErrStaleVersion)
}

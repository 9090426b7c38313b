package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

type jobRepo struct{ exec execFunc }

func (r *jobRepo) Create(_ context.Context, job *models.Job) error {
	return r.exec(func(st *state) error {
		if _, ok := st.jobs[job.ID]; ok {
			return apperror.New(apperror.ErrCodeConflict, "заказ уже существует")
		}
		ts := now()
		if job.CreatedAt.IsZero() {
			job.CreatedAt = ts
		}
		job.UpdatedAt = ts
		st.jobs[job.ID] = *job
		return nil
	})
}

func (r *jobRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	var out models.Job
	err := r.exec(func(st *state) error {
		job, ok := st.jobs[id]
		if !ok {
			return apperror.ErrJobNotFound
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *jobRepo) CompareAndSwap(_ context.Context, job *models.Job, expectedStatus valueobject.JobStatus, expectedVersion int64) error {
	return r.exec(func(st *state) error {
		cur, ok := st.jobs[job.ID]
		if !ok {
			return apperror.ErrJobNotFound
		}
		if cur.Status != expectedStatus || cur.Version != expectedVersion {
			return apperror.ErrStaleVersion
		}
		next := *job
		next.ClientID = cur.ClientID
		next.CreatedAt = cur.CreatedAt
		next.Version = expectedVersion + 1
		next.UpdatedAt = now()
		st.jobs[job.ID] = next
		job.Version = next.Version
		job.UpdatedAt = next.UpdatedAt
		return nil
	})
}

type applicationRepo struct{ exec execFunc }

func (r *applicationRepo) Create(_ context.Context, app *models.Application) error {
	return r.exec(func(st *state) error {
		for _, a := range st.applications {
			if a.JobID == app.JobID && a.ProfessionalID == app.ProfessionalID {
				return apperror.ErrApplicationExists
			}
		}
		ts := now()
		app.CreatedAt = ts
		app.UpdatedAt = ts
		st.applications[app.ID] = *app
		return nil
	})
}

func (r *applicationRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Application, error) {
	var out models.Application
	err := r.exec(func(st *state) error {
		app, ok := st.applications[id]
		if !ok {
			return apperror.ErrApplicationNotFound
		}
		out = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *applicationRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	var out []*models.Application
	err := r.exec(func(st *state) error {
		for _, a := range st.applications {
			if a.JobID == jobID {
				app := a
				out = append(out, &app)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (r *applicationRepo) GetAcceptedByJob(_ context.Context, jobID uuid.UUID) (*models.Application, error) {
	var out *models.Application
	err := r.exec(func(st *state) error {
		for _, a := range st.applications {
			if a.JobID == jobID && a.Status == valueobject.ApplicationStatusAccepted {
				app := a
				out = &app
				return nil
			}
		}
		return apperror.ErrApplicationNotFound
	})
	return out, err
}

func (r *applicationRepo) UpdateStatus(_ context.Context, id uuid.UUID, expected, next valueobject.ApplicationStatus) error {
	return r.exec(func(st *state) error {
		app, ok := st.applications[id]
		if !ok {
			return apperror.ErrApplicationNotFound
		}
		if app.Status != expected {
			return apperror.ErrStaleVersion
		}
		if next == valueobject.ApplicationStatusAccepted {
			for _, a := range st.applications {
				if a.JobID == app.JobID && a.ID != id && a.Status == valueobject.ApplicationStatusAccepted {
					return apperror.ErrStaleVersion
				}
			}
		}
		app.Status = next
		app.UpdatedAt = now()
		st.applications[id] = app
		return nil
	})
}

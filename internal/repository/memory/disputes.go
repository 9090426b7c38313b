package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

type disputeRepo struct{ exec execFunc }

func (r *disputeRepo) Create(_ context.Context, d *models.Dispute) error {
	return r.exec(func(st *state) error {
		for _, existing := range st.disputes {
			if existing.JobID == d.JobID && existing.Status == valueobject.DisputeStatusOpen {
				return apperror.ErrDisputeExists
			}
		}
		d.CreatedAt = now()
		st.disputes[d.ID] = *d
		return nil
	})
}

func (r *disputeRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	var out models.Dispute
	err := r.exec(func(st *state) error {
		d, ok := st.disputes[id]
		if !ok {
			return apperror.ErrDisputeNotFound
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *disputeRepo) GetOpenByJob(_ context.Context, jobID uuid.UUID) (*models.Dispute, error) {
	var out *models.Dispute
	err := r.exec(func(st *state) error {
		for _, d := range st.disputes {
			if d.JobID == jobID && d.Status == valueobject.DisputeStatusOpen {
				found := d
				out = &found
				return nil
			}
		}
		return apperror.ErrDisputeNotFound
	})
	return out, err
}

func (r *disputeRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.Dispute, error) {
	var out []*models.Dispute
	err := r.exec(func(st *state) error {
		for _, d := range st.disputes {
			if d.JobID == jobID {
				found := d
				out = append(out, &found)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (r *disputeRepo) Resolve(_ context.Context, d *models.Dispute) error {
	return r.exec(func(st *state) error {
		cur, ok := st.disputes[d.ID]
		if !ok {
			return apperror.ErrDisputeNotFound
		}
		if cur.Status != valueobject.DisputeStatusOpen {
			return apperror.ErrStaleVersion
		}
		cur.Status = d.Status
		cur.ResolvedBy = d.ResolvedBy
		cur.ResolutionNote = d.ResolutionNote
		cur.ResolvedAt = d.ResolvedAt
		st.disputes[d.ID] = cur
		return nil
	})
}

type arbitrationRepo struct{ exec execFunc }

func (r *arbitrationRepo) Append(_ context.Context, rec *models.ArbitrationRecord) error {
	return r.exec(func(st *state) error {
		rec.CreatedAt = now()
		st.arbitration = append(st.arbitration, *rec)
		return nil
	})
}

func (r *arbitrationRepo) ListByDispute(_ context.Context, disputeID uuid.UUID) ([]*models.ArbitrationRecord, error) {
	var out []*models.ArbitrationRecord
	err := r.exec(func(st *state) error {
		for _, rec := range st.arbitration {
			if rec.DisputeID == disputeID {
				found := rec
				out = append(out, &found)
			}
		}
		return nil
	})
	return out, err
}

type eventRepo struct{ exec execFunc }

func (r *eventRepo) Add(_ context.Context, ev *models.JobEvent) error {
	return r.exec(func(st *state) error {
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now()
		}
		st.events = append(st.events, *ev)
		return nil
	})
}

func (r *eventRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.JobEvent, error) {
	var out []*models.JobEvent
	err := r.exec(func(st *state) error {
		for _, ev := range st.events {
			if ev.JobID == jobID {
				found := ev
				out = append(out, &found)
			}
		}
		return nil
	})
	return out, err
}

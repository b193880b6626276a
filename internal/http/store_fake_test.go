package http

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"leadrelay/internal/model"
	"leadrelay/internal/store"
)

// fakeStore is an in-memory store.Store for handler tests.
type fakeStore struct {
	leads map[uuid.UUID]*model.Lead
	jobs  map[uuid.UUID]*model.Job

	retried   []uuid.UUID
	retryErr  error
	resetJobs int64

	// createLeadErr is returned once by CreateLeadWithJobs without
	// persisting anything, mimicking a rolled-back transaction.
	createLeadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		leads: make(map[uuid.UUID]*model.Lead),
		jobs:  make(map[uuid.UUID]*model.Job),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	f.leads[lead.ID] = lead
	return nil
}

func (f *fakeStore) CreateLeadWithJobs(ctx context.Context, lead *model.Lead, types []model.JobType) ([]*model.Job, error) {
	if f.createLeadErr != nil {
		err := f.createLeadErr
		f.createLeadErr = nil
		return nil, err
	}
	for _, l := range f.leads {
		if l.Fingerprint == lead.Fingerprint && l.Status != model.LeadDuplicate {
			return nil, store.ErrDuplicateFingerprint
		}
	}
	lead.Status = model.LeadQueued
	f.leads[lead.ID] = lead
	var jobs []*model.Job
	for _, t := range types {
		job := &model.Job{ID: uuid.New(), LeadID: lead.ID, Type: t, Status: model.JobQueued}
		f.jobs[job.ID] = job
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (f *fakeStore) GetLead(ctx context.Context, id uuid.UUID) (*model.Lead, error) {
	lead, ok := f.leads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return lead, nil
}

func (f *fakeStore) FindLeadByFingerprint(ctx context.Context, fingerprint string) (*model.Lead, error) {
	for _, l := range f.leads {
		if l.Fingerprint == fingerprint && l.Status != model.LeadDuplicate {
			return l, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListLeads(ctx context.Context, filter store.LeadFilter) ([]*model.Lead, error) {
	var out []*model.Lead
	for _, l := range f.leads {
		if filter.Status != "" && string(l.Status) != filter.Status {
			continue
		}
		if filter.Source != "" && l.Source != filter.Source {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeStore) MarkLeadDelivered(ctx context.Context, id uuid.UUID, target model.JobType, at time.Time) error {
	return nil
}

func (f *fakeStore) EnqueueJobs(ctx context.Context, leadID uuid.UUID, types []model.JobType) ([]*model.Job, error) {
	var jobs []*model.Job
	for _, t := range types {
		job := &model.Job{ID: uuid.New(), LeadID: leadID, Type: t, Status: model.JobQueued}
		f.jobs[job.ID] = job
		jobs = append(jobs, job)
	}
	if lead, ok := f.leads[leadID]; ok && lead.Status == model.LeadNew {
		lead.Status = model.LeadQueued
	}
	return jobs, nil
}

func (f *fakeStore) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) ListJobs(ctx context.Context, filter store.JobFilter) ([]*model.Job, error) {
	var out []*model.Job
	for _, j := range f.jobs {
		if filter.LeadID != nil && j.LeadID != *filter.LeadID {
			continue
		}
		if filter.Status != "" && string(j.Status) != filter.Status {
			continue
		}
		if filter.Type != "" && string(j.Type) != filter.Type {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeStore) ClaimNextJob(ctx context.Context, lease time.Duration) (*model.Job, error) {
	return nil, nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	return nil
}

func (f *fakeStore) RequeueJob(ctx context.Context, id uuid.UUID, lastError string, runAt time.Time) error {
	return nil
}

func (f *fakeStore) FailJob(ctx context.Context, id uuid.UUID, lastError string) error { return nil }

func (f *fakeStore) ReclaimExpiredJobs(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeStore) RecomputeLeadStatus(ctx context.Context, leadID uuid.UUID) (model.LeadStatus, error) {
	return model.LeadProcessing, nil
}

func (f *fakeStore) RetryFailedLead(ctx context.Context, leadID uuid.UUID) (int64, error) {
	if f.retryErr != nil {
		return 0, f.retryErr
	}
	if _, ok := f.leads[leadID]; !ok {
		return 0, store.ErrNotFound
	}
	f.retried = append(f.retried, leadID)
	return f.resetJobs, nil
}

func (f *fakeStore) DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) DeleteExpiredLeads(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"leadrelay/internal/model"
)

var ErrNotFound = errors.New("resource not found")

// ErrDuplicateFingerprint is returned when inserting an active lead
// whose fingerprint is already held by another non-duplicate lead.
var ErrDuplicateFingerprint = errors.New("fingerprint already ingested")

// ErrInvalidTransition is returned when a point update would move a
// job across a forbidden status edge (e.g. completed -> queued). Job
// statuses only move forward; the sole backward edge is
// processing -> queued, and only as a retry or lease reclaim.
var ErrInvalidTransition = errors.New("invalid job status transition")

type LeadFilter struct {
	Status string
	Source string
	Limit  int32
	Offset int32
}

type JobFilter struct {
	Status string
	Type   string
	LeadID *uuid.UUID
	Limit  int32
	Offset int32
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateLead(ctx context.Context, lead *model.Lead) error
	CreateLeadWithJobs(ctx context.Context, lead *model.Lead, types []model.JobType) ([]*model.Job, error)
	GetLead(ctx context.Context, id uuid.UUID) (*model.Lead, error)
	FindLeadByFingerprint(ctx context.Context, fingerprint string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]*model.Lead, error)
	MarkLeadDelivered(ctx context.Context, id uuid.UUID, target model.JobType, at time.Time) error

	EnqueueJobs(ctx context.Context, leadID uuid.UUID, types []model.JobType) ([]*model.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*model.Job, error)

	ClaimNextJob(ctx context.Context, lease time.Duration) (*model.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	RequeueJob(ctx context.Context, id uuid.UUID, lastError string, runAt time.Time) error
	FailJob(ctx context.Context, id uuid.UUID, lastError string) error
	ReclaimExpiredJobs(ctx context.Context) (int64, error)

	RecomputeLeadStatus(ctx context.Context, leadID uuid.UUID) (model.LeadStatus, error)
	RetryFailedLead(ctx context.Context, leadID uuid.UUID) (int64, error)

	DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpiredLeads(ctx context.Context, cutoff time.Time) (int64, error)
}

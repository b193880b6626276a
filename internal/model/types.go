package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// JobStatus represents the lifecycle state of a delivery job in the
// jobs table. These values must match the text values stored in the
// database (jobs.status).
//
// Centralizing these here avoids scattering string literals like
// "queued" or "completed" across packages.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether a job in this status will never transition
// again on its own (only the admin retry reset can move it).
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobType identifies which delivery handler a job is dispatched to.
// The set is closed: every type must have exactly one handler in the
// registry at startup.
type JobType string

const (
	JobTypeSheetAppend JobType = "sheet_append"
	JobTypeCRMPush     JobType = "crm_push"
)

// AllJobTypes lists every delivery target a freshly ingested lead is
// fanned out to.
func AllJobTypes() []JobType {
	return []JobType{JobTypeSheetAppend, JobTypeCRMPush}
}

// LeadStatus is the aggregate delivery state of a lead, derived from
// the statuses of its jobs. It is never written by a delivery handler.
type LeadStatus string

const (
	LeadNew        LeadStatus = "new"
	LeadQueued     LeadStatus = "queued"
	LeadProcessing LeadStatus = "processing"
	LeadSuccess    LeadStatus = "success"
	LeadFailed     LeadStatus = "failed"
	LeadDuplicate  LeadStatus = "duplicate"
)

// Lead is a captured prospect record. The payload column holds the
// normalized form produced by the ingest package.
type Lead struct {
	ID               uuid.UUID
	Source           string
	Fingerprint      string
	Payload          json.RawMessage
	Status           LeadStatus
	SheetDeliveredAt *time.Time
	CRMDeliveredAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Job is one unit of delivery work: one lead, one external target.
//
// attempts is incremented exactly once per claim, inside the claim
// statement itself, so a crash mid-handler is observed as one more
// failed attempt rather than a lost one.
type Job struct {
	ID                 uuid.UUID
	LeadID             uuid.UUID
	Type               JobType
	Status             JobStatus
	Attempts           int32
	LastError          *string
	RunAt              time.Time
	ProcessingDeadline *time.Time
	Result             pqtype.NullRawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

package http

import (
	"encoding/json"
	"time"

	"leadrelay/internal/model"
)

// ErrorResponse is the error envelope for every non-2xx reply.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// JobView is the wire shape of a delivery job.
type JobView struct {
	ID                 string          `json:"id"`
	LeadID             string          `json:"lead_id"`
	Type               string          `json:"type"`
	Status             string          `json:"status"`
	Attempts           int32           `json:"attempts"`
	LastError          *string         `json:"last_error,omitempty"`
	RunAt              time.Time       `json:"run_at"`
	ProcessingDeadline *time.Time      `json:"processing_deadline,omitempty"`
	Result             json.RawMessage `json:"result,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// LeadView is the wire shape of a lead. Jobs are attached on the
// detail endpoint only.
type LeadView struct {
	ID               string          `json:"id"`
	Source           string          `json:"source"`
	Status           string          `json:"status"`
	Payload          json.RawMessage `json:"payload"`
	SheetDeliveredAt *time.Time      `json:"sheet_delivered_at,omitempty"`
	CRMDeliveredAt   *time.Time      `json:"crm_delivered_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Jobs             []JobView       `json:"jobs,omitempty"`
}

// WebhookResponse acknowledges an ingested (or deduplicated) lead.
type WebhookResponse struct {
	Success bool      `json:"success"`
	LeadID  string    `json:"lead_id"`
	Status  string    `json:"status"`
	Jobs    []JobView `json:"jobs,omitempty"`
}

// RetryResponse reports the outcome of an admin retry request.
type RetryResponse struct {
	Success   bool   `json:"success"`
	LeadID    string `json:"lead_id"`
	JobsReset int64  `json:"jobs_reset"`
}

type LeadListResponse struct {
	Success bool       `json:"success"`
	Data    []LeadView `json:"data"`
}

type LeadDetailResponse struct {
	Success bool     `json:"success"`
	Data    LeadView `json:"data"`
}

type JobListResponse struct {
	Success bool      `json:"success"`
	Data    []JobView `json:"data"`
}

type JobDetailResponse struct {
	Success bool    `json:"success"`
	Data    JobView `json:"data"`
}

func toJobView(j *model.Job) JobView {
	v := JobView{
		ID:                 j.ID.String(),
		LeadID:             j.LeadID.String(),
		Type:               string(j.Type),
		Status:             string(j.Status),
		Attempts:           j.Attempts,
		LastError:          j.LastError,
		RunAt:              j.RunAt,
		ProcessingDeadline: j.ProcessingDeadline,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
	}
	if j.Result.Valid {
		v.Result = j.Result.RawMessage
	}
	return v
}

func toLeadView(l *model.Lead) LeadView {
	return LeadView{
		ID:               l.ID.String(),
		Source:           l.Source,
		Status:           string(l.Status),
		Payload:          l.Payload,
		SheetDeliveredAt: l.SheetDeliveredAt,
		CRMDeliveredAt:   l.CRMDeliveredAt,
		CreatedAt:        l.CreatedAt,
		UpdatedAt:        l.UpdatedAt,
	}
}

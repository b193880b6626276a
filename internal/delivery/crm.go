package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"leadrelay/internal/config"
	"leadrelay/internal/ingest"
	"leadrelay/internal/model"
)

// CRMPushHandler creates a contact in the configured CRM pipeline.
// The CRM's response (typically carrying the created record id) is
// stored on the job for later inspection.
type CRMPushHandler struct {
	cfg    config.CRMTargetConfig
	client *http.Client
}

func NewCRMPushHandler(cfg config.CRMTargetConfig) *CRMPushHandler {
	return &CRMPushHandler{cfg: cfg, client: newHTTPClient(cfg.TimeoutMs)}
}

type crmContact struct {
	FullName string            `json:"full_name"`
	Email    string            `json:"email"`
	Phone    string            `json:"phone"`
	Extra    map[string]string `json:"extra,omitempty"`
}

type crmPushRequest struct {
	PipelineID string     `json:"pipeline_id"`
	Source     string     `json:"source"`
	Campaign   string     `json:"campaign"`
	ExternalID string     `json:"external_id"`
	Contact    crmContact `json:"contact"`
}

func (h *CRMPushHandler) Deliver(ctx context.Context, lead *model.Lead, job *model.Job) (json.RawMessage, error) {
	var nl ingest.NormalizedLead
	if err := json.Unmarshal(lead.Payload, &nl); err != nil {
		return nil, fmt.Errorf("decode lead payload: %w", err)
	}

	req := crmPushRequest{
		PipelineID: h.cfg.PipelineID,
		Source:     lead.Source,
		Campaign:   nl.Campaign,
		// The lead id doubles as an idempotency key so a retried push
		// after an ambiguous failure does not create a second contact.
		ExternalID: lead.ID.String(),
		Contact: crmContact{
			FullName: nl.FullName,
			Email:    nl.Email,
			Phone:    nl.Phone,
			Extra:    nl.Extra,
		},
	}

	result, err := postJSON(ctx, h.client, h.cfg.URL, h.cfg.Token, req)
	if err != nil {
		return nil, fmt.Errorf("crm push: %w", err)
	}
	return result, nil
}

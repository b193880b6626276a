package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"leadrelay/internal/config"
	"leadrelay/internal/ingest"
	"leadrelay/internal/model"
)

// SheetAppendHandler appends one lead as a row to a configured
// spreadsheet via its append API.
type SheetAppendHandler struct {
	cfg    config.SheetTargetConfig
	client *http.Client
}

func NewSheetAppendHandler(cfg config.SheetTargetConfig) *SheetAppendHandler {
	return &SheetAppendHandler{cfg: cfg, client: newHTTPClient(cfg.TimeoutMs)}
}

type sheetAppendRequest struct {
	SpreadsheetID string   `json:"spreadsheet_id"`
	Worksheet     string   `json:"worksheet"`
	Values        []string `json:"values"`
}

func (h *SheetAppendHandler) Deliver(ctx context.Context, lead *model.Lead, job *model.Job) (json.RawMessage, error) {
	var nl ingest.NormalizedLead
	if err := json.Unmarshal(lead.Payload, &nl); err != nil {
		return nil, fmt.Errorf("decode lead payload: %w", err)
	}

	req := sheetAppendRequest{
		SpreadsheetID: h.cfg.SpreadsheetID,
		Worksheet:     h.cfg.Worksheet,
		Values: []string{
			lead.CreatedAt.UTC().Format(time.RFC3339),
			lead.Source,
			nl.FullName,
			nl.Email,
			nl.Phone,
			nl.Campaign,
		},
	}

	result, err := postJSON(ctx, h.client, h.cfg.URL, h.cfg.Token, req)
	if err != nil {
		return nil, fmt.Errorf("sheet append: %w", err)
	}
	return result, nil
}

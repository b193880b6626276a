package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"leadrelay/internal/config"
	"leadrelay/internal/ingest"
	"leadrelay/internal/metrics"
	"leadrelay/internal/model"
	"leadrelay/internal/store"
)

func configFromCtx(c *fiber.Ctx) *config.Config {
	cfg, _ := c.Locals("config").(*config.Config)
	return cfg
}

func storeFromCtx(c *fiber.Ctx) store.Store {
	st, _ := c.Locals("store").(store.Store)
	return st
}

func loggerFromCtx(c *fiber.Ctx) *slog.Logger {
	if l, ok := c.Locals("logger").(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// webhookHandler ingests one lead from an ad platform webhook. The
// lead is persisted and its delivery jobs enqueued before the 202 is
// sent, so an acknowledged lead can no longer be lost.
func webhookHandler(c *fiber.Ctx) error {
	cfg := configFromCtx(c)
	st := storeFromCtx(c)
	logger := loggerFromCtx(c)
	source := c.Params("source")

	secret, known := cfg.SourceSecret(source)
	if !known {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "UNKNOWN_SOURCE",
			Error:   fmt.Sprintf("webhook source %q is not configured", source),
		})
	}
	if subtle.ConstantTimeCompare([]byte(c.Get("X-Webhook-Secret")), []byte(secret)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "Invalid webhook secret",
		})
	}

	normalizer, ok := ingest.ForSource(source)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "UNKNOWN_SOURCE",
			Error:   fmt.Sprintf("no normalizer for source %q", source),
		})
	}

	normalized, err := normalizer.Normalize(c.Body())
	if err != nil {
		if ingest.IsRejection(err) {
			metrics.RecordLeadIngested(source, "rejected")
			logger.Warn("lead_rejected", "source", source, "error", err)
			return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{
				Success: false,
				Code:    "INVALID_PAYLOAD",
				Error:   err.Error(),
			})
		}
		return internalError(c, "normalize failed", err)
	}

	payload, err := json.Marshal(normalized)
	if err != nil {
		return internalError(c, "encode payload failed", err)
	}

	fingerprint := ingest.Fingerprint(source, normalized)
	now := time.Now().UTC()

	// Dedupe: a resubmission of a known lead is recorded but never
	// delivered again.
	existing, err := st.FindLeadByFingerprint(c.Context(), fingerprint)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return internalError(c, "dedupe lookup failed", err)
	}
	if existing != nil {
		return recordDuplicate(c, source, fingerprint, payload)
	}

	lead := &model.Lead{
		ID:          store.NewID(),
		Source:      source,
		Fingerprint: fingerprint,
		Payload:     payload,
		Status:      model.LeadNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// Lead and jobs commit together: a failure here leaves no stored
	// lead, so the platform's retry of this webhook re-ingests cleanly.
	jobs, err := st.CreateLeadWithJobs(c.Context(), lead, model.AllJobTypes())
	if errors.Is(err, store.ErrDuplicateFingerprint) {
		// Lost a race with a concurrent identical submission.
		return recordDuplicate(c, source, fingerprint, payload)
	}
	if err != nil {
		return internalError(c, "store lead failed", err)
	}

	metrics.RecordLeadIngested(source, "accepted")
	logger.Info("lead_ingested", "source", source, "lead_id", lead.ID, "jobs", len(jobs))

	resp := WebhookResponse{
		Success: true,
		LeadID:  lead.ID.String(),
		Status:  string(model.LeadQueued),
	}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobView(j))
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

// recordDuplicate stores a resubmission as a duplicate-status lead with
// no jobs. Duplicates are visible in the admin API but never delivered.
func recordDuplicate(c *fiber.Ctx, source, fingerprint string, payload json.RawMessage) error {
	st := storeFromCtx(c)
	now := time.Now().UTC()
	dup := &model.Lead{
		ID:          store.NewID(),
		Source:      source,
		Fingerprint: fingerprint,
		Payload:     payload,
		Status:      model.LeadDuplicate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := st.CreateLead(c.Context(), dup); err != nil {
		return internalError(c, "store duplicate failed", err)
	}
	metrics.RecordLeadIngested(source, "duplicate")
	loggerFromCtx(c).Info("lead_duplicate", "source", source, "lead_id", dup.ID)
	return c.Status(fiber.StatusOK).JSON(WebhookResponse{
		Success: true,
		LeadID:  dup.ID.String(),
		Status:  string(model.LeadDuplicate),
	})
}

func internalError(c *fiber.Ctx, msg string, err error) error {
	loggerFromCtx(c).Error("internal_error", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Success: false,
		Code:    "INTERNAL_ERROR",
		Error:   fmt.Sprintf("%s: %v", msg, err),
	})
}

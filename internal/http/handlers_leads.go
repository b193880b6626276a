package http

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"leadrelay/internal/store"
)

func leadsListHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	filter := store.LeadFilter{
		Status: c.Query("status"),
		Source: c.Query("source"),
		Limit:  queryInt32(c, "limit", 50),
		Offset: queryInt32(c, "offset", 0),
	}

	leads, err := st.ListLeads(c.Context(), filter)
	if err != nil {
		return internalError(c, "list leads failed", err)
	}

	resp := LeadListResponse{Success: true, Data: []LeadView{}}
	for _, l := range leads {
		resp.Data = append(resp.Data, toLeadView(l))
	}
	return c.JSON(resp)
}

func leadDetailHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid lead id")
	}

	lead, err := st.GetLead(c.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(c, "lead not found")
	}
	if err != nil {
		return internalError(c, "get lead failed", err)
	}

	jobs, err := st.ListJobs(c.Context(), store.JobFilter{LeadID: &id})
	if err != nil {
		return internalError(c, "list lead jobs failed", err)
	}

	view := toLeadView(lead)
	for _, j := range jobs {
		view.Jobs = append(view.Jobs, toJobView(j))
	}
	return c.JSON(LeadDetailResponse{Success: true, Data: view})
}

// leadRetryHandler resets all failed jobs of a lead for another full
// round of attempts. Completed jobs stay completed, so delivery is not
// repeated to targets that already succeeded.
func leadRetryHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)
	logger := loggerFromCtx(c)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid lead id")
	}

	reset, err := st.RetryFailedLead(c.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(c, "lead not found")
	}
	if err != nil {
		return internalError(c, "retry lead failed", err)
	}

	if reset > 0 {
		logger.Info("lead_retry_requested", "lead_id", id, "jobs_reset", reset)
	}
	return c.JSON(RetryResponse{Success: true, LeadID: id.String(), JobsReset: reset})
}

func queryInt32(c *fiber.Ctx, name string, def int32) int32 {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return def
	}
	return int32(n)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Success: false,
		Code:    "BAD_REQUEST",
		Error:   msg,
	})
}

func notFound(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
		Success: false,
		Code:    "NOT_FOUND",
		Error:   msg,
	})
}

package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"leadrelay/internal/store"
)

func jobsListHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	filter := store.JobFilter{
		Status: c.Query("status"),
		Type:   c.Query("type"),
		Limit:  queryInt32(c, "limit", 50),
		Offset: queryInt32(c, "offset", 0),
	}
	if raw := c.Query("lead_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return badRequest(c, "invalid lead_id filter")
		}
		filter.LeadID = &id
	}

	jobs, err := st.ListJobs(c.Context(), filter)
	if err != nil {
		return internalError(c, "list jobs failed", err)
	}

	resp := JobListResponse{Success: true, Data: []JobView{}}
	for _, j := range jobs {
		resp.Data = append(resp.Data, toJobView(j))
	}
	return c.JSON(resp)
}

func jobDetailHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid job id")
	}

	job, err := st.GetJob(c.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(c, "job not found")
	}
	if err != nil {
		return internalError(c, "get job failed", err)
	}

	return c.JSON(JobDetailResponse{Success: true, Data: toJobView(job)})
}

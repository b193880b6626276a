package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadrelay/internal/config"
	"leadrelay/internal/metrics"
	"leadrelay/internal/model"
)

// Handler delivers one lead to one external target. A nil error marks
// the attempt successful; the returned payload, if any, is stored on
// the job as the sink's response. Any error is treated as retryable —
// whether the job actually retries depends on the attempt budget.
type Handler interface {
	Deliver(ctx context.Context, lead *model.Lead, job *model.Job) (json.RawMessage, error)
}

// Registry maps each job type to its handler.
type Registry map[model.JobType]Handler

// Validate ensures every known job type has a handler. Called at
// startup so a misconfigured worker fails fast instead of marking
// every claimed job failed.
func (r Registry) Validate() error {
	for _, t := range model.AllJobTypes() {
		if _, ok := r[t]; !ok {
			return fmt.Errorf("no handler registered for job type %q", t)
		}
	}
	return nil
}

// Store is the slice of the data layer the runner needs.
type Store interface {
	ClaimNextJob(ctx context.Context, lease time.Duration) (*model.Job, error)
	GetLead(ctx context.Context, id uuid.UUID) (*model.Lead, error)
	CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	RequeueJob(ctx context.Context, id uuid.UUID, lastError string, runAt time.Time) error
	FailJob(ctx context.Context, id uuid.UUID, lastError string) error
	ReclaimExpiredJobs(ctx context.Context) (int64, error)
	RecomputeLeadStatus(ctx context.Context, leadID uuid.UUID) (model.LeadStatus, error)
	MarkLeadDelivered(ctx context.Context, id uuid.UUID, target model.JobType, at time.Time) error
	DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpiredLeads(ctx context.Context, cutoff time.Time) (int64, error)
}

// Runner polls the jobs table and dispatches claimed jobs to the
// handler registered for their type. It owns worker concurrency, the
// retry policy, lease reclaim, and periodic retention cleanup.
type Runner struct {
	cfg      *config.Config
	store    Store
	handlers Registry
	logger   *slog.Logger
	policy   RetryPolicy
	lease    time.Duration

	now func() time.Time
}

// NewRunner constructs a Runner. The registry must pass Validate.
func NewRunner(cfg *config.Config, st Store, handlers Registry, logger *slog.Logger) *Runner {
	policy := DefaultRetryPolicy()
	if cfg.Queue.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Queue.MaxAttempts
	}
	if cfg.Queue.BaseDelayMs > 0 {
		policy.BaseDelay = time.Duration(cfg.Queue.BaseDelayMs) * time.Millisecond
	}
	if cfg.Queue.BackoffFactor > 0 {
		policy.Factor = cfg.Queue.BackoffFactor
	}

	lease := time.Duration(cfg.Queue.ProcessingLeaseSec) * time.Second
	if lease <= 0 {
		lease = 5 * time.Minute
	}

	return &Runner{
		cfg:      cfg,
		store:    st,
		handlers: handlers,
		logger:   logger,
		policy:   policy,
		lease:    lease,
		now:      time.Now,
	}
}

// Start launches the dispatch loops and the maintenance loop, then
// blocks until the context is cancelled and every worker has drained.
func (r *Runner) Start(ctx context.Context) {
	workers := r.cfg.Queue.Workers
	if workers <= 0 {
		workers = 4
	}

	r.logger.Info("runner_started", "workers", workers, "max_attempts", r.policy.MaxAttempts)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.workerLoop(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.maintenanceLoop(ctx)
	}()

	wg.Wait()
	r.logger.Info("runner_stopped")
}

// workerLoop claims and processes jobs until the context is cancelled.
// When the queue is drained it idles for the poll interval; after a
// successful claim it immediately tries again, so a backlog is worked
// through without sleeping between jobs.
func (r *Runner) workerLoop(ctx context.Context, id int) {
	pollInterval := time.Duration(r.cfg.Queue.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := r.store.ClaimNextJob(ctx, r.lease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A claim failure must not kill the loop; treat it like an
			// empty queue and poll again.
			r.logger.Error("claim_failed", "worker", id, "error", err)
			job = nil
		}

		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		r.processJob(ctx, job)
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	metrics.RecordJobClaimed(string(job.Type))
	r.logger.Info("job_claimed", "job_id", job.ID, "type", job.Type, "lead_id", job.LeadID, "attempt", job.Attempts)

	lead, err := r.store.GetLead(ctx, job.LeadID)
	if err != nil {
		// A missing or unloadable lead counts as a failed attempt like
		// any other, so it surfaces as a terminal failure once retries
		// run out instead of being silently dropped.
		r.handleFailure(ctx, job, fmt.Errorf("load lead: %w", err))
		return
	}

	handler, ok := r.handlers[job.Type]
	if !ok {
		// Registry.Validate makes this unreachable in a normal process,
		// but if it ever happens the job goes through the same retry
		// budget as any other failed attempt.
		r.handleFailure(ctx, job, fmt.Errorf("no handler for job type %q", job.Type))
		return
	}

	result, err := r.deliver(ctx, handler, lead, job)
	if err != nil {
		r.handleFailure(ctx, job, err)
		return
	}

	if err := r.store.CompleteJob(ctx, job.ID, result); err != nil {
		r.logger.Error("complete_failed", "job_id", job.ID, "error", err)
		return
	}
	if err := r.store.MarkLeadDelivered(ctx, job.LeadID, job.Type, r.now()); err != nil {
		r.logger.Error("mark_delivered_failed", "job_id", job.ID, "error", err)
	}
	metrics.RecordJobCompleted(string(job.Type))
	r.logger.Info("job_completed", "job_id", job.ID, "type", job.Type, "lead_id", job.LeadID)

	r.recompute(ctx, job.LeadID)
}

// deliver runs the handler with panic containment. A panicking handler
// costs its job one attempt, exactly like a returned error; it never
// takes the worker loop down with it.
func (r *Runner) deliver(ctx context.Context, h Handler, lead *model.Lead, job *model.Job) (result json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler_panic", "job_id", job.ID, "type", job.Type, "panic", rec)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.Deliver(ctx, lead, job)
}

func (r *Runner) handleFailure(ctx context.Context, job *model.Job, deliverErr error) {
	if r.policy.Exhausted(job.Attempts) {
		r.failJob(ctx, job, deliverErr.Error())
		return
	}

	runAt := r.now().Add(r.policy.Delay(job.Attempts))
	if err := r.store.RequeueJob(ctx, job.ID, deliverErr.Error(), runAt); err != nil {
		r.logger.Error("requeue_failed", "job_id", job.ID, "error", err)
		return
	}
	metrics.RecordJobRequeued(string(job.Type))
	r.logger.Warn("job_requeued", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts, "run_at", runAt, "error", deliverErr)
}

func (r *Runner) failJob(ctx context.Context, job *model.Job, reason string) {
	if err := r.store.FailJob(ctx, job.ID, reason); err != nil {
		r.logger.Error("fail_update_failed", "job_id", job.ID, "error", err)
		return
	}
	metrics.RecordJobFailed(string(job.Type))
	r.logger.Error("job_failed", "job_id", job.ID, "type", job.Type, "lead_id", job.LeadID, "attempts", job.Attempts, "error", reason)

	r.recompute(ctx, job.LeadID)
}

func (r *Runner) recompute(ctx context.Context, leadID uuid.UUID) {
	status, err := r.store.RecomputeLeadStatus(ctx, leadID)
	if err != nil {
		r.logger.Error("lead_status_recompute_failed", "lead_id", leadID, "error", err)
		return
	}
	if status == model.LeadSuccess || status == model.LeadFailed {
		r.logger.Info("lead_settled", "lead_id", leadID, "status", status)
	}
}

// maintenanceLoop periodically requeues expired processing leases and,
// when retention is enabled, deletes old terminal rows.
func (r *Runner) maintenanceLoop(ctx context.Context) {
	reclaimInterval := time.Duration(r.cfg.Queue.ReclaimIntervalSec) * time.Second
	if reclaimInterval <= 0 {
		reclaimInterval = time.Minute
	}

	cleanupInterval := time.Duration(r.cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}

	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()

	var lastCleanup time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := r.store.ReclaimExpiredJobs(ctx); err != nil {
			r.logger.Error("reclaim_failed", "error", err)
		} else if n > 0 {
			metrics.RecordJobsReclaimed(n)
			r.logger.Warn("jobs_reclaimed", "count", n)
		}

		if !r.cfg.Retention.Enabled {
			continue
		}
		now := r.now()
		if !lastCleanup.IsZero() && now.Sub(lastCleanup) < cleanupInterval {
			continue
		}
		lastCleanup = now
		r.cleanup(ctx, now)
	}
}

func (r *Runner) cleanup(ctx context.Context, now time.Time) {
	jobsDays := r.cfg.Retention.JobsDays
	if jobsDays <= 0 {
		jobsDays = 30
	}
	leadsDays := r.cfg.Retention.LeadsDays
	if leadsDays <= 0 {
		leadsDays = 90
	}

	if n, err := r.store.DeleteExpiredJobs(ctx, now.AddDate(0, 0, -jobsDays)); err != nil {
		r.logger.Error("retention_jobs_failed", "error", err)
	} else if n > 0 {
		metrics.RecordRetentionDeleted("jobs", n)
		r.logger.Info("retention_jobs_deleted", "count", n)
	}

	if n, err := r.store.DeleteExpiredLeads(ctx, now.AddDate(0, 0, -leadsDays)); err != nil {
		r.logger.Error("retention_leads_failed", "error", err)
	} else if n > 0 {
		metrics.RecordRetentionDeleted("leads", n)
		r.logger.Info("retention_leads_deleted", "count", n)
	}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sqlc-dev/pqtype"

	"leadrelay/internal/model"
)

const leadColumns = `id, source, fingerprint, payload, status, sheet_delivered_at, crm_delivered_at, created_at, updated_at`

const jobColumns = `id, lead_id, type, status, attempts, last_error, run_at, processing_deadline, result, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// NewID returns a time-ordered UUID, falling back to a random one when
// v7 generation is unavailable.
func NewID() uuid.UUID {
	if id, err := uuid.NewV7(); err == nil {
		return id
	}
	return uuid.New()
}

// --- Leads ---

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO leads (id, source, fingerprint, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lead.ID, lead.Source, lead.Fingerprint, lead.Payload, lead.Status,
		lead.CreatedAt, lead.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	return nil
}

// CreateLeadWithJobs persists a lead and its delivery jobs in one
// transaction: an acknowledged lead always has its jobs, and a failed
// ingest leaves no row behind for dedupe to trip over. The lead is
// committed already in queued status. A concurrent insert of the same
// fingerprint loses to the partial unique index on active leads and
// surfaces as ErrDuplicateFingerprint.
func (s *PostgresStore) CreateLeadWithJobs(ctx context.Context, lead *model.Lead, types []model.JobType) ([]*model.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create lead with jobs: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO leads (id, source, fingerprint, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lead.ID, lead.Source, lead.Fingerprint, lead.Payload, model.LeadQueued,
		lead.CreatedAt, lead.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateFingerprint
		}
		return nil, fmt.Errorf("create lead with jobs: insert lead: %w", err)
	}

	jobs := make([]*model.Job, 0, len(types))
	for _, t := range types {
		row := tx.QueryRow(ctx,
			`INSERT INTO jobs (id, lead_id, type, status, attempts, run_at)
			 VALUES ($1, $2, $3, $4, 0, now())
			 RETURNING `+jobColumns,
			NewID(), lead.ID, t, model.JobQueued)
		job, err := scanJob(row)
		if err != nil {
			return nil, fmt.Errorf("create lead with jobs: enqueue %s: %w", t, err)
		}
		jobs = append(jobs, job)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create lead with jobs: commit: %w", err)
	}
	lead.Status = model.LeadQueued
	return jobs, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id uuid.UUID) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

// FindLeadByFingerprint returns the most recent non-duplicate lead
// with the given fingerprint, used by ingestion for dedupe.
func (s *PostgresStore) FindLeadByFingerprint(ctx context.Context, fingerprint string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE fingerprint = $1 AND status <> $2
		 ORDER BY created_at DESC LIMIT 1`,
		fingerprint, model.LeadDuplicate)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find lead by fingerprint: %w", err)
	}
	return lead, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]*model.Lead, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argIdx))
		args = append(args, filter.Source)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(
		`SELECT `+leadColumns+` FROM leads WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		strings.Join(conditions, " AND "), argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var leads []*model.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// MarkLeadDelivered stamps the per-target delivery timestamp. This is
// handler bookkeeping only; the aggregate lead status is untouched.
func (s *PostgresStore) MarkLeadDelivered(ctx context.Context, id uuid.UUID, target model.JobType, at time.Time) error {
	var column string
	switch target {
	case model.JobTypeSheetAppend:
		column = "sheet_delivered_at"
	case model.JobTypeCRMPush:
		column = "crm_delivered_at"
	default:
		return fmt.Errorf("mark lead delivered: unknown target %q", target)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET `+column+` = $2, updated_at = now() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark lead delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

// EnqueueJobs creates one queued job per requested type for a lead, all
// eligible immediately, and moves a fresh lead to queued. Callers must
// have durably persisted the lead first.
func (s *PostgresStore) EnqueueJobs(ctx context.Context, leadID uuid.UUID, types []model.JobType) ([]*model.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("enqueue jobs: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	jobs := make([]*model.Job, 0, len(types))
	for _, t := range types {
		row := tx.QueryRow(ctx,
			`INSERT INTO jobs (id, lead_id, type, status, attempts, run_at)
			 VALUES ($1, $2, $3, $4, 0, now())
			 RETURNING `+jobColumns,
			NewID(), leadID, t, model.JobQueued)
		job, err := scanJob(row)
		if err != nil {
			return nil, fmt.Errorf("enqueue job %s: %w", t, err)
		}
		jobs = append(jobs, job)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE leads SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		leadID, model.LeadQueued, model.LeadNew); err != nil {
		return nil, fmt.Errorf("enqueue jobs: update lead: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("enqueue jobs: commit: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*model.Job, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, filter.Type)
		argIdx++
	}
	if filter.LeadID != nil {
		conditions = append(conditions, fmt.Sprintf("lead_id = $%d", argIdx))
		args = append(args, *filter.LeadID)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(
		`SELECT `+jobColumns+` FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		strings.Join(conditions, " AND "), argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// --- Claim protocol ---

// ClaimNextJob atomically selects the oldest-due queued job, moves it
// to processing, increments its attempt counter, and returns the
// post-transition row. FOR UPDATE SKIP LOCKED makes the select+update
// indivisible with respect to concurrent claimers: each job is handed
// to at most one of them. Returns (nil, nil) when nothing is due.
//
// The attempts increment commits before the handler ever runs, so a
// crash mid-handler surfaces as one more failed attempt after the
// processing lease expires, never as a silently lost attempt.
func (s *PostgresStore) ClaimNextJob(ctx context.Context, lease time.Duration) (*model.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim job: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`UPDATE jobs
		    SET status = $1,
		        attempts = attempts + 1,
		        processing_deadline = now() + make_interval(secs => $2),
		        updated_at = now()
		  WHERE id = (
		        SELECT id FROM jobs
		         WHERE status = $3 AND run_at <= now()
		         ORDER BY run_at ASC
		         LIMIT 1
		         FOR UPDATE SKIP LOCKED)
		  RETURNING `+jobColumns,
		model.JobProcessing, lease.Seconds(), model.JobQueued)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	// A lead with its first job in flight reads as processing. Derived
	// from the job transition inside the same transaction, so the lead
	// is never ahead of its jobs.
	if _, err := tx.Exec(ctx,
		`UPDATE leads SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		job.LeadID, model.LeadProcessing, model.LeadQueued); err != nil {
		return nil, fmt.Errorf("claim job: update lead: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claim job: commit: %w", err)
	}
	return job, nil
}

// CompleteJob moves a processing job to completed, storing the sink's
// response when one was returned.
func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	res := pqtype.NullRawMessage{RawMessage: result, Valid: len(result) > 0}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		    SET status = $2, result = $3, processing_deadline = NULL, updated_at = now()
		  WHERE id = $1 AND status = $4`,
		id, model.JobCompleted, res, model.JobProcessing)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return s.checkTransition(ctx, id, tag.RowsAffected())
}

// RequeueJob returns a processing job to queued for a delayed retry.
func (s *PostgresStore) RequeueJob(ctx context.Context, id uuid.UUID, lastError string, runAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		    SET status = $2, last_error = $3, run_at = $4, processing_deadline = NULL, updated_at = now()
		  WHERE id = $1 AND status = $5`,
		id, model.JobQueued, lastError, runAt, model.JobProcessing)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return s.checkTransition(ctx, id, tag.RowsAffected())
}

// FailJob moves a processing job to its terminal failed state.
func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, lastError string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		    SET status = $2, last_error = $3, processing_deadline = NULL, updated_at = now()
		  WHERE id = $1 AND status = $4`,
		id, model.JobFailed, lastError, model.JobProcessing)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return s.checkTransition(ctx, id, tag.RowsAffected())
}

// checkTransition distinguishes a missing job from a guarded update
// that matched no rows because the job was not in the expected status.
func (s *PostgresStore) checkTransition(ctx context.Context, id uuid.UUID, affected int64) error {
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

// ReclaimExpiredJobs requeues jobs whose processing lease has expired,
// typically after a worker crash. Attempts are not incremented here:
// the claim that took the lease already counted the attempt.
func (s *PostgresStore) ReclaimExpiredJobs(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		    SET status = $1, processing_deadline = NULL, updated_at = now()
		  WHERE status = $2
		    AND processing_deadline IS NOT NULL
		    AND processing_deadline < now()`,
		model.JobQueued, model.JobProcessing)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Aggregation ---

// RecomputeLeadStatus derives the lead's aggregate status from its
// jobs. While any job is still pending the lead is left untouched; a
// single permanently failed target fails the whole lead even when the
// others delivered. The lead row is locked first so a concurrent admin
// retry cannot interleave between the count and the write.
func (s *PostgresStore) RecomputeLeadStatus(ctx context.Context, leadID uuid.UUID) (model.LeadStatus, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("recompute lead status: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current model.LeadStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM leads WHERE id = $1 FOR UPDATE`, leadID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("recompute lead status: lock lead: %w", err)
	}

	var pending, failed int64
	err = tx.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE status IN ($2, $3)),
		        count(*) FILTER (WHERE status = $4)
		   FROM jobs WHERE lead_id = $1`,
		leadID, model.JobQueued, model.JobProcessing, model.JobFailed).Scan(&pending, &failed)
	if err != nil {
		return "", fmt.Errorf("recompute lead status: count jobs: %w", err)
	}

	if pending > 0 {
		// Still in flight; terminal judgment is suppressed.
		return current, tx.Commit(ctx)
	}

	next := model.LeadSuccess
	if failed > 0 {
		next = model.LeadFailed
	}

	if _, err := tx.Exec(ctx,
		`UPDATE leads SET status = $2, updated_at = now() WHERE id = $1`,
		leadID, next); err != nil {
		return "", fmt.Errorf("recompute lead status: update lead: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("recompute lead status: commit: %w", err)
	}
	return next, nil
}

// RetryFailedLead resets all failed jobs of a lead back to queued with
// a clean attempt counter and moves the lead itself to queued. This is
// the only externally permitted reverse transition. When the lead has
// no failed jobs the call is a no-op and neither the lead nor any job
// is mutated.
func (s *PostgresStore) RetryFailedLead(ctx context.Context, leadID uuid.UUID) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("retry failed lead: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM leads WHERE id = $1 FOR UPDATE`, leadID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("retry failed lead: lock lead: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs
		    SET status = $2, attempts = 0, last_error = NULL, run_at = now(), updated_at = now()
		  WHERE lead_id = $1 AND status = $3`,
		leadID, model.JobQueued, model.JobFailed)
	if err != nil {
		return 0, fmt.Errorf("retry failed lead: reset jobs: %w", err)
	}

	reset := tag.RowsAffected()
	if reset == 0 {
		return 0, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE leads SET status = $2, updated_at = now() WHERE id = $1`,
		leadID, model.LeadQueued); err != nil {
		return 0, fmt.Errorf("retry failed lead: update lead: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("retry failed lead: commit: %w", err)
	}
	return reset, nil
}

// --- Retention ---

// DeleteExpiredJobs deletes terminal jobs older than the cutoff.
func (s *PostgresStore) DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs
		  WHERE status IN ($1, $2) AND updated_at < $3`,
		model.JobCompleted, model.JobFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredLeads deletes terminal leads older than the cutoff.
// Leads with any pending job are never touched; job rows cascade.
func (s *PostgresStore) DeleteExpiredLeads(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM leads
		  WHERE status IN ($1, $2, $3)
		    AND updated_at < $4
		    AND NOT EXISTS (
		        SELECT 1 FROM jobs
		         WHERE jobs.lead_id = leads.id AND jobs.status IN ($5, $6))`,
		model.LeadSuccess, model.LeadFailed, model.LeadDuplicate, cutoff,
		model.JobQueued, model.JobProcessing)
	if err != nil {
		return 0, fmt.Errorf("delete expired leads: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*model.Lead, error) {
	var lead model.Lead
	if err := row.Scan(&lead.ID, &lead.Source, &lead.Fingerprint, &lead.Payload,
		&lead.Status, &lead.SheetDeliveredAt, &lead.CRMDeliveredAt,
		&lead.CreatedAt, &lead.UpdatedAt); err != nil {
		return nil, err
	}
	return &lead, nil
}

func scanJob(row rowScanner) (*model.Job, error) {
	var job model.Job
	if err := row.Scan(&job.ID, &job.LeadID, &job.Type, &job.Status, &job.Attempts,
		&job.LastError, &job.RunAt, &job.ProcessingDeadline, &job.Result,
		&job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

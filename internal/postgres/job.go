package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crowdchurn/billing/internal/domain"
)

// JobStore persists dunning timers on PostgreSQL.
type JobStore struct {
	pool *pgxpool.Pool
}

var _ domain.JobStore = (*JobStore)(nil)

// NewJobStore creates a new PostgreSQL-backed job store.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Schedule arms the timer for the (type, subscription) pair. The unique
// constraint makes a repeat schedule move the existing timer rather than
// create a second job.
func (s *JobStore) Schedule(ctx context.Context, jobType string, subscriptionID uuid.UUID, runAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_jobs (id, job_type, subscription_id, run_at, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (job_type, subscription_id)
		DO UPDATE SET run_at = EXCLUDED.run_at`,
		uuid.New(), jobType, subscriptionID, runAt)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, "job.schedule", "failed to schedule job")
	}
	return nil
}

// Claim removes and returns up to limit due jobs. SKIP LOCKED lets multiple
// workers poll the same table without handing out the same job twice.
func (s *JobStore) Claim(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM scheduled_jobs
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE run_at <= $1
			ORDER BY run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_type, subscription_id, run_at, created_at`,
		now, limit)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "job.claim", "failed to claim due jobs")
	}
	defer rows.Close()

	var jobs []domain.ScheduledJob
	for rows.Next() {
		var job domain.ScheduledJob
		if err := rows.Scan(&job.ID, &job.Type, &job.SubscriptionID, &job.RunAt, &job.CreatedAt); err != nil {
			return nil, domain.WrapError(err, domain.EINTERNAL, "job.claim", "failed to scan job row")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "job.claim", "failed to read job rows")
	}
	return jobs, nil
}

// Cancel disarms the timer for the pair. Cancelling an absent job is a no-op.
func (s *JobStore) Cancel(ctx context.Context, jobType string, subscriptionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM scheduled_jobs
		WHERE job_type = $1 AND subscription_id = $2`,
		jobType, subscriptionID)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, "job.cancel", "failed to cancel job")
	}
	return nil
}

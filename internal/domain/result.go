package domain

import "time"

// Result is the materialized output of a completed job. Exactly one row
// exists per job_id; the unique constraint on job_id is what guards against
// double materialization.
type Result struct {
	JobID         string    `db:"job_id"`
	Payload       string    `db:"payload"`
	Metadata      string    `db:"metadata"`
	ProjectName   string    `db:"project_name"`
	UpstreamJobID string    `db:"upstream_job_id"`
	APIVersion    string    `db:"api_version"`
	GeneratedAt   time.Time `db:"generated_at"`
	CreatedAt     time.Time `db:"created_at"`
}

// CreditEvent is one billable entry in the append-only credit ledger. The
// unique constraint on job_id enforces at-most-once billing per job.
type CreditEvent struct {
	ID        int64     `db:"id"`
	UserID    string    `db:"user_id"`
	JobID     string    `db:"job_id"`
	JobType   string    `db:"job_type"`
	Credits   int       `db:"credits"`
	CreatedAt time.Time `db:"created_at"`
}

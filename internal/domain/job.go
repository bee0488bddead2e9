package domain

import (
	"database/sql"
	"strings"
	"time"
)

// Job status constants. A job moves pending -> processing -> completed/failed.
// Completed and failed are terminal: no component may transition a job out of
// them again.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// IsTerminalStatus reports whether the given status permits no further
// transitions. Comparison is case-insensitive because historical rows carry
// mixed-case values.
func IsTerminalStatus(status string) bool {
	switch strings.ToLower(status) {
	case JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Job represents a content-generation job tracked against the upstream API.
type Job struct {
	JobID             string         `db:"job_id"`
	ExecutionID       string         `db:"execution_id"`
	IdempotencyKey    string         `db:"idempotency_key"`
	UserID            string         `db:"user_id"`
	JobType           string         `db:"job_type"`
	TargetApproach    string         `db:"target_approach"`
	Status            string         `db:"status"`
	Progress          int            `db:"progress"`
	ParentJobID       sql.NullString `db:"parent_job_id"`
	AvatarPersonaName sql.NullString `db:"avatar_persona_name"`
	Payload           string         `db:"payload"`
	ErrorMessage      sql.NullString `db:"error_message"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

// IsTerminal reports whether the job has reached a terminal status.
func (j *Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

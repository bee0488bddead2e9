package dto

import "encoding/json"

// CreateJobRequest is the submission payload for a new generation job.
// AvatarPersonas optionally fans the job out into one child job per persona.
type CreateJobRequest struct {
	IdempotencyKey string          `json:"idempotency_key" binding:"required"`
	UserID         string          `json:"user_id" binding:"required"`
	JobType        string          `json:"job_type" binding:"required"`
	TargetApproach string          `json:"target_approach" binding:"required"`
	Payload        json.RawMessage `json:"payload" binding:"required"`
	AvatarPersonas []string        `json:"avatar_personas,omitempty"`
}

// CreateJobResponse echoes the created job and any avatar children.
type CreateJobResponse struct {
	Job      JobDTO   `json:"job"`
	Children []JobDTO `json:"children,omitempty"`
}

type ListJobsRequest struct {
	UserID   string `form:"user_id"`
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID             string `json:"job_id"`
	ExecutionID       string `json:"execution_id"`
	UserID            string `json:"user_id"`
	JobType           string `json:"job_type"`
	TargetApproach    string `json:"target_approach"`
	Status            string `json:"status"`
	Progress          int    `json:"progress"`
	ParentJobID       string `json:"parent_job_id,omitempty"`
	AvatarPersonaName string `json:"avatar_persona_name,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

// ResultDTO is the materialized output of a completed job.
type ResultDTO struct {
	JobID         string          `json:"job_id"`
	Payload       string          `json:"payload"`
	Metadata      json.RawMessage `json:"metadata"`
	ProjectName   string          `json:"project_name"`
	UpstreamJobID string          `json:"upstream_job_id"`
	APIVersion    string          `json:"api_version"`
	GeneratedAt   string          `json:"generated_at"`
}

// WebhookPayload is the body of an upstream job-status webhook. JobID may be
// either the internal job id or the upstream execution id.
type WebhookPayload struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// RecoverRequest tunes which statuses a recovery sweep re-verifies.
type RecoverRequest struct {
	IncludePending bool `json:"include_pending"`
	IncludeFailed  bool `json:"include_failed"`
}

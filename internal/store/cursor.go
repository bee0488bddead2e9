package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobCursor is an opaque pagination position over (created_at, job_id).
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// Encode renders the cursor as the opaque token handed back in list
// responses.
func (c *JobCursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.JobID
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeJobCursor parses a token produced by Encode. An empty token means
// the first page.
func DecodeJobCursor(token string) (*JobCursor, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	ts, jobID, ok := strings.Cut(string(raw), "|")
	if !ok || jobID == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
	}

	return &JobCursor{
		CreatedAt: time.Unix(0, nanos),
		JobID:     jobID,
	}, nil
}

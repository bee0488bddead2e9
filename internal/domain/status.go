package domain

import "strings"

// UpstreamPhase is the closed set of job phases reported by the upstream
// generation API. Raw provider strings are normalized into this enum at the
// upstream client boundary so nothing else in the system branches on provider
// values.
type UpstreamPhase string

const (
	PhaseSubmitted UpstreamPhase = "SUBMITTED"
	PhasePending   UpstreamPhase = "PENDING"
	PhaseRunning   UpstreamPhase = "RUNNING"
	PhaseSucceeded UpstreamPhase = "SUCCEEDED"
	PhaseFailed    UpstreamPhase = "FAILED"

	// PhaseUnknown covers any provider value outside the known set. The
	// status mapping treats it as failed so a job can never be left
	// non-terminal by an unrecognized upstream state.
	PhaseUnknown UpstreamPhase = "UNKNOWN"
)

// NormalizePhase converts a raw upstream status string into the closed enum.
func NormalizePhase(raw string) UpstreamPhase {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(PhaseSubmitted):
		return PhaseSubmitted
	case string(PhasePending):
		return PhasePending
	case string(PhaseRunning):
		return PhaseRunning
	case string(PhaseSucceeded):
		return PhaseSucceeded
	case string(PhaseFailed):
		return PhaseFailed
	default:
		return PhaseUnknown
	}
}

// StatusUpdate is the internal status and advisory progress derived from an
// upstream phase.
type StatusUpdate struct {
	Status string
	// Progress is advisory (0-100). A negative value means "retain the
	// job's current progress".
	Progress int
}

// MapPhase translates an upstream phase into the internal job status and
// progress. Unknown phases map to failed (fail-closed).
func MapPhase(phase UpstreamPhase) StatusUpdate {
	switch phase {
	case PhaseSubmitted:
		return StatusUpdate{Status: JobStatusProcessing, Progress: 25}
	case PhasePending:
		return StatusUpdate{Status: JobStatusProcessing, Progress: 30}
	case PhaseRunning:
		return StatusUpdate{Status: JobStatusProcessing, Progress: 50}
	case PhaseSucceeded:
		return StatusUpdate{Status: JobStatusCompleted, Progress: 100}
	case PhaseFailed:
		return StatusUpdate{Status: JobStatusFailed, Progress: -1}
	default:
		return StatusUpdate{Status: JobStatusFailed, Progress: -1}
	}
}

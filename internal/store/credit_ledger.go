package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/contentpilot/jobs-be/internal/domain"
	"github.com/contentpilot/jobs-be/shared/postgresql"
)

// CreditLedger appends billable events. The ledger is shared with the billing
// subsystem but this engine only ever appends; the unique index on job_id
// enforces at-most-once billing per job.
type CreditLedger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewCreditLedger creates a new CreditLedger instance
func NewCreditLedger(pg *postgresql.Client, logger *slog.Logger) *CreditLedger {
	return &CreditLedger{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// Append writes one credit event for a job. It returns true when the event
// was inserted, false when an event for the job already existed (a duplicate
// attempt is a successful no-op, not an error).
func (l *CreditLedger) Append(ctx context.Context, event *domain.CreditEvent) (bool, error) {
	query := `
		INSERT INTO credit_events (user_id, job_id, job_type, credits, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (job_id) DO NOTHING
	`

	res, err := l.db.ExecContext(ctx, query, event.UserID, event.JobID, event.JobType, event.Credits)
	if err != nil {
		// A unique violation can still surface here from a constraint other
		// than the ON CONFLICT target; treat it the same as a lost race.
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to append credit event: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		l.logger.Debug("Credit event already recorded, skipping",
			slog.String("job_id", event.JobID),
		)
		return false, nil
	}

	l.logger.Info("Credit event recorded",
		slog.String("job_id", event.JobID),
		slog.String("user_id", event.UserID),
		slog.String("job_type", event.JobType),
		slog.Int("credits", event.Credits),
	)

	return true, nil
}

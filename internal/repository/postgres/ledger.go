package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/storelane/fulfillment-api/internal/model"
	"github.com/storelane/fulfillment-api/internal/repository"
	apperrors "github.com/storelane/fulfillment-api/pkg/errors"
)

type ledgerRepository struct {
	BaseRepository
}

func NewLedgerRepository(base BaseRepository) repository.LedgerRepository {
	return &ledgerRepository{base}
}

// TryClaim reserves the event for the calling delivery. The insert relies
// on the unique constraint on event_id: ON CONFLICT DO NOTHING means a
// losing racer inserts zero rows, and only then do we read back whoever
// got there first. Never written as a read-then-insert pair.
func (r *ledgerRepository) TryClaim(ctx context.Context, eventID, eventType string) (*model.ClaimResult, error) {
	query := `
		INSERT INTO processing_records (event_id, event_type, status, attempt_count, claimed_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (event_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, eventID, eventType, model.ProcessingStatusClaimed, time.Now())
	if err != nil {
		return nil, apperrors.Transient("failed to claim event", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read claim result: %w", err)
	}

	if rows == 1 {
		return &model.ClaimResult{Claimed: true}, nil
	}

	existing, err := r.Lookup(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// The only way the insert conflicts and the read misses is a
		// concurrent claim that has not committed yet. Report it as owned
		// by the in-flight processor.
		existing = &model.ProcessingRecord{
			EventID:   eventID,
			EventType: eventType,
			Status:    model.ProcessingStatusClaimed,
		}
	}
	return &model.ClaimResult{Claimed: false, Existing: existing}, nil
}

// Commit transitions CLAIMED -> PROCESSED. The status guard makes a double
// commit, or a commit racing a timeout-driven failure, affect zero rows;
// that is an invariant violation, never silently swallowed.
func (r *ledgerRepository) Commit(ctx context.Context, eventID, result string) error {
	query := `
		UPDATE processing_records
		SET status = $1, result = $2, completed_at = $3
		WHERE event_id = $4 AND status = $5
	`

	res, err := r.db.ExecContext(ctx, query,
		model.ProcessingStatusProcessed, result, time.Now(), eventID, model.ProcessingStatusClaimed)
	if err != nil {
		return apperrors.Transient("failed to commit processing record", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read commit result: %w", err)
	}
	if rows == 0 {
		return apperrors.Invariant(fmt.Sprintf("commit on event %s which is not claimed", eventID), nil)
	}
	return nil
}

// Fail transitions CLAIMED -> FAILED. FAILED is terminal for the ledger;
// operator replays go through the failed-job channel, not a re-claim.
func (r *ledgerRepository) Fail(ctx context.Context, eventID, reason string) error {
	query := `
		UPDATE processing_records
		SET status = $1, result = $2, completed_at = $3
		WHERE event_id = $4 AND status = $5
	`

	res, err := r.db.ExecContext(ctx, query,
		model.ProcessingStatusFailed, reason, time.Now(), eventID, model.ProcessingStatusClaimed)
	if err != nil {
		return apperrors.Transient("failed to mark processing record failed", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read fail result: %w", err)
	}
	if rows == 0 {
		return apperrors.Invariant(fmt.Sprintf("fail on event %s which is not claimed", eventID), nil)
	}
	return nil
}

func (r *ledgerRepository) Lookup(ctx context.Context, eventID string) (*model.ProcessingRecord, error) {
	query := `
		SELECT event_id, event_type, status, result, attempt_count, claimed_at, completed_at
		FROM processing_records
		WHERE event_id = $1
	`

	var record model.ProcessingRecord
	err := r.db.GetContext(ctx, &record, query, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up processing record: %w", err)
	}
	return &record, nil
}

// DeleteProcessedBefore archives terminal records past the retention
// window. The ledger is append-only during processing; this is the only
// deletion path and runs from the background worker.
func (r *ledgerRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM processing_records
		WHERE status IN ($1, $2)
		AND completed_at < $3
	`

	result, err := r.db.ExecContext(ctx, query,
		model.ProcessingStatusProcessed, model.ProcessingStatusFailed, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed records: %w", err)
	}
	return result.RowsAffected()
}

// ReleaseStaleClaims deletes CLAIMED records older than before. A claim that
// old means the claiming process died between claim and commit, and every
// redelivery since has been absorbed as a duplicate. Deleting the claim lets
// the provider's next redelivery re-claim and rerun the event; the engine's
// order-state no-ops make the rerun safe if the work already committed.
func (r *ledgerRepository) ReleaseStaleClaims(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM processing_records
		WHERE status = $1
		AND claimed_at < $2
	`

	result, err := r.db.ExecContext(ctx, query, model.ProcessingStatusClaimed, before)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}
	return result.RowsAffected()
}

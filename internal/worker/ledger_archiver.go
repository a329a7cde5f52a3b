package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/storelane/fulfillment-api/internal/repository"
	"github.com/storelane/fulfillment-api/pkg/logger"
)

// LedgerArchiver maintains the processing ledger in the background: it
// deletes terminal records past the retention window and releases claims
// abandoned by a crashed processor so their events become processable on
// the next redelivery.
type LedgerArchiver struct {
	ledger        repository.LedgerRepository
	retentionDays int
	sweepInterval time.Duration
	claimTTL      time.Duration
	logger        *logger.Logger
}

func NewLedgerArchiver(ledger repository.LedgerRepository, retentionDays int, sweepInterval, claimTTL time.Duration, logger *logger.Logger) *LedgerArchiver {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	if claimTTL <= 0 {
		claimTTL = 15 * time.Minute
	}
	return &LedgerArchiver{
		ledger:        ledger,
		retentionDays: retentionDays,
		sweepInterval: sweepInterval,
		claimTTL:      claimTTL,
		logger:        logger,
	}
}

func (w *LedgerArchiver) Start(ctx context.Context) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	w.logger.Info("Starting ledger archiver")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down ledger archiver")
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logger.Error(err, "ledger sweep failed")
			}
		}
	}
}

func (w *LedgerArchiver) sweep(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	rows, err := w.ledger.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to archive processing records: %w", err)
	}
	if rows > 0 {
		w.logger.Info("archived processing records", "deleted", rows, "cutoff", cutoff.Format(time.RFC3339))
	}

	released, err := w.ledger.ReleaseStaleClaims(ctx, time.Now().Add(-w.claimTTL))
	if err != nil {
		return fmt.Errorf("failed to release stale claims: %w", err)
	}
	if released > 0 {
		// Each of these is an event whose processor died mid-flight. The
		// provider redelivers on its own schedule and will re-claim.
		w.logger.Warn("released stale claims", "released", released)
	}
	return nil
}

package worker_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/storelane/fulfillment-api/internal/model"
	"github.com/storelane/fulfillment-api/internal/worker"
	"github.com/storelane/fulfillment-api/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
}

// sweepLedger records the cutoffs each sweep uses. The release call signals
// last in the sweep, so observing it means the delete ran too.
type sweepLedger struct {
	mu            sync.Mutex
	deleteBefore  time.Time
	releaseBefore time.Time
	swept         chan struct{}
}

func (l *sweepLedger) TryClaim(context.Context, string, string) (*model.ClaimResult, error) {
	return &model.ClaimResult{Claimed: true}, nil
}

func (l *sweepLedger) Commit(context.Context, string, string) error { return nil }

func (l *sweepLedger) Fail(context.Context, string, string) error { return nil }

func (l *sweepLedger) Lookup(context.Context, string) (*model.ProcessingRecord, error) {
	return nil, nil
}

func (l *sweepLedger) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleteBefore = before
	return 3, nil
}

func (l *sweepLedger) ReleaseStaleClaims(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	l.releaseBefore = before
	l.mu.Unlock()

	select {
	case l.swept <- struct{}{}:
	default:
	}
	return 1, nil
}

func TestArchiverSweepsExpiredRecordsAndStaleClaims(t *testing.T) {
	ledger := &sweepLedger{swept: make(chan struct{}, 1)}
	archiver := worker.NewLedgerArchiver(ledger, 30, 5*time.Millisecond, 10*time.Minute, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go archiver.Start(ctx)

	select {
	case <-ledger.swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never ran")
	}
	cancel()

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -30), ledger.deleteBefore, time.Minute,
		"terminal records kept for the retention window")
	assert.WithinDuration(t, time.Now().Add(-10*time.Minute), ledger.releaseBefore, time.Minute,
		"claims older than the TTL are released for redelivery")
}

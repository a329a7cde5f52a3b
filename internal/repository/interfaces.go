package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/storelane/fulfillment-api/internal/model"
)

// LedgerRepository is the idempotency ledger. TryClaim must be atomic with
// respect to concurrent callers racing on the same event ID: exactly one
// caller wins the claim, everyone else reads back the existing record.
type LedgerRepository interface {
	TryClaim(ctx context.Context, eventID, eventType string) (*model.ClaimResult, error)
	Commit(ctx context.Context, eventID, result string) error
	Fail(ctx context.Context, eventID, reason string) error
	Lookup(ctx context.Context, eventID string) (*model.ProcessingRecord, error)
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	ReleaseStaleClaims(ctx context.Context, before time.Time) (int64, error)
}

// FulfillmentStore is the persistence surface owned by the fulfillment
// engine. CompleteOrder and RefundOrder each run as a single transaction so
// the order status flip and the entitlement mutation are all-or-nothing.
type FulfillmentStore interface {
	OrderByProviderSession(ctx context.Context, sessionID string) (*model.Order, error)
	CompleteOrder(ctx context.Context, orderID uuid.UUID) error
	RefundOrder(ctx context.Context, orderID uuid.UUID) error
	EntitlementsForUser(ctx context.Context, userID uuid.UUID) ([]*model.Entitlement, error)
}

// FailedJobRepository persists dead-lettered fulfillment attempts. The
// state-guarded updates return a conflict error when the job is not in a
// state that allows the transition.
type FailedJobRepository interface {
	Create(ctx context.Context, job *model.FailedJob) error
	Get(ctx context.Context, id uuid.UUID) (*model.FailedJob, error)
	List(ctx context.Context, status model.FailedJobStatus, limit int) ([]*model.FailedJob, error)
	MarkRetrying(ctx context.Context, id uuid.UUID) error
	MarkResolved(ctx context.Context, id uuid.UUID) error
	MarkPending(ctx context.Context, id uuid.UUID, errMsg string) error
	Abandon(ctx context.Context, id uuid.UUID) error
	CountPending(ctx context.Context) (int, error)
}

package model

import (
	"encoding/json"
	"time"
)

// Event types delivered by the payment provider.
const (
	EventCheckoutCompleted = "checkout.completed"
	EventChargeRefunded    = "charge.refunded"
)

// ExternalEvent is one provider notification. The provider may redeliver it
// any number of times, possibly concurrently, so it is only ever referenced
// by ID here, never mutated.
type ExternalEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"data"`
}

// EventPayload is the portion of the provider payload that fulfillment
// consumes.
type EventPayload struct {
	ProviderSessionID string `json:"session_id"`
	Reason            string `json:"reason,omitempty"`
}

type ProcessingStatus string

const (
	ProcessingStatusClaimed   ProcessingStatus = "CLAIMED"
	ProcessingStatusProcessed ProcessingStatus = "PROCESSED"
	ProcessingStatusFailed    ProcessingStatus = "FAILED"
)

// ProcessingRecord is one row of the idempotency ledger, keyed uniquely by
// the provider event ID. At most one record exists per event, and the
// CLAIMED -> PROCESSED/FAILED transition happens at most once.
type ProcessingRecord struct {
	EventID      string           `db:"event_id" json:"event_id"`
	EventType    string           `db:"event_type" json:"event_type"`
	Status       ProcessingStatus `db:"status" json:"status"`
	Result       *string          `db:"result" json:"result,omitempty"`
	AttemptCount int              `db:"attempt_count" json:"attempt_count"`
	ClaimedAt    time.Time        `db:"claimed_at" json:"claimed_at"`
	CompletedAt  *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// Terminal reports whether the record can no longer change.
func (r *ProcessingRecord) Terminal() bool {
	return r.Status == ProcessingStatusProcessed || r.Status == ProcessingStatusFailed
}

// ClaimResult is the outcome of an atomic claim attempt. Exactly one of N
// concurrent callers for the same event ID observes Claimed == true.
type ClaimResult struct {
	Claimed  bool
	Existing *ProcessingRecord
}

package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type FailedJobStatus string

const (
	FailedJobStatusPending   FailedJobStatus = "PENDING"
	FailedJobStatusRetrying  FailedJobStatus = "RETRYING"
	FailedJobStatusResolved  FailedJobStatus = "RESOLVED"
	FailedJobStatusAbandoned FailedJobStatus = "ABANDONED"
)

// FailedJob records a fulfillment attempt that exhausted automated
// recovery. The original event payload is stored verbatim so an operator
// can replay it once the root cause is fixed.
type FailedJob struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	JobType     string          `db:"job_type" json:"job_type"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Error       string          `db:"error" json:"error"`
	Status      FailedJobStatus `db:"status" json:"status"`
	Attempts    int             `db:"attempts" json:"attempts"`
	MaxAttempts int             `db:"max_attempts" json:"max_attempts"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	RetriedAt   *time.Time      `db:"retried_at" json:"retried_at,omitempty"`
	ResolvedAt  *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Terminal reports whether the job can no longer be retried or abandoned.
func (j *FailedJob) Terminal() bool {
	return j.Status == FailedJobStatusResolved || j.Status == FailedJobStatusAbandoned
}

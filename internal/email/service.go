package email

import (
	"context"

	"github.com/storelane/fulfillment-api/internal/model"
)

// Sender delivers one email and returns a provider-side message ID. It is
// fallible and best-effort: callers log failures, nothing upstream blocks
// on delivery.
type Sender interface {
	Send(ctx context.Context, msg model.EmailMessage) (string, error)
}

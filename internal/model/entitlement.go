package model

import (
	"time"

	"github.com/google/uuid"
)

// Entitlement grants one user access to one product. At most one row exists
// per (user, product) pair, so granting is always an upsert and a duplicate
// fulfillment attempt is idempotent at the data layer even if the ledger
// were bypassed. Revocation deactivates, never deletes.
type Entitlement struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	ProductID uuid.UUID  `db:"product_id" json:"product_id"`
	OrderID   *uuid.UUID `db:"order_id" json:"order_id,omitempty"`
	Active    bool       `db:"active" json:"active"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

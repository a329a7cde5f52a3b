package model

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusRefunded  OrderStatus = "refunded"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order represents one purchase attempt. Status moves one way per branch:
// pending -> completed -> refunded, or pending -> refunded when the refund
// arrives before the completion was ever observed. Repeating a transition
// the order is already in is a no-op, not an error.
type Order struct {
	ID                uuid.UUID   `db:"id" json:"id"`
	UserID            uuid.UUID   `db:"user_id" json:"user_id"`
	Status            OrderStatus `db:"status" json:"status"`
	CustomerEmail     string      `db:"customer_email" json:"customer_email"`
	AmountInCents     int64       `db:"amount_in_cents" json:"amount_in_cents"`
	Currency          string      `db:"currency" json:"currency"`
	ProviderSessionID string      `db:"provider_session_id" json:"provider_session_id"`
	FulfilledAt       *time.Time  `db:"fulfilled_at" json:"fulfilled_at,omitempty"`
	RefundedAt        *time.Time  `db:"refunded_at" json:"refunded_at,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}

// OrderItem links an order to one purchased product.
type OrderItem struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OrderID   uuid.UUID `db:"order_id" json:"order_id"`
	ProductID uuid.UUID `db:"product_id" json:"product_id"`
}

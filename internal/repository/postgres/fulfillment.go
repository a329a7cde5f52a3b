package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/storelane/fulfillment-api/internal/model"
	"github.com/storelane/fulfillment-api/internal/repository"
	apperrors "github.com/storelane/fulfillment-api/pkg/errors"
)

type fulfillmentStore struct {
	BaseRepository
}

func NewFulfillmentStore(base BaseRepository) repository.FulfillmentStore {
	return &fulfillmentStore{base}
}

func (s *fulfillmentStore) OrderByProviderSession(ctx context.Context, sessionID string) (*model.Order, error) {
	query := `
		SELECT id, user_id, status, customer_email, amount_in_cents, currency,
		       provider_session_id, fulfilled_at, refunded_at, created_at, updated_at
		FROM orders
		WHERE provider_session_id = $1
	`

	var order model.Order
	err := s.db.GetContext(ctx, &order, query, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by provider session: %w", err)
	}
	return &order, nil
}

// CompleteOrder marks the order completed and grants an entitlement for
// each of its items in one transaction. A crash between the two writes must
// never leave a completed order with no entitlements, or the reverse.
func (s *fulfillmentStore) CompleteOrder(ctx context.Context, orderID uuid.UUID) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now()

		result, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1, fulfilled_at = $2, updated_at = $2
			WHERE id = $3 AND status = $4
		`, model.OrderStatusCompleted, now, orderID, model.OrderStatusPending)
		if err != nil {
			return fmt.Errorf("failed to complete order: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			// A concurrent transition won the race; the guarded update is
			// the arbiter, not the caller's earlier status read.
			return apperrors.Conflict(fmt.Sprintf("order %s is not pending", orderID), nil)
		}

		var items []*model.OrderItem
		if err := tx.SelectContext(ctx, &items, `
			SELECT id, order_id, product_id FROM order_items WHERE order_id = $1
		`, orderID); err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}

		var userID uuid.UUID
		if err := tx.GetContext(ctx, &userID, `SELECT user_id FROM orders WHERE id = $1`, orderID); err != nil {
			return fmt.Errorf("failed to load order user: %w", err)
		}

		// Upsert keyed on (user_id, product_id): a replayed grant
		// reactivates the existing row instead of inserting a duplicate.
		for _, item := range items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entitlements (id, user_id, product_id, order_id, active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, TRUE, $5, $5)
				ON CONFLICT (user_id, product_id)
				DO UPDATE SET active = TRUE, order_id = EXCLUDED.order_id, updated_at = EXCLUDED.updated_at
			`, uuid.New(), userID, item.ProductID, orderID, now); err != nil {
				return fmt.Errorf("failed to upsert entitlement: %w", err)
			}
		}

		return nil
	})
}

// RefundOrder marks the order refunded and deactivates its entitlements in
// one transaction. Works from pending too, which is how a refund that
// arrives before the completion voids the order. Entitlement rows are kept
// for the audit trail.
func (s *fulfillmentStore) RefundOrder(ctx context.Context, orderID uuid.UUID) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now()

		result, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1, refunded_at = $2, updated_at = $2
			WHERE id = $3 AND status IN ($4, $5)
		`, model.OrderStatusRefunded, now, orderID, model.OrderStatusPending, model.OrderStatusCompleted)
		if err != nil {
			return fmt.Errorf("failed to refund order: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return apperrors.Conflict(fmt.Sprintf("order %s is not refundable", orderID), nil)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE entitlements
			SET active = FALSE, updated_at = $1
			WHERE order_id = $2
		`, now, orderID); err != nil {
			return fmt.Errorf("failed to deactivate entitlements: %w", err)
		}

		return nil
	})
}

func (s *fulfillmentStore) EntitlementsForUser(ctx context.Context, userID uuid.UUID) ([]*model.Entitlement, error) {
	query := `
		SELECT id, user_id, product_id, order_id, active, expires_at, created_at, updated_at
		FROM entitlements
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	var entitlements []*model.Entitlement
	if err := s.db.SelectContext(ctx, &entitlements, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	return entitlements, nil
}

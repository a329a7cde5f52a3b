package fulfillment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/storelane/fulfillment-api/internal/model"
	"github.com/storelane/fulfillment-api/internal/repository"
	apperrors "github.com/storelane/fulfillment-api/pkg/errors"
	"github.com/storelane/fulfillment-api/pkg/featureflag"
	"github.com/storelane/fulfillment-api/pkg/logger"
	"github.com/storelane/fulfillment-api/pkg/messaging"
	"github.com/storelane/fulfillment-api/pkg/metrics"
)

// FlagEmailNotifications gates customer email dispatch.
const FlagEmailNotifications = "email_notifications"

// Outcome of one fulfillment operation.
const (
	OutcomeFulfilled        = "fulfilled"
	OutcomeAlreadyFulfilled = "already_fulfilled"
	OutcomeRefunded         = "refunded"
	OutcomeAlreadyRefunded  = "already_refunded"
	OutcomeSkipped          = "skipped"
)

// Result summarizes what a fulfillment call actually did, so the webhook
// processor can record it on the ledger.
type Result struct {
	Outcome string
	OrderID uuid.UUID
}

func (r Result) String() string {
	return fmt.Sprintf("%s order=%s", r.Outcome, r.OrderID)
}

// Service owns Order and Entitlement state. Every mutation goes through the
// store's transactions, and every path is a safe no-op when the order is
// already in the target state, as a second idempotence layer beneath the
// ledger.
type Service struct {
	store   repository.FulfillmentStore
	broker  messaging.Broker
	flags   *featureflag.Registry
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewService(
	store repository.FulfillmentStore,
	broker messaging.Broker,
	flags *featureflag.Registry,
	metrics *metrics.Metrics,
	logger *logger.Logger,
) *Service {
	return &Service{
		store:   store,
		broker:  broker,
		flags:   flags,
		metrics: metrics,
		logger:  logger,
	}
}

// FulfillOrder completes the order correlated to the provider session and
// grants its entitlements. A missing order is fatal, not transient: it
// means checkout never recorded the purchase, and retrying cannot fix that.
func (s *Service) FulfillOrder(ctx context.Context, providerSessionID string) (Result, error) {
	order, err := s.store.OrderByProviderSession(ctx, providerSessionID)
	if err != nil {
		return Result{}, apperrors.Transient("failed to load order", err)
	}
	if order == nil {
		return Result{}, apperrors.NotFound("order", fmt.Errorf("provider session %s", providerSessionID))
	}

	switch order.Status {
	case model.OrderStatusCompleted:
		return Result{Outcome: OutcomeAlreadyFulfilled, OrderID: order.ID}, nil
	case model.OrderStatusRefunded, model.OrderStatusFailed:
		// The refund was observed before the completion. The money is
		// already on its way back, so the grant is skipped, not an error.
		s.logger.Warn("completion arrived for terminal order",
			"order_id", order.ID.String(), "status", string(order.Status))
		return Result{Outcome: OutcomeSkipped, OrderID: order.ID}, nil
	}

	if err := s.store.CompleteOrder(ctx, order.ID); err != nil {
		if apperrors.IsConflict(err) {
			// A concurrent refund or duplicate completion flipped the order
			// between our status read and the guarded update. Whoever won
			// owns the terminal state; this delivery has nothing left to do.
			s.logger.Warn("completion lost the race on order state",
				"order_id", order.ID.String())
			return Result{Outcome: OutcomeSkipped, OrderID: order.ID}, nil
		}
		return Result{}, apperrors.Transient("failed to complete order", err)
	}

	s.metrics.OrdersFulfilled.Inc()
	s.queueEmail(ctx, order.CustomerEmail,
		"Your purchase is ready",
		fmt.Sprintf("<p>Thanks for your purchase. Order <strong>%s</strong> is now available in your library.</p>", order.ID))

	return Result{Outcome: OutcomeFulfilled, OrderID: order.ID}, nil
}

// RevokeEntitlement marks the order refunded and deactivates its
// entitlements. A refund arriving before the completion voids the pending
// order; the later completion then observes the terminal state and no-ops.
func (s *Service) RevokeEntitlement(ctx context.Context, providerSessionID, reason string) (Result, error) {
	order, err := s.store.OrderByProviderSession(ctx, providerSessionID)
	if err != nil {
		return Result{}, apperrors.Transient("failed to load order", err)
	}
	if order == nil {
		return Result{}, apperrors.NotFound("order", fmt.Errorf("provider session %s", providerSessionID))
	}

	switch order.Status {
	case model.OrderStatusRefunded:
		return Result{Outcome: OutcomeAlreadyRefunded, OrderID: order.ID}, nil
	case model.OrderStatusFailed:
		return Result{Outcome: OutcomeSkipped, OrderID: order.ID}, nil
	}

	if err := s.store.RefundOrder(ctx, order.ID); err != nil {
		if apperrors.IsConflict(err) {
			return Result{Outcome: OutcomeAlreadyRefunded, OrderID: order.ID}, nil
		}
		return Result{}, apperrors.Transient("failed to refund order", err)
	}

	s.metrics.OrdersRefunded.Inc()
	s.queueEmail(ctx, order.CustomerEmail,
		"Your refund has been processed",
		fmt.Sprintf("<p>Your order <strong>%s</strong> has been refunded (%s). Access to the purchased items has been removed.</p>", order.ID, reason))

	return Result{Outcome: OutcomeRefunded, OrderID: order.ID}, nil
}

// Entitlements lists everything granted to a user, active or not. Support
// tooling uses this to verify what a customer holds after a replay.
func (s *Service) Entitlements(ctx context.Context, userID uuid.UUID) ([]*model.Entitlement, error) {
	entitlements, err := s.store.EntitlementsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	return entitlements, nil
}

// queueEmail publishes the message for background delivery. Email is
// best-effort relative to the financial state change: a publish failure is
// logged and swallowed, never unwinds the committed transaction.
func (s *Service) queueEmail(ctx context.Context, to, subject, html string) {
	if !s.flags.Enabled(FlagEmailNotifications) {
		return
	}

	msg := model.EmailMessage{To: to, Subject: subject, HTML: html}
	if err := s.broker.Publish(ctx, messaging.ChannelEmailSend, msg); err != nil {
		s.logger.Error(err, "failed to queue email", "to", to, "subject", subject)
		return
	}
	s.metrics.EmailsQueued.Inc()
}

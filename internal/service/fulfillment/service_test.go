package fulfillment_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storelane/fulfillment-api/internal/model"
	"github.com/storelane/fulfillment-api/internal/service/fulfillment"
	apperrors "github.com/storelane/fulfillment-api/pkg/errors"
	"github.com/storelane/fulfillment-api/pkg/featureflag"
	"github.com/storelane/fulfillment-api/pkg/logger"
	"github.com/storelane/fulfillment-api/pkg/messaging"
	"github.com/storelane/fulfillment-api/pkg/metrics"
)

var metricsSeq atomic.Int64

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(fmt.Sprintf("fulfilltest%d", metricsSeq.Add(1)), "engine")
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
}

type fakeStore struct {
	order        *model.Order
	lookupErr    error
	completeErr  error
	refundErr    error
	completeCnt  int
	refundCnt    int
	lastOrderID  uuid.UUID
	entitlements []*model.Entitlement
}

func (s *fakeStore) OrderByProviderSession(_ context.Context, sessionID string) (*model.Order, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	if s.order != nil && s.order.ProviderSessionID == sessionID {
		return s.order, nil
	}
	return nil, nil
}

func (s *fakeStore) CompleteOrder(_ context.Context, orderID uuid.UUID) error {
	s.completeCnt++
	s.lastOrderID = orderID
	if s.completeErr != nil {
		return s.completeErr
	}
	s.order.Status = model.OrderStatusCompleted
	return nil
}

func (s *fakeStore) RefundOrder(_ context.Context, orderID uuid.UUID) error {
	s.refundCnt++
	s.lastOrderID = orderID
	if s.refundErr != nil {
		return s.refundErr
	}
	s.order.Status = model.OrderStatusRefunded
	return nil
}

func (s *fakeStore) EntitlementsForUser(context.Context, uuid.UUID) ([]*model.Entitlement, error) {
	return s.entitlements, nil
}

type published struct {
	channel string
	message interface{}
}

type fakeBroker struct {
	published  []published
	publishErr error
}

func (b *fakeBroker) Publish(_ context.Context, channel string, message interface{}) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, published{channel: channel, message: message})
	return nil
}

func (b *fakeBroker) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBroker) Close() error { return nil }

func pendingOrder(session string) *model.Order {
	return &model.Order{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		Status:            model.OrderStatusPending,
		CustomerEmail:     "buyer@example.com",
		AmountInCents:     4900,
		Currency:          "usd",
		ProviderSessionID: session,
	}
}

func newService(store *fakeStore, broker *fakeBroker, emailOn bool) *fulfillment.Service {
	flags := featureflag.NewRegistry(map[string]bool{
		fulfillment.FlagEmailNotifications: emailOn,
	})
	return fulfillment.NewService(store, broker, flags, newTestMetrics(), testLogger())
}

func TestFulfillOrderCompletesPendingOrder(t *testing.T) {
	store := &fakeStore{order: pendingOrder("cs_1")}
	broker := &fakeBroker{}
	svc := newService(store, broker, true)

	result, err := svc.FulfillOrder(context.Background(), "cs_1")
	require.NoError(t, err)

	assert.Equal(t, fulfillment.OutcomeFulfilled, result.Outcome)
	assert.Equal(t, store.order.ID, result.OrderID)
	assert.Equal(t, 1, store.completeCnt)
	require.Len(t, broker.published, 1)
	assert.Equal(t, messaging.ChannelEmailSend, broker.published[0].channel)
}

func TestFulfillOrderNoOpOnCompletedOrder(t *testing.T) {
	order := pendingOrder("cs_2")
	order.Status = model.OrderStatusCompleted
	store := &fakeStore{order: order}
	broker := &fakeBroker{}
	svc := newService(store, broker, true)

	result, err := svc.FulfillOrder(context.Background(), "cs_2")
	require.NoError(t, err)

	assert.Equal(t, fulfillment.OutcomeAlreadyFulfilled, result.Outcome)
	assert.Equal(t, 0, store.completeCnt, "repeated completion must not touch the store")
	assert.Empty(t, broker.published, "no duplicate email on replay")
}

func TestFulfillOrderSkipsRefundedOrder(t *testing.T) {
	order := pendingOrder("cs_3")
	order.Status = model.OrderStatusRefunded
	store := &fakeStore{order: order}
	svc := newService(store, &fakeBroker{}, true)

	result, err := svc.FulfillOrder(context.Background(), "cs_3")
	require.NoError(t, err)

	assert.Equal(t, fulfillment.OutcomeSkipped, result.Outcome)
	assert.Equal(t, 0, store.completeCnt, "refund-before-completion keeps the order refunded")
}

func TestFulfillOrderMissingOrderIsFatal(t *testing.T) {
	store := &fakeStore{}
	svc := newService(store, &fakeBroker{}, true)

	_, err := svc.FulfillOrder(context.Background(), "cs_unknown")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.Code(err))
	assert.False(t, apperrors.IsTransient(err), "missing order must not be retried")
}

func TestFulfillOrderStoreFailureIsTransient(t *testing.T) {
	store := &fakeStore{order: pendingOrder("cs_4"), completeErr: errors.New("connection reset")}
	svc := newService(store, &fakeBroker{}, true)

	_, err := svc.FulfillOrder(context.Background(), "cs_4")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
}

func TestFulfillOrderEmailFlagOff(t *testing.T) {
	store := &fakeStore{order: pendingOrder("cs_5")}
	broker := &fakeBroker{}
	svc := newService(store, broker, false)

	result, err := svc.FulfillOrder(context.Background(), "cs_5")
	require.NoError(t, err)

	assert.Equal(t, fulfillment.OutcomeFulfilled, result.Outcome)
	assert.Empty(t, broker.published)
}

func TestFulfillOrderEmailFailureDoesNotFailFulfillment(t *testing.T) {
	store := &fakeStore{order: pendingOrder("cs_6")}
	broker := &fakeBroker{publishErr: errors.New("redis down")}
	svc := newService(store, broker, true)

	result, err := svc.FulfillOrder(context.Background(), "cs_6")
	require.NoError(t, err, "email is best-effort relative to the state change")
	assert.Equal(t, fulfillment.OutcomeFulfilled, result.Outcome)
}

func TestRevokeEntitlementRefundsCompletedOrder(t *testing.T) {
	order := pendingOrder("cs_7")
	order.Status = model.OrderStatusCompleted
	store := &fakeStore{order: order}
	broker := &fakeBroker{}
	svc := newService(store, broker, true)

	result, err := svc.RevokeEntitlement(context.Background(), "cs_7", "requested_by_customer")
	require.NoError(t, err)

	assert.Equal(t, fulfillment.OutcomeRefunded, result.Outcome)
	assert.Equal(t, 1, store.refundCnt)
	require.Len(t, broker.published, 1)
}

func TestRevokeEntitlementVoidsPendingOrder(t *testing.T) {
	store := &fakeStore{order: pendingOrder("cs_8")}
	svc := newService(store, &fakeBroker{}, true)

	result, err := svc.RevokeEntitlement(context.Background(), "cs_8", "fraud")
	require.NoError(t, err)

	assert.Equal(t, fulfillment.OutcomeRefunded, result.Outcome)
	assert.Equal(t, model.OrderStatusRefunded, store.order.Status,
		"refund before completion voids the pending order")
}

func TestRevokeEntitlementNoOpOnRefundedOrder(t *testing.T) {
	order := pendingOrder("cs_9")
	order.Status = model.OrderStatusRefunded
	store := &fakeStore{order: order}
	svc := newService(store, &fakeBroker{}, true)

	result, err := svc.RevokeEntitlement(context.Background(), "cs_9", "dup")
	require.NoError(t, err)

	assert.Equal(t, fulfillment.OutcomeAlreadyRefunded, result.Outcome)
	assert.Equal(t, 0, store.refundCnt)
}

func TestFulfillOrderSkipsWhenGuardedUpdateLosesRace(t *testing.T) {
	// the status read saw pending, but a concurrent refund committed first
	store := &fakeStore{
		order:       pendingOrder("cs_race"),
		completeErr: apperrors.Conflict("order is not pending", nil),
	}
	broker := &fakeBroker{}
	svc := newService(store, broker, true)

	result, err := svc.FulfillOrder(context.Background(), "cs_race")
	require.NoError(t, err, "losing the state race is a no-op, not a failure")

	assert.Equal(t, fulfillment.OutcomeSkipped, result.Outcome)
	assert.Empty(t, broker.published, "no email for an order someone else completed or refunded")
}

func TestRevokeEntitlementNoOpWhenGuardedUpdateLosesRace(t *testing.T) {
	order := pendingOrder("cs_race2")
	order.Status = model.OrderStatusCompleted
	store := &fakeStore{
		order:     order,
		refundErr: apperrors.Conflict("order is not refundable", nil),
	}
	svc := newService(store, &fakeBroker{}, true)

	result, err := svc.RevokeEntitlement(context.Background(), "cs_race2", "dup")
	require.NoError(t, err)
	assert.Equal(t, fulfillment.OutcomeAlreadyRefunded, result.Outcome)
}

func TestRefundThenCompletionConverges(t *testing.T) {
	store := &fakeStore{order: pendingOrder("cs_10")}
	svc := newService(store, &fakeBroker{}, true)

	refund, err := svc.RevokeEntitlement(context.Background(), "cs_10", "chargeback")
	require.NoError(t, err)
	assert.Equal(t, fulfillment.OutcomeRefunded, refund.Outcome)

	complete, err := svc.FulfillOrder(context.Background(), "cs_10")
	require.NoError(t, err)
	assert.Equal(t, fulfillment.OutcomeSkipped, complete.Outcome)
	assert.Equal(t, model.OrderStatusRefunded, store.order.Status)
}

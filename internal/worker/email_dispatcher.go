package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storelane/fulfillment-api/internal/email"
	"github.com/storelane/fulfillment-api/internal/model"
	"github.com/storelane/fulfillment-api/pkg/logger"
	"github.com/storelane/fulfillment-api/pkg/messaging"
	"github.com/storelane/fulfillment-api/pkg/metrics"
	"github.com/storelane/fulfillment-api/pkg/retry"
)

// EmailDispatcher drains the email channel and delivers queued messages.
// Delivery runs off the webhook path on purpose: the financial state change
// is authoritative and already durable by the time a message lands here.
type EmailDispatcher struct {
	broker  messaging.Broker
	sender  email.Sender
	retry   retry.Policy
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewEmailDispatcher(
	broker messaging.Broker,
	sender email.Sender,
	retryPolicy retry.Policy,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *EmailDispatcher {
	// Every send failure is worth another attempt here; SMTP has no
	// business errors to shield.
	retryPolicy.ShouldRetry = func(error) bool { return true }
	return &EmailDispatcher{
		broker:  broker,
		sender:  sender,
		retry:   retryPolicy,
		logger:  logger,
		metrics: metrics,
	}
}

func (d *EmailDispatcher) Start(ctx context.Context) error {
	messages, err := d.broker.Subscribe(ctx, messaging.ChannelEmailSend)
	if err != nil {
		return fmt.Errorf("failed to subscribe to email channel: %w", err)
	}

	d.logger.Info("Starting email dispatcher")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Shutting down email dispatcher")
			return nil
		case raw, ok := <-messages:
			if !ok {
				return nil
			}
			d.deliver(ctx, raw)
		}
	}
}

func (d *EmailDispatcher) deliver(ctx context.Context, raw []byte) {
	var msg model.EmailMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.logger.Error(err, "discarding malformed email message")
		d.metrics.EmailsSent.WithLabelValues("malformed").Inc()
		return
	}

	var id string
	err := d.retry.Do(ctx, func() error {
		var sendErr error
		id, sendErr = d.sender.Send(ctx, msg)
		return sendErr
	})
	if err != nil {
		// Swallowed: email is best-effort relative to fulfillment.
		d.logger.Error(err, "email delivery failed", "to", msg.To, "subject", msg.Subject)
		d.metrics.EmailsSent.WithLabelValues("failed").Inc()
		return
	}

	d.metrics.EmailsSent.WithLabelValues("sent").Inc()
	d.logger.Debug("email delivered", "to", msg.To, "message_id", id)
}

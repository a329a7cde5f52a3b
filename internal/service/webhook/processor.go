package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/storelane/fulfillment-api/internal/model"
	"github.com/storelane/fulfillment-api/internal/repository"
	"github.com/storelane/fulfillment-api/internal/service/fulfillment"
	"github.com/storelane/fulfillment-api/pkg/bulkhead"
	"github.com/storelane/fulfillment-api/pkg/circuitbreaker"
	apperrors "github.com/storelane/fulfillment-api/pkg/errors"
	"github.com/storelane/fulfillment-api/pkg/logger"
	"github.com/storelane/fulfillment-api/pkg/metrics"
	"github.com/storelane/fulfillment-api/pkg/retry"
)

// Outcome of processing one delivery.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeError            Outcome = "error"
)

// ProcessResult maps to the transport response: processed and
// already_processed answer success so the provider stops redelivering;
// error answers failure so it tries again.
type ProcessResult struct {
	Status  Outcome `json:"status"`
	Message string  `json:"message,omitempty"`
}

// Engine is the slice of the fulfillment service the processor dispatches
// into.
type Engine interface {
	FulfillOrder(ctx context.Context, providerSessionID string) (fulfillment.Result, error)
	RevokeEntitlement(ctx context.Context, providerSessionID, reason string) (fulfillment.Result, error)
}

// JobRecorder escalates an exhausted event to the operator queue.
type JobRecorder interface {
	Record(ctx context.Context, jobType string, payload json.RawMessage, cause error) error
}

const dependencyDB = "db"

// Processor turns at-least-once, possibly concurrent deliveries into
// exactly-once fulfillment. The ledger claim is the only serialization
// point; everything after it runs under the db breaker, bulkhead and the
// retry policy for transient faults only.
type Processor struct {
	ledger    repository.LedgerRepository
	engine    Engine
	jobs      JobRecorder
	breakers  *circuitbreaker.Registry
	bulkheads *bulkhead.Registry
	retry     retry.Policy
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

func NewProcessor(
	ledger repository.LedgerRepository,
	engine Engine,
	jobs JobRecorder,
	breakers *circuitbreaker.Registry,
	bulkheads *bulkhead.Registry,
	retryPolicy retry.Policy,
	metrics *metrics.Metrics,
	logger *logger.Logger,
) *Processor {
	return &Processor{
		ledger:    ledger,
		engine:    engine,
		jobs:      jobs,
		breakers:  breakers,
		bulkheads: bulkheads,
		retry:     retryPolicy,
		metrics:   metrics,
		logger:    logger,
	}
}

// Process runs the claim -> dispatch -> commit/fail pipeline for one
// delivery.
func (p *Processor) Process(ctx context.Context, event model.ExternalEvent) ProcessResult {
	timer := prometheus.NewTimer(p.metrics.WebhookLatency)
	defer timer.ObserveDuration()

	claim, err := p.ledger.TryClaim(ctx, event.ID, event.Type)
	if err != nil {
		p.logger.Error(err, "failed to claim event", "event_id", event.ID)
		return ProcessResult{Status: OutcomeError, Message: "claim failed"}
	}

	if !claim.Claimed {
		// Either a prior delivery finished this event, or a concurrent one
		// is processing it right now. Both answer success: the winner owns
		// the eventual commit, and the provider must stop redelivering.
		p.metrics.WebhookDuplicates.Inc()
		p.logger.Debug("duplicate delivery",
			"event_id", event.ID, "existing_status", string(claim.Existing.Status))
		return ProcessResult{Status: OutcomeAlreadyProcessed}
	}

	result, err := p.dispatch(ctx, event)
	if err != nil {
		return p.escalate(ctx, event, err)
	}

	if err := p.ledger.Commit(ctx, event.ID, result); err != nil {
		// The business mutation is durable but the ledger record is stuck
		// CLAIMED. Log loudly; the fulfillment engine's own no-op layer
		// keeps a later operator replay harmless.
		p.logger.Error(err, "failed to commit processing record", "event_id", event.ID)
		return ProcessResult{Status: OutcomeError, Message: "commit failed"}
	}

	p.metrics.WebhookEventsProcessed.WithLabelValues(event.Type).Inc()
	return ProcessResult{Status: OutcomeProcessed, Message: result}
}

// Replay re-runs fulfillment for a dead-lettered event. The original ledger
// record is terminal FAILED by then, so the replay goes straight to the
// engine, whose order-state no-ops make a duplicated replay harmless.
func (p *Processor) Replay(ctx context.Context, event model.ExternalEvent) error {
	result, err := p.dispatch(ctx, event)
	if err != nil {
		return err
	}
	p.logger.Info("replayed event", "event_id", event.ID, "result", result)
	return nil
}

// dispatch routes the event to the engine handler for its type. The call
// runs inside the db bulkhead and circuit breaker, retried only for
// transient failures; business errors surface after a single attempt.
func (p *Processor) dispatch(ctx context.Context, event model.ExternalEvent) (string, error) {
	switch event.Type {
	case model.EventCheckoutCompleted, model.EventChargeRefunded:
	default:
		// Acknowledged before any payload inspection: event types this
		// service does not handle carry arbitrary payloads, and the provider
		// only needs to stop redelivering them.
		return fmt.Sprintf("ignored event type %s", event.Type), nil
	}

	var payload model.EventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return "", apperrors.BadRequest("malformed event payload", err)
	}
	if payload.ProviderSessionID == "" {
		return "", apperrors.BadRequest("event payload missing session_id", nil)
	}

	var result fulfillment.Result
	op := func() error {
		p.metrics.RetryAttempts.WithLabelValues(event.Type).Inc()
		return p.bulkheads.Execute(dependencyDB, func() error {
			return p.breakers.Execute(dependencyDB, func() error {
				var err error
				switch event.Type {
				case model.EventCheckoutCompleted:
					result, err = p.engine.FulfillOrder(ctx, payload.ProviderSessionID)
				case model.EventChargeRefunded:
					result, err = p.engine.RevokeEntitlement(ctx, payload.ProviderSessionID, payload.Reason)
				}
				p.observeDependency(event.Type, err)
				return err
			})
		})
	}

	err := p.retry.Do(ctx, op)
	p.recordBreakerState()
	if err != nil {
		return "", err
	}
	return result.String(), nil
}

func (p *Processor) observeDependency(operation string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	p.metrics.DatabaseOperations.WithLabelValues(operation, status).Inc()
}

func (p *Processor) recordBreakerState() {
	var value float64
	switch p.breakers.Get(dependencyDB).Status().State {
	case circuitbreaker.StateOpen.String():
		value = 1
	case circuitbreaker.StateHalfOpen.String():
		value = 2
	}
	p.metrics.BreakerState.WithLabelValues(dependencyDB).Set(value)
}

// escalate records the failure on the ledger and hands the original payload
// to the failed-job queue for operator replay.
func (p *Processor) escalate(ctx context.Context, event model.ExternalEvent, cause error) ProcessResult {
	p.metrics.WebhookFailures.WithLabelValues(event.Type).Inc()
	p.logger.Error(cause, "event processing failed", "event_id", event.ID, "event_type", event.Type)

	if err := p.ledger.Fail(ctx, event.ID, cause.Error()); err != nil {
		p.logger.Error(err, "failed to mark processing record failed", "event_id", event.ID)
	}

	raw, err := json.Marshal(event)
	if err != nil {
		raw = event.Payload
	}
	if err := p.jobs.Record(ctx, event.Type, raw, cause); err != nil {
		p.logger.Error(err, "failed to record failed job", "event_id", event.ID)
	}

	return ProcessResult{Status: OutcomeError, Message: "processing failed"}
}

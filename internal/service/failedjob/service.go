package failedjob

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/storelane/fulfillment-api/internal/model"
	"github.com/storelane/fulfillment-api/internal/repository"
	apperrors "github.com/storelane/fulfillment-api/pkg/errors"
	"github.com/storelane/fulfillment-api/pkg/logger"
	"github.com/storelane/fulfillment-api/pkg/metrics"
)

// Replayer re-invokes the original processing path with a stored payload.
// Implemented by the webhook processor; injected after construction because
// the processor also records into this service.
type Replayer interface {
	Replay(ctx context.Context, event model.ExternalEvent) error
}

// Service is the operator-facing dead-letter queue. Jobs are created by the
// webhook processor when automated recovery is exhausted and mutated only
// by operator-triggered retry/abandon actions.
type Service struct {
	repo        repository.FailedJobRepository
	replayer    Replayer
	maxAttempts int
	metrics     *metrics.Metrics
	logger      *logger.Logger
}

func NewService(repo repository.FailedJobRepository, maxAttempts int, metrics *metrics.Metrics, logger *logger.Logger) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{
		repo:        repo,
		maxAttempts: maxAttempts,
		metrics:     metrics,
		logger:      logger,
	}
}

// SetReplayer wires the webhook processor in. Must be called before Retry
// is ever invoked.
func (s *Service) SetReplayer(r Replayer) {
	s.replayer = r
}

// Record captures an exhausted event with its payload preserved verbatim
// for later replay.
func (s *Service) Record(ctx context.Context, jobType string, payload json.RawMessage, cause error) error {
	job := &model.FailedJob{
		JobType:     jobType,
		Payload:     payload,
		Error:       cause.Error(),
		MaxAttempts: s.maxAttempts,
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to record failed job: %w", err)
	}

	s.metrics.FailedJobsRecorded.Inc()
	s.refreshPendingGauge(ctx)
	s.logger.Warn("recorded failed job", "job_id", job.ID.String(), "job_type", jobType)
	return nil
}

// Retry replays one PENDING job. The repository guard rejects jobs that are
// not pending or have spent all attempts; a failed replay returns the job
// to PENDING so the operator can try again while attempts remain.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) error {
	if s.replayer == nil {
		return apperrors.Internal(fmt.Errorf("no replayer configured"))
	}

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.MarkRetrying(ctx, id); err != nil {
		return err
	}

	var event model.ExternalEvent
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		unmarshalErr := apperrors.BadRequest("stored payload is not a replayable event", err)
		if markErr := s.repo.MarkPending(ctx, id, unmarshalErr.Error()); markErr != nil {
			s.logger.Error(markErr, "failed to return job to pending", "job_id", id.String())
		}
		return unmarshalErr
	}

	if err := s.replayer.Replay(ctx, event); err != nil {
		s.logger.Error(err, "replay failed", "job_id", id.String(), "event_id", event.ID)
		if markErr := s.repo.MarkPending(ctx, id, err.Error()); markErr != nil {
			s.logger.Error(markErr, "failed to return job to pending", "job_id", id.String())
		}
		return err
	}

	if err := s.repo.MarkResolved(ctx, id); err != nil {
		return err
	}

	s.refreshPendingGauge(ctx)
	s.logger.Info("failed job resolved", "job_id", id.String(), "event_id", event.ID)
	return nil
}

// Abandon is a permanent write-off, valid from any non-terminal status.
func (s *Service) Abandon(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Abandon(ctx, id); err != nil {
		return err
	}
	s.refreshPendingGauge(ctx)
	s.logger.Info("failed job abandoned", "job_id", id.String())
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.FailedJob, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, status model.FailedJobStatus, limit int) ([]*model.FailedJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, status, limit)
}

func (s *Service) refreshPendingGauge(ctx context.Context) {
	count, err := s.repo.CountPending(ctx)
	if err != nil {
		s.logger.Error(err, "failed to count pending jobs")
		return
	}
	s.metrics.FailedJobsPending.Set(float64(count))
}

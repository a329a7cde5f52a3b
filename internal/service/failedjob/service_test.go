package failedjob_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storelane/fulfillment-api/internal/model"
	"github.com/storelane/fulfillment-api/internal/service/failedjob"
	apperrors "github.com/storelane/fulfillment-api/pkg/errors"
	"github.com/storelane/fulfillment-api/pkg/logger"
	"github.com/storelane/fulfillment-api/pkg/metrics"
)

var metricsSeq atomic.Int64

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(fmt.Sprintf("jobtest%d", metricsSeq.Add(1)), "failedjobs")
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
}

// fakeRepo enforces the same state guards the postgres repository does.
type fakeRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*model.FailedJob
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: make(map[uuid.UUID]*model.FailedJob)}
}

func (r *fakeRepo) Create(_ context.Context, job *model.FailedJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ID = uuid.New()
	job.Status = model.FailedJobStatusPending
	job.CreatedAt = time.Now()
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id uuid.UUID) (*model.FailedJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("failed job", nil)
	}
	copied := *job
	return &copied, nil
}

func (r *fakeRepo) List(_ context.Context, status model.FailedJobStatus, limit int) ([]*model.FailedJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.FailedJob
	for _, job := range r.jobs {
		if job.Status != status {
			continue
		}
		copied := *job
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkRetrying(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.FailedJobStatusPending || job.Attempts >= job.MaxAttempts {
		return apperrors.Conflict("job is not retryable", nil)
	}
	job.Status = model.FailedJobStatusRetrying
	job.Attempts++
	now := time.Now()
	job.RetriedAt = &now
	return nil
}

func (r *fakeRepo) MarkResolved(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.FailedJobStatusRetrying {
		return apperrors.Invariant("resolve on job not retrying", nil)
	}
	job.Status = model.FailedJobStatusResolved
	now := time.Now()
	job.ResolvedAt = &now
	return nil
}

func (r *fakeRepo) MarkPending(_ context.Context, id uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.FailedJobStatusRetrying {
		return apperrors.Invariant("pending on job not retrying", nil)
	}
	job.Status = model.FailedJobStatusPending
	job.Error = errMsg
	return nil
}

func (r *fakeRepo) Abandon(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Terminal() {
		return apperrors.Conflict("job is terminal", nil)
	}
	job.Status = model.FailedJobStatusAbandoned
	return nil
}

func (r *fakeRepo) CountPending(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, job := range r.jobs {
		if job.Status == model.FailedJobStatusPending {
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) status(id uuid.UUID) model.FailedJobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id].Status
}

type fakeReplayer struct {
	calls  int
	err    error
	lastID string
}

func (p *fakeReplayer) Replay(_ context.Context, event model.ExternalEvent) error {
	p.calls++
	p.lastID = event.ID
	if p.err != nil {
		return p.err
	}
	return nil
}

func eventPayload(t *testing.T, id string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(model.ExternalEvent{
		ID:      id,
		Type:    model.EventCheckoutCompleted,
		Payload: json.RawMessage(`{"session_id":"cs_1"}`),
	})
	require.NoError(t, err)
	return raw
}

func recordJob(t *testing.T, svc *failedjob.Service, repo *fakeRepo, eventID string) uuid.UUID {
	t.Helper()
	require.NoError(t, svc.Record(context.Background(), model.EventCheckoutCompleted,
		eventPayload(t, eventID), errors.New("order not found")))

	jobs, err := repo.List(context.Background(), model.FailedJobStatusPending, 10)
	require.NoError(t, err)
	for _, job := range jobs {
		var event model.ExternalEvent
		require.NoError(t, json.Unmarshal(job.Payload, &event))
		if event.ID == eventID {
			return job.ID
		}
	}
	t.Fatalf("job for event %s not found", eventID)
	return uuid.Nil
}

func TestRecordCreatesPendingJob(t *testing.T) {
	repo := newFakeRepo()
	svc := failedjob.NewService(repo, 3, newTestMetrics(), testLogger())

	id := recordJob(t, svc, repo, "evt_1")

	job, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.FailedJobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, "order not found", job.Error)
}

func TestRetryResolvesJobOnSuccessfulReplay(t *testing.T) {
	repo := newFakeRepo()
	replayer := &fakeReplayer{}
	svc := failedjob.NewService(repo, 3, newTestMetrics(), testLogger())
	svc.SetReplayer(replayer)
	id := recordJob(t, svc, repo, "evt_2")

	require.NoError(t, svc.Retry(context.Background(), id))

	assert.Equal(t, 1, replayer.calls)
	assert.Equal(t, "evt_2", replayer.lastID)
	assert.Equal(t, model.FailedJobStatusResolved, repo.status(id))
}

func TestRetryReturnsJobToPendingOnFailedReplay(t *testing.T) {
	repo := newFakeRepo()
	replayer := &fakeReplayer{err: errors.New("still broken")}
	svc := failedjob.NewService(repo, 3, newTestMetrics(), testLogger())
	svc.SetReplayer(replayer)
	id := recordJob(t, svc, repo, "evt_3")

	err := svc.Retry(context.Background(), id)
	require.Error(t, err)

	job, getErr := svc.Get(context.Background(), id)
	require.NoError(t, getErr)
	assert.Equal(t, model.FailedJobStatusPending, job.Status, "failed replay keeps the job actionable")
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "still broken", job.Error)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	repo := newFakeRepo()
	replayer := &fakeReplayer{err: errors.New("still broken")}
	svc := failedjob.NewService(repo, 2, newTestMetrics(), testLogger())
	svc.SetReplayer(replayer)
	id := recordJob(t, svc, repo, "evt_4")

	require.Error(t, svc.Retry(context.Background(), id))
	require.Error(t, svc.Retry(context.Background(), id))

	// both attempts spent; the next retry is rejected by the state guard
	err := svc.Retry(context.Background(), id)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, 2, replayer.calls, "exhausted job must not reach the replayer")
}

func TestRetryRejectsResolvedJob(t *testing.T) {
	repo := newFakeRepo()
	replayer := &fakeReplayer{}
	svc := failedjob.NewService(repo, 3, newTestMetrics(), testLogger())
	svc.SetReplayer(replayer)
	id := recordJob(t, svc, repo, "evt_5")

	require.NoError(t, svc.Retry(context.Background(), id))

	err := svc.Retry(context.Background(), id)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, 1, replayer.calls)
}

func TestRetryCorruptPayloadReturnsToPending(t *testing.T) {
	repo := newFakeRepo()
	svc := failedjob.NewService(repo, 3, newTestMetrics(), testLogger())
	svc.SetReplayer(&fakeReplayer{})
	require.NoError(t, svc.Record(context.Background(), "unknown",
		json.RawMessage(`not json`), errors.New("boom")))

	jobs, err := repo.List(context.Background(), model.FailedJobStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	id := jobs[0].ID

	retryErr := svc.Retry(context.Background(), id)
	require.Error(t, retryErr)
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.Code(retryErr))
	assert.Equal(t, model.FailedJobStatusPending, repo.status(id))
}

func TestAbandonIsTerminal(t *testing.T) {
	repo := newFakeRepo()
	replayer := &fakeReplayer{}
	svc := failedjob.NewService(repo, 3, newTestMetrics(), testLogger())
	svc.SetReplayer(replayer)
	id := recordJob(t, svc, repo, "evt_6")

	require.NoError(t, svc.Abandon(context.Background(), id))
	assert.Equal(t, model.FailedJobStatusAbandoned, repo.status(id))

	err := svc.Retry(context.Background(), id)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, 0, replayer.calls)

	err = svc.Abandon(context.Background(), id)
	require.Error(t, err, "abandoned is terminal")
}

func TestRetryWithoutReplayerFails(t *testing.T) {
	repo := newFakeRepo()
	svc := failedjob.NewService(repo, 3, newTestMetrics(), testLogger())
	id := recordJob(t, svc, repo, "evt_7")

	err := svc.Retry(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInternal, apperrors.Code(err))
}

func TestListClampsLimit(t *testing.T) {
	repo := newFakeRepo()
	svc := failedjob.NewService(repo, 3, newTestMetrics(), testLogger())
	for i := 0; i < 3; i++ {
		recordJob(t, svc, repo, fmt.Sprintf("evt_list_%d", i))
	}

	jobs, err := svc.List(context.Background(), model.FailedJobStatusPending, -1)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

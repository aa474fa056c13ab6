package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/service"
)

func TestWorker_RunOnceWithoutJobs(t *testing.T) {
	o := newTestOrchestrator(t)
	handler := HandlerFunc(func(context.Context, *model.BackgroundJob) (*model.JobResult, error) {
		t.Fatal("handler must not run without a job")
		return nil, nil
	})

	processed, err := NewWorker(o, handler, WorkerConfig{}, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestWorker_CompletesJob(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	queued, err := o.Queue(ctx, "owner-1", "file-1", model.JobTypeAICategorization, []int64{1, 2})
	require.NoError(t, err)

	handler := HandlerFunc(func(_ context.Context, job *model.BackgroundJob) (*model.JobResult, error) {
		assert.Equal(t, model.JobStatusInProgress, job.Status)
		return &model.JobResult{TotalProcessed: 2, SuccessfullyCategorized: 2}, nil
	})

	processed, err := NewWorker(o, handler, WorkerConfig{}, nil).RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	got, err := o.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Result.SuccessfullyCategorized)
}

func TestWorker_FailsJobOnHandlerError(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	queued, err := o.Queue(ctx, "owner-1", "file-1", model.JobTypeAICategorization, []int64{1})
	require.NoError(t, err)

	handler := HandlerFunc(func(context.Context, *model.BackgroundJob) (*model.JobResult, error) {
		return nil, errors.New("could not fetch transactions")
	})

	processed, err := NewWorker(o, handler, WorkerConfig{}, nil).RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	got, err := o.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "could not fetch transactions", *got.ErrorMessage)
}

func TestWorker_FailsJobOnPanic(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	queued, err := o.Queue(ctx, "owner-1", "file-1", model.JobTypeAICategorization, []int64{1})
	require.NoError(t, err)

	handler := HandlerFunc(func(context.Context, *model.BackgroundJob) (*model.JobResult, error) {
		panic("nil map")
	})

	_, err = NewWorker(o, handler, WorkerConfig{}, nil).RunOnce(ctx)
	require.NoError(t, err)

	got, err := o.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, *got.ErrorMessage, "panicked")
}

func TestWorker_RunProcessesEachJobOnce(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 6
	for i := 0; i < total; i++ {
		_, err := o.Queue(ctx, "owner-1", "file-1", model.JobTypeAICategorization, []int64{int64(i + 1)})
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	handler := HandlerFunc(func(_ context.Context, job *model.BackgroundJob) (*model.JobResult, error) {
		mu.Lock()
		seen[job.ID]++
		mu.Unlock()
		return &model.JobResult{TotalProcessed: 1}, nil
	})

	worker := NewWorker(o, handler, WorkerConfig{Count: 3, PollInterval: 10 * time.Millisecond}, nil)
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == total
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s handled more than once", id)
	}

	jobs, err := o.List(context.Background(), service.JobFilter{Status: model.JobStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, jobs, total)
}

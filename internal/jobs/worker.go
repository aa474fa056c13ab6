package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/statement-spice/internal/model"
)

// Handler processes a claimed job.
type Handler interface {
	Handle(ctx context.Context, job *model.BackgroundJob) (*model.JobResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *model.BackgroundJob) (*model.JobResult, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job *model.BackgroundJob) (*model.JobResult, error) {
	return f(ctx, job)
}

// WorkerConfig configures a worker pool.
type WorkerConfig struct {
	JobType      model.JobType
	Count        int
	PollInterval time.Duration
}

// DefaultWorkerConfig returns the default configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		JobType:      model.JobTypeAICategorization,
		Count:        1,
		PollInterval: 5 * time.Second,
	}
}

// Worker polls for pending jobs and runs them through a Handler.
type Worker struct {
	orchestrator *Orchestrator
	handler      Handler
	logger       *slog.Logger
	config       WorkerConfig
}

// NewWorker creates a worker pool.
func NewWorker(orchestrator *Orchestrator, handler Handler, config WorkerConfig, logger *slog.Logger) *Worker {
	defaults := DefaultWorkerConfig()
	if config.Count <= 0 {
		config.Count = defaults.Count
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.JobType == "" {
		config.JobType = defaults.JobType
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		orchestrator: orchestrator,
		handler:      handler,
		config:       config,
		logger:       logger,
	}
}

// Run starts the configured number of pollers and blocks until ctx is
// cancelled and every in-flight job has been settled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting job workers",
		"count", w.config.Count,
		"job_type", w.config.JobType,
		"poll_interval", w.config.PollInterval)

	var wg sync.WaitGroup
	wg.Add(w.config.Count)

	for i := 0; i < w.config.Count; i++ {
		go func(workerID int) {
			defer wg.Done()
			w.poll(ctx, workerID)
		}(i)
	}

	wg.Wait()
	w.logger.Info("Job workers stopped")
	return nil
}

func (w *Worker) poll(ctx context.Context, workerID int) {
	logger := w.logger.With("worker", workerID)

	for {
		processed, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("Job processing failed", "error", err)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.config.PollInterval):
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job
// was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	job, err := w.orchestrator.Claim(ctx, w.config.JobType)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	return true, w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job *model.BackgroundJob) error {
	logger := w.logger.With("job_id", job.ID)

	result, err := w.invoke(ctx, job)

	// The terminal transition is written even when ctx was cancelled mid-job.
	settleCtx := context.WithoutCancel(ctx)

	if err != nil {
		if failErr := w.orchestrator.Fail(settleCtx, job.ID, err.Error()); failErr != nil {
			return errors.Join(err, fmt.Errorf("failed to mark job failed: %w", failErr))
		}
		logger.Warn("Job handler failed", "error", err)
		return nil
	}

	if err := w.orchestrator.Complete(settleCtx, job.ID, result); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

func (w *Worker) invoke(ctx context.Context, job *model.BackgroundJob) (result *model.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return w.handler.Handle(ctx, job)
}

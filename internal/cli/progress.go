package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/statement-spice/internal/model"
)

// ProgressUpdater records job progress, normally the job orchestrator.
type ProgressUpdater interface {
	UpdateProgress(ctx context.Context, jobID string, progress model.JobProgress) error
}

// JobProgressBar forwards progress to an updater and mirrors it on a
// terminal progress bar. The bar is created lazily from the first update
// because the total is only known once the job is running.
type JobProgressBar struct {
	next   ProgressUpdater
	writer io.Writer
	bar    *progressbar.ProgressBar
	mu     sync.Mutex
}

// NewJobProgressBar wraps next with a progress bar written to w.
func NewJobProgressBar(w io.Writer, next ProgressUpdater) *JobProgressBar {
	return &JobProgressBar{next: next, writer: w}
}

// UpdateProgress stores progress and advances the bar. The bar is only
// moved after the update is accepted.
func (p *JobProgressBar) UpdateProgress(ctx context.Context, jobID string, progress model.JobProgress) error {
	if p.next != nil {
		if err := p.next.UpdateProgress(ctx, jobID, progress); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		p.bar = p.newBar(progress.TotalTransactions)
	}
	p.bar.Describe(fmt.Sprintf("[cyan][bold]Categorizing[reset] batch %d/%d", progress.CurrentBatch, progress.TotalBatches))
	if err := p.bar.Set(progress.ProcessedTransactions); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
	return nil
}

// Finish completes the bar if one was started.
func (p *JobProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}

func (p *JobProgressBar) newBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Categorizing[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(p.writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

// Processed reports how far the bar has advanced, zero before any update.
func (p *JobProgressBar) Processed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return 0
	}
	return int(p.bar.State().CurrentNum)
}

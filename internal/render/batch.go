package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/metrics"
)

// Status is the outcome of one batch item.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
)

// ItemResult records what happened to one target.
type ItemResult struct {
	Target    string
	Status    Status
	Reason    string
	Artifacts []string
	Duration  time.Duration
}

// BatchReport collects per-item outcomes of a run in target order.
type BatchReport struct {
	Job     string
	Items   []ItemResult
	Elapsed time.Duration
}

func (r *BatchReport) count(s Status) int {
	n := 0
	for _, it := range r.Items {
		if it.Status == s {
			n++
		}
	}
	return n
}

// Succeeded returns the number of successful items.
func (r *BatchReport) Succeeded() int { return r.count(StatusSuccess) }

// Skipped returns the number of skipped items.
func (r *BatchReport) Skipped() int { return r.count(StatusSkipped) }

// Task processes one target and returns the artifacts it published.
type Task func(ctx context.Context, target string) ([]string, error)

// RunBatches runs task over targets in sequential batches of width. Items
// within a batch run concurrently. A failing or panicking item is recorded as
// skipped and never stops the run.
func RunBatches(ctx context.Context, job string, targets []string, width int, task Task, logger *zap.Logger) *BatchReport {
	if width <= 0 {
		width = 1
	}

	start := time.Now()
	report := &BatchReport{Job: job, Items: make([]ItemResult, len(targets))}

	logger.Info("Batch run started",
		zap.String("job", job),
		zap.Int("targets", len(targets)),
		zap.Int("concurrency", width))

	for i := 0; i < len(targets); i += width {
		end := i + width
		if end > len(targets) {
			end = len(targets)
		}

		var wg sync.WaitGroup
		for j := i; j < end; j++ {
			if ctx.Err() != nil {
				report.Items[j] = ItemResult{Target: targets[j], Status: StatusSkipped, Reason: ctx.Err().Error()}
				continue
			}
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				report.Items[j] = runItem(ctx, job, targets[j], task, logger)
			}(j)
		}
		wg.Wait()
	}

	report.Elapsed = time.Since(start)
	for _, it := range report.Items {
		metrics.BatchItemsTotal.WithLabelValues(job, string(it.Status)).Inc()
	}

	logger.Info("Batch run finished",
		zap.String("job", job),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("skipped", report.Skipped()),
		zap.Duration("elapsed", report.Elapsed))

	return report
}

func runItem(ctx context.Context, job, target string, task Task, logger *zap.Logger) (res ItemResult) {
	start := time.Now()
	res.Target = target

	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusSkipped
			res.Reason = fmt.Sprintf("panic: %v", r)
			res.Artifacts = nil
		}
		res.Duration = time.Since(start)
		if res.Status == StatusSkipped {
			logger.Warn("Batch item skipped",
				zap.String("job", job),
				zap.String("target", target),
				zap.String("reason", res.Reason))
		} else {
			logger.Info("Batch item done",
				zap.String("job", job),
				zap.String("target", target),
				zap.Duration("duration", res.Duration))
		}
	}()

	artifacts, err := task(ctx, target)
	if err != nil {
		res.Status = StatusSkipped
		res.Reason = err.Error()
		return res
	}
	res.Status = StatusSuccess
	res.Artifacts = artifacts
	return res
}

package render

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/internal/metrics"
)

// CaptureJob represents an on-demand still capture to be processed by a worker
type CaptureJob struct {
	URL    string
	Ctx    context.Context
	Result chan *CaptureResult
}

// CaptureResult contains the result of a capture job
type CaptureResult struct {
	Image []byte
	Error error
}

// WorkerPool bounds concurrent on-demand captures against one browser
type WorkerPool struct {
	workers  int
	jobQueue chan *CaptureJob
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	browser  Browser
	cfg      config.RenderConfig
}

// NewWorkerPool creates a new worker pool with cfg.PoolWorkers workers
func NewWorkerPool(b Browser, cfg config.RenderConfig, logger *zap.Logger) *WorkerPool {
	workers := cfg.PoolWorkers
	if workers <= 0 {
		workers = 2
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan *CaptureJob, workers*2), // buffer for 2x workers
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		browser:  b,
		cfg:      cfg,
	}
}

// Start launches all worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.Info("Starting capture worker pool",
		zap.Int("workers", wp.workers),
		zap.Int("queue_size", cap(wp.jobQueue)))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop gracefully shuts down the worker pool
func (wp *WorkerPool) Stop() {
	wp.logger.Info("Stopping capture worker pool")
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info("Capture worker pool stopped")
}

// Submit queues a capture of the display page for slug and waits for it
func (wp *WorkerPool) Submit(ctx context.Context, slug string) ([]byte, error) {
	resultChan := make(chan *CaptureResult, 1)

	job := &CaptureJob{
		URL:    DisplayURL(wp.cfg.DisplayBaseURL, slug, -1),
		Ctx:    ctx,
		Result: resultChan,
	}

	select {
	case wp.jobQueue <- job:
		metrics.RenderQueueDepth.Set(float64(len(wp.jobQueue)))
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wp.ctx.Done():
		return nil, fmt.Errorf("%w: worker pool is shutting down", ErrUnavailable)
	}

	select {
	case result := <-resultChan:
		return result.Image, result.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wp.ctx.Done():
		return nil, fmt.Errorf("%w: worker pool is shutting down", ErrUnavailable)
	}
}

// worker is the main loop for a single worker
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug("Capture worker started", zap.Int("worker_id", id))

	for {
		select {
		case job := <-wp.jobQueue:
			metrics.RenderQueueDepth.Set(float64(len(wp.jobQueue)))
			wp.processJob(id, job)
		case <-wp.ctx.Done():
			wp.logger.Debug("Capture worker stopping (context cancelled)", zap.Int("worker_id", id))
			return
		}
	}
}

// processJob handles a single capture job
func (wp *WorkerPool) processJob(workerID int, job *CaptureJob) {
	if err := job.Ctx.Err(); err != nil {
		job.Result <- &CaptureResult{Error: err}
		return
	}

	wp.logger.Debug("Worker processing capture",
		zap.Int("worker_id", workerID),
		zap.String("url", job.URL))

	img, err := Still(job.Ctx, wp.browser, job.URL, wp.cfg.Width, wp.cfg.Height, wp.cfg.JPEGQuality)
	job.Result <- &CaptureResult{Image: img, Error: err}

	if err != nil {
		wp.logger.Warn("Worker completed capture with error",
			zap.Int("worker_id", workerID),
			zap.String("url", job.URL),
			zap.Error(err))
	}
}

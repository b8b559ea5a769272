package render

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
)

// ChromeBrowser implements Browser on one headless Chrome process.
type ChromeBrowser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	cfg           config.RenderConfig
	navTimeout    time.Duration
	logger        *zap.Logger
}

// NewChromeBrowser launches Chrome. navTimeout overrides cfg.NavTimeout when
// positive (the video worker allows slower page loads).
func NewChromeBrowser(cfg config.RenderConfig, navTimeout time.Duration, logger *zap.Logger) (*ChromeBrowser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-software-rasterizer", true),
		chromedp.WindowSize(cfg.Width, cfg.Height),
	)
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if navTimeout <= 0 {
		navTimeout = cfg.Timeout()
	}

	logger.Info("Headless browser started",
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Duration("nav_timeout", navTimeout))

	return &ChromeBrowser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		cfg:           cfg,
		navTimeout:    navTimeout,
		logger:        logger,
	}, nil
}

// open creates a tab, sizes it and loads url within the navigation ceiling.
// The returned cancel closes the tab.
func (b *ChromeBrowser) open(ctx context.Context, url string) (context.Context, context.CancelFunc, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	stop := context.AfterFunc(ctx, tabCancel)
	cancel := func() {
		stop()
		tabCancel()
	}

	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	navCtx, navCancel := context.WithTimeout(tabCtx, b.navTimeout)
	defer navCancel()

	err := chromedp.Run(navCtx,
		chromedp.EmulateViewport(int64(b.cfg.Width), int64(b.cfg.Height)),
		chromedp.Navigate(url),
	)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}

	if err := chromedp.Run(tabCtx, chromedp.Sleep(b.cfg.Settle())); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("settle interrupted: %w", err)
	}
	return tabCtx, cancel, nil
}

func (b *ChromeBrowser) screenshot(ctx context.Context, quality int) ([]byte, error) {
	var buf []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(quality)).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

func (b *ChromeBrowser) Capture(ctx context.Context, url string) ([]byte, error) {
	tabCtx, cancel, err := b.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return b.screenshot(tabCtx, b.cfg.JPEGQuality)
}

func (b *ChromeBrowser) Screencast(ctx context.Context, url string, d time.Duration, dir string) (*Recording, error) {
	tabCtx, cancel, err := b.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frames dir: %w", err)
	}

	var (
		frames []frame
		lastAt time.Time
		werr   error
		done   = make(chan struct{})
		stop   = make(chan struct{})
		queue  = make(chan *page.EventScreencastFrame, 64)
	)

	ack := func(f *page.EventScreencastFrame) {
		c := chromedp.FromContext(tabCtx)
		_ = page.ScreencastFrameAck(f.SessionID).Do(cdp.WithExecutor(tabCtx, c.Target))
	}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		f, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		select {
		case queue <- f:
		default:
			// Consumer is behind; drop the frame but keep the stream flowing.
			go ack(f)
		}
	})

	// Frames are written in arrival order by a single consumer.
	go func() {
		defer close(done)
		for {
			var f *page.EventScreencastFrame
			select {
			case f = <-queue:
			case <-stop:
				return
			}
			at := time.Now()
			if f.Metadata != nil && f.Metadata.Timestamp != nil {
				at = f.Metadata.Timestamp.Time()
			}
			if werr == nil {
				data, err := base64.StdEncoding.DecodeString(f.Data)
				if err == nil {
					name := frameName(len(frames))
					err = os.WriteFile(filepath.Join(dir, name), data, 0644)
					if err == nil {
						if len(frames) > 0 {
							frames[len(frames)-1].Duration = at.Sub(lastAt)
						}
						frames = append(frames, frame{Name: name})
						lastAt = at
					}
				}
				werr = err
			}
			ack(f)
		}
	}()

	start := time.Now()
	err = chromedp.Run(tabCtx,
		page.StartScreencast().
			WithFormat(page.ScreencastFormatJpeg).
			WithQuality(int64(b.cfg.JPEGQuality)).
			WithMaxWidth(int64(b.cfg.Width)).
			WithMaxHeight(int64(b.cfg.Height)),
		chromedp.Sleep(d),
		page.StopScreencast(),
	)
	// Close the tab so no frame arrives after the consumer stops.
	cancel()
	close(stop)
	<-done
	if err != nil {
		return nil, fmt.Errorf("screencast failed: %w", err)
	}
	if werr != nil {
		return nil, fmt.Errorf("failed to write screencast frame: %w", werr)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("screencast produced no frames")
	}
	// The page stays static after its last frame; hold it until the end.
	frames[len(frames)-1].Duration = start.Add(d).Sub(lastAt)

	return finishRecording(dir, frames, MethodScreencast, d)
}

func (b *ChromeBrowser) Sample(ctx context.Context, url string, d time.Duration, fps int, dir string) (*Recording, error) {
	if fps <= 0 {
		fps = 2
	}
	tabCtx, cancel, err := b.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frames dir: %w", err)
	}

	interval := time.Second / time.Duration(fps)
	total := int(d / interval)
	frames := make([]frame, 0, total)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < total; i++ {
		buf, err := b.screenshot(tabCtx, sampleQuality)
		if err != nil {
			return nil, err
		}
		name := frameName(i)
		if err := os.WriteFile(filepath.Join(dir, name), buf, 0644); err != nil {
			return nil, fmt.Errorf("failed to write frame: %w", err)
		}
		frames = append(frames, frame{Name: name, Duration: interval})

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("sampling produced no frames")
	}

	return finishRecording(dir, frames, MethodSampled, d)
}

func (b *ChromeBrowser) Close() error {
	b.browserCancel()
	b.allocCancel()
	b.logger.Info("Headless browser stopped")
	return nil
}

package render

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/disintegration/imaging"

	"github.com/koios/signage-sync/internal/metrics"
)

// Normalize returns data as a width x height JPEG. Captures already at the
// target size are returned untouched; others are scaled and center-cropped.
func Normalize(data []byte, width, height, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode capture: %w", err)
	}

	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return data, nil
	}

	resized := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode capture: %w", err)
	}
	return buf.Bytes(), nil
}

// Still captures url and normalizes it to the configured frame.
func Still(ctx context.Context, b Browser, url string, width, height, quality int) ([]byte, error) {
	start := time.Now()
	data, err := b.Capture(ctx, url)
	if err == nil {
		data, err = Normalize(data, width, height, quality)
	}
	metrics.CaptureDuration.WithLabelValues("still").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CapturesTotal.WithLabelValues("still", "error").Inc()
		return nil, err
	}
	metrics.CapturesTotal.WithLabelValues("still", "success").Inc()
	return data, nil
}

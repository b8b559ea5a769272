package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Render modes carried by a RenderRequest.
const (
	RenderModeSlides     = "slides"
	RenderModeScreenshot = "screenshot"
)

const (
	RenderRequestType = "render_request"
	RenderResultType  = "render_result"
)

// RenderRequest asks the worker to regenerate artifacts for one screen
type RenderRequest struct {
	Type     string    `json:"type"`
	UUID     string    `json:"uuid"`
	ScreenID string    `json:"screen_id"`
	Mode     string    `json:"mode"`
	Reason   string    `json:"reason,omitempty"`
	QueuedAt time.Time `json:"queued_at"`
}

// DecodeRenderRequest parses a queued request body. Mode defaults to slides.
func DecodeRenderRequest(body []byte) (*RenderRequest, error) {
	if len(body) == 0 {
		return nil, errors.New("empty render request")
	}
	var req RenderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to decode render request: %w", err)
	}
	if req.ScreenID == "" {
		return nil, errors.New("render request without screen_id")
	}
	if req.Mode == "" {
		req.Mode = RenderModeSlides
	}
	return &req, nil
}

// CoalesceKey identifies requests that would produce the same artifacts.
func (r *RenderRequest) CoalesceKey() string {
	mode := r.Mode
	if mode == "" {
		mode = RenderModeSlides
	}
	return r.ScreenID + "|" + mode
}

// RenderResult reports the outcome of a RenderRequest
type RenderResult struct {
	Type        string    `json:"type"`
	UUID        string    `json:"uuid"`
	ScreenID    string    `json:"screen_id"`
	Mode        string    `json:"mode"`
	Version     string    `json:"version,omitempty"`
	Generated   int       `json:"generated"`
	Deleted     int       `json:"deleted"`
	Errors      []string  `json:"errors,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Failed reports whether the result carries errors.
func (r *RenderResult) Failed() bool {
	return len(r.Errors) > 0
}

// FailedResult builds the result reported when a request could not be handled.
func FailedResult(req *RenderRequest, err error) *RenderResult {
	return &RenderResult{
		Type:        RenderResultType,
		UUID:        req.UUID,
		ScreenID:    req.ScreenID,
		Mode:        req.Mode,
		Errors:      []string{err.Error()},
		ProcessedAt: time.Now(),
	}
}

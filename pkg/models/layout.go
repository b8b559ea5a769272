package models

// SlideType is the media kind of a slide descriptor.
type SlideType string

const (
	SlideImage SlideType = "image"
	SlideText  SlideType = "text"
	SlideVideo SlideType = "video"
)

// SlideDescriptor is one entry of the layout sent to a playback device.
type SlideDescriptor struct {
	Type               SlideType `json:"type"`
	URL                string    `json:"url,omitempty"`
	Title              string    `json:"title,omitempty"`
	Description        string    `json:"description,omitempty"`
	Duration           int       `json:"duration"`
	TransitionEffect   string    `json:"transition_effect"`
	TransitionDuration int       `json:"transition_duration"`
}

// Layout is the full payload describing what a screen should play.
type Layout struct {
	Version         string            `json:"version"`
	BackgroundColor string            `json:"backgroundColor"`
	Slides          []SlideDescriptor `json:"slides"`
}

// RegisterRequest is the body of POST /device/register.
type RegisterRequest struct {
	DisplayCode string `json:"displayCode"`
	DeviceID    string `json:"deviceId"`
	Platform    string `json:"platform,omitempty"`
	AppVersion  string `json:"appVersion,omitempty"`
}

// RegisterResponse is returned by a successful activation.
type RegisterResponse struct {
	DeviceToken            string  `json:"deviceToken"`
	ScreenID               string  `json:"screenId"`
	Layout                 *Layout `json:"layout"`
	LayoutVersion          string  `json:"layoutVersion"`
	RefreshIntervalSeconds int     `json:"refreshIntervalSeconds"`
}

// LayoutResponse is returned by the device and public layout endpoints.
type LayoutResponse struct {
	Layout                 *Layout `json:"layout"`
	LayoutVersion          string  `json:"layoutVersion"`
	RefreshIntervalSeconds int     `json:"refreshIntervalSeconds"`
}

// VersionResponse is the lightweight change-detection payload.
type VersionResponse struct {
	LayoutVersion          string `json:"layoutVersion"`
	RefreshIntervalSeconds int    `json:"refreshIntervalSeconds"`
}

// HeartbeatRequest is the body of POST /device/heartbeat.
type HeartbeatRequest struct {
	DeviceToken    string   `json:"deviceToken"`
	RAMUsageMB     *float64 `json:"ramUsageMb,omitempty"`
	PlaybackStatus string   `json:"playbackStatus,omitempty"`
	AppVersion     string   `json:"appVersion,omitempty"`
	LastError      string   `json:"lastError,omitempty"`
}

// ErrorResponse is the structured JSON error body.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

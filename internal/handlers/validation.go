package handlers

import (
	"fmt"
	"strings"

	"github.com/koios/signage-sync/pkg/models"
)

// ValidationError represents a validation error for a specific field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return e.Message
}

const (
	maxDisplayCodeLen = 128
	maxDeviceIDLen    = 256
	maxStatusLen      = 64
	maxLastErrorLen   = 2048
)

// ValidateRegister trims and checks an activation request in place.
func ValidateRegister(req *models.RegisterRequest) []ValidationError {
	req.DisplayCode = strings.TrimSpace(req.DisplayCode)
	req.DeviceID = strings.TrimSpace(req.DeviceID)

	var errs []ValidationError
	switch {
	case req.DisplayCode == "":
		errs = append(errs, ValidationError{Field: "displayCode", Message: "displayCode required", Code: "required"})
	case len(req.DisplayCode) > maxDisplayCodeLen:
		errs = append(errs, tooLong("displayCode", maxDisplayCodeLen))
	}
	if len(req.DeviceID) > maxDeviceIDLen {
		errs = append(errs, tooLong("deviceId", maxDeviceIDLen))
	}
	return errs
}

// ValidateHeartbeat checks a heartbeat body. Only the token is required.
func ValidateHeartbeat(req *models.HeartbeatRequest) []ValidationError {
	req.DeviceToken = strings.TrimSpace(req.DeviceToken)

	var errs []ValidationError
	if req.DeviceToken == "" {
		errs = append(errs, ValidationError{Field: "deviceToken", Message: "deviceToken required", Code: "required"})
	}
	if req.RAMUsageMB != nil && *req.RAMUsageMB < 0 {
		errs = append(errs, ValidationError{Field: "ramUsageMb", Message: "ramUsageMb must not be negative", Code: "invalid_value"})
	}
	if len(req.PlaybackStatus) > maxStatusLen {
		errs = append(errs, tooLong("playbackStatus", maxStatusLen))
	}
	if len(req.LastError) > maxLastErrorLen {
		// Truncated, not rejected.
		req.LastError = req.LastError[:maxLastErrorLen]
	}
	return errs
}

func tooLong(field string, max int) ValidationError {
	return ValidationError{
		Field:   field,
		Message: fmt.Sprintf("%s must be at most %d characters", field, max),
		Code:    "too_long",
	}
}

func joinMessages(errs []ValidationError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

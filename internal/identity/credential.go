package identity

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingCredential means the request carried no device token.
	ErrMissingCredential = errors.New("device token required")
	// ErrInvalidCredential means the token is malformed or names no active screen.
	ErrInvalidCredential = errors.New("invalid device token")
)

const (
	credentialPrefix = "dt_"
	deviceSuffixLen  = 8
)

// credentialPattern captures the screen id segment of dt_{screenId}_{device}_{millis}.
var credentialPattern = regexp.MustCompile(`^dt_([a-f0-9-]+)_`)

var screenIDPattern = regexp.MustCompile(`^[a-f0-9-]+$`)

// Mint issues a device credential for screenID. The token is self-describing:
// nothing is stored and it is re-validated on every request.
func Mint(screenID, deviceID string, now time.Time) (string, error) {
	if !screenIDPattern.MatchString(screenID) {
		return "", fmt.Errorf("screen id %q cannot be encoded in a credential", screenID)
	}

	suffix := deviceID
	if r := []rune(suffix); len(r) > deviceSuffixLen {
		suffix = string(r[:deviceSuffixLen])
	}

	return credentialPrefix + screenID + "_" + suffix + "_" + strconv.FormatInt(now.UnixMilli(), 10), nil
}

// Parse returns the screen id encoded in token.
func Parse(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingCredential
	}
	m := credentialPattern.FindStringSubmatch(token)
	if m == nil {
		return "", ErrInvalidCredential
	}
	return m[1], nil
}

// FromRequest extracts the device token from the X-Device-Token header, a
// bearer Authorization header, or the deviceToken query parameter, in that order.
func FromRequest(r *http.Request) (string, error) {
	if token := strings.TrimSpace(r.Header.Get("X-Device-Token")); token != "" {
		return token, nil
	}
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		if token := strings.TrimSpace(auth[7:]); token != "" {
			return token, nil
		}
	}
	if token := strings.TrimSpace(r.URL.Query().Get("deviceToken")); token != "" {
		return token, nil
	}
	return "", ErrMissingCredential
}

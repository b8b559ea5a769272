package handlers

import (
	"strings"
	"testing"

	"github.com/koios/signage-sync/pkg/models"
)

func TestValidateRegister(t *testing.T) {
	tests := []struct {
		name      string
		req       models.RegisterRequest
		wantCodes []string
	}{
		{"valid", models.RegisterRequest{DisplayCode: "12345", DeviceID: "tv-1"}, nil},
		{"device id optional", models.RegisterRequest{DisplayCode: "lobby"}, nil},
		{"missing code", models.RegisterRequest{DeviceID: "tv-1"}, []string{"required"}},
		{"whitespace code", models.RegisterRequest{DisplayCode: "   "}, []string{"required"}},
		{"long code", models.RegisterRequest{DisplayCode: strings.Repeat("9", 129)}, []string{"too_long"}},
		{"long device id", models.RegisterRequest{DisplayCode: "1", DeviceID: strings.Repeat("d", 257)}, []string{"too_long"}},
		{"both bad", models.RegisterRequest{DeviceID: strings.Repeat("d", 257)}, []string{"required", "too_long"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			errs := ValidateRegister(&req)
			if len(errs) != len(tt.wantCodes) {
				t.Fatalf("got %d errors (%v), want %d", len(errs), errs, len(tt.wantCodes))
			}
			for i, e := range errs {
				if e.Code != tt.wantCodes[i] {
					t.Errorf("error %d code = %q, want %q", i, e.Code, tt.wantCodes[i])
				}
			}
		})
	}
}

func TestValidateRegisterTrims(t *testing.T) {
	req := models.RegisterRequest{DisplayCode: "  12345\n", DeviceID: " tv-1 "}
	if errs := ValidateRegister(&req); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if req.DisplayCode != "12345" || req.DeviceID != "tv-1" {
		t.Errorf("not trimmed: %+v", req)
	}
}

func TestValidateHeartbeat(t *testing.T) {
	neg := -1.0
	pos := 512.5

	tests := []struct {
		name      string
		req       models.HeartbeatRequest
		wantField string
	}{
		{"valid", models.HeartbeatRequest{DeviceToken: "tok", RAMUsageMB: &pos, PlaybackStatus: "playing"}, ""},
		{"token only", models.HeartbeatRequest{DeviceToken: "tok"}, ""},
		{"missing token", models.HeartbeatRequest{PlaybackStatus: "playing"}, "deviceToken"},
		{"negative ram", models.HeartbeatRequest{DeviceToken: "tok", RAMUsageMB: &neg}, "ramUsageMb"},
		{"long status", models.HeartbeatRequest{DeviceToken: "tok", PlaybackStatus: strings.Repeat("s", 65)}, "playbackStatus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			errs := ValidateHeartbeat(&req)
			if tt.wantField == "" {
				if len(errs) != 0 {
					t.Errorf("unexpected errors: %v", errs)
				}
				return
			}
			if len(errs) != 1 || errs[0].Field != tt.wantField {
				t.Errorf("got %v, want one error on %s", errs, tt.wantField)
			}
		})
	}
}

func TestValidateHeartbeatTruncatesLastError(t *testing.T) {
	req := models.HeartbeatRequest{DeviceToken: "tok", LastError: strings.Repeat("e", 5000)}
	if errs := ValidateHeartbeat(&req); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(req.LastError) != maxLastErrorLen {
		t.Errorf("lastError length = %d, want %d", len(req.LastError), maxLastErrorLen)
	}
}

func TestJoinMessages(t *testing.T) {
	got := joinMessages([]ValidationError{{Message: "a"}, {Message: "b"}})
	if got != "a; b" {
		t.Errorf("got %q", got)
	}
}

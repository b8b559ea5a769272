package models

import (
	"encoding/json"
	"testing"
)

func TestLooseIntScan(t *testing.T) {
	tests := []struct {
		name  string
		src   interface{}
		want  int
		valid bool
	}{
		{"nil", nil, 0, false},
		{"int64", int64(12), 12, true},
		{"float64", float64(7.6), 8, true},
		{"numeric bytes", []byte("30"), 30, true},
		{"numeric string", " 15 ", 15, true},
		{"decimal string", "2.4", 2, true},
		{"garbage string", "abc", 0, false},
		{"empty string", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l LooseInt
			if err := l.Scan(tt.src); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if l.Valid != tt.valid || l.N != tt.want {
				t.Errorf("got {%d %v}, want {%d %v}", l.N, l.Valid, tt.want, tt.valid)
			}
		})
	}

	t.Run("unsupported type", func(t *testing.T) {
		var l LooseInt
		if err := l.Scan(true); err == nil {
			t.Fatal("expected error for bool source")
		}
	})
}

func TestLooseIntJSON(t *testing.T) {
	var entry RotationEntry
	body := `{"display_duration":"12","transition_duration":null}`
	if err := json.Unmarshal([]byte(body), &entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := entry.DisplayDuration.Or(8); got != 12 {
		t.Errorf("display_duration = %d, want 12", got)
	}
	if got := entry.TransitionDuration.Or(5000); got != 5000 {
		t.Errorf("transition_duration = %d, want default 5000", got)
	}

	out, err := json.Marshal(entry.TransitionDuration)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "null" {
		t.Errorf("marshal unset = %s, want null", out)
	}
}

func TestScreenDisplaySlug(t *testing.T) {
	tests := []struct {
		screen Screen
		want   string
	}{
		{Screen{PublicSlug: "lobby", PublicToken: "tok", BroadcastCode: "123"}, "lobby"},
		{Screen{PublicToken: "tok", BroadcastCode: "123"}, "tok"},
		{Screen{BroadcastCode: "123"}, "123"},
	}
	for _, tt := range tests {
		if got := tt.screen.DisplaySlug(); got != tt.want {
			t.Errorf("DisplaySlug() = %q, want %q", got, tt.want)
		}
	}
}

func TestTemplateRef(t *testing.T) {
	r := RotationEntry{TemplateID: "block", FullEditorTemplateID: "full"}
	if got := r.TemplateRef(); got != "full" {
		t.Errorf("got %q, want full", got)
	}
	r.FullEditorTemplateID = ""
	if got := r.TemplateRef(); got != "block" {
		t.Errorf("got %q, want block", got)
	}
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Screen is a managed display endpoint as seen by the sync pipeline.
type Screen struct {
	ID                    string    `json:"id"`
	PublicSlug            string    `json:"public_slug,omitempty"`
	PublicToken           string    `json:"public_token,omitempty"`
	BroadcastCode         string    `json:"broadcast_code,omitempty"`
	BackgroundColor       string    `json:"background_color,omitempty"`
	FontFamily            string    `json:"font_family,omitempty"`
	IsActive              bool      `json:"is_active"`
	UpdatedAt             time.Time `json:"updated_at"`
	LayoutSnapshotVersion string    `json:"layout_snapshot_version,omitempty"`
}

// DisplaySlug returns the address used for the device-facing display page:
// public slug, then public token, then broadcast code.
func (s *Screen) DisplaySlug() string {
	switch {
	case s.PublicSlug != "":
		return s.PublicSlug
	case s.PublicToken != "":
		return s.PublicToken
	default:
		return s.BroadcastCode
	}
}

// RotationEntry is one slide assignment in a screen's sequence.
type RotationEntry struct {
	ID                   string    `json:"id"`
	ScreenID             string    `json:"screen_id"`
	TemplateID           string    `json:"template_id,omitempty"`
	FullEditorTemplateID string    `json:"full_editor_template_id,omitempty"`
	DisplayOrder         int       `json:"display_order"`
	DisplayDuration      LooseInt  `json:"display_duration"`
	TransitionEffect     string    `json:"transition_effect,omitempty"`
	TransitionDuration   LooseInt  `json:"transition_duration"`
	IsActive             bool      `json:"is_active"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TemplateRef returns the full-editor template when set, otherwise the block template.
func (r *RotationEntry) TemplateRef() string {
	if r.FullEditorTemplateID != "" {
		return r.FullEditorTemplateID
	}
	return r.TemplateID
}

// LooseInt is an integer column that may be stored as a number, a numeric
// string, or NULL. Unparseable values are treated as unset.
type LooseInt struct {
	N     int
	Valid bool
}

// NewLooseInt returns a set LooseInt.
func NewLooseInt(v int) LooseInt {
	return LooseInt{N: v, Valid: true}
}

// Or returns the value, or def when unset.
func (l LooseInt) Or(def int) int {
	if !l.Valid {
		return def
	}
	return l.N
}

// Scan implements sql.Scanner.
func (l *LooseInt) Scan(src interface{}) error {
	*l = LooseInt{}
	switch v := src.(type) {
	case nil:
		return nil
	case int64:
		*l = NewLooseInt(int(v))
	case int32:
		*l = NewLooseInt(int(v))
	case int:
		*l = NewLooseInt(v)
	case float64:
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			*l = NewLooseInt(int(math.Round(v)))
		}
	case []byte:
		l.parse(string(v))
	case string:
		l.parse(v)
	default:
		return fmt.Errorf("unsupported type %T for LooseInt", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (l LooseInt) Value() (driver.Value, error) {
	if !l.Valid {
		return nil, nil
	}
	return int64(l.N), nil
}

// UnmarshalJSON accepts numbers, numeric strings and null.
func (l *LooseInt) UnmarshalJSON(data []byte) error {
	*l = LooseInt{}
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		l.parse(s)
		return nil
	}
	l.parse(raw)
	return nil
}

// MarshalJSON writes the number or null.
func (l LooseInt) MarshalJSON() ([]byte, error) {
	if !l.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(l.N)), nil
}

func (l *LooseInt) parse(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	if n, err := strconv.Atoi(s); err == nil {
		*l = NewLooseInt(n)
		return
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		*l = NewLooseInt(int(math.Round(f)))
	}
}

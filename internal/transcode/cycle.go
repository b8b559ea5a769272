package transcode

import (
	"github.com/koios/signage-sync/pkg/models"
)

// Seconds assumed for a rotation without a (non-zero) display duration.
const defaultCycleSlide = 30

// CycleSeconds returns how long to record so one full rotation cycle fits:
// the larger of base and the summed slide durations, bounded to [lo, hi].
// Without rotations base is returned as is.
func CycleSeconds(rotations []models.RotationEntry, base, lo, hi int) int {
	if len(rotations) == 0 {
		return base
	}
	total := 0
	for _, r := range rotations {
		d := r.DisplayDuration.Or(defaultCycleSlide)
		if d == 0 {
			d = defaultCycleSlide
		}
		if d < 1 {
			d = 1
		}
		total += d
	}

	sec := base
	if total > sec {
		sec = total
	}
	if sec < lo {
		sec = lo
	}
	if sec > hi {
		sec = hi
	}
	return sec
}

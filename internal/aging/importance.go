// Package aging mutates the corpus over time: confidence decay,
// reinforcement, duplicate merging, consolidation of recurring patterns,
// and the learning-rate boost for repeated corrections. Every pass is
// idempotent and safe to run opportunistically.
package aging

import (
	"time"

	"github.com/kalambet/cortex/internal/storage"
)

// EffectiveImportance computes the decayed, reinforcement-adjusted weight
// of a unit at the given instant, clamped to [0.1, 1.0].
func EffectiveImportance(u *storage.Unit, now time.Time) float64 {
	ageDays := now.Sub(time.UnixMilli(u.Timestamp)).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	decay := 1 / (1 + ageDays*0.02)

	accessBoost := 1 + 0.1*float64(u.AccessCount)
	if accessBoost > 2.0 {
		accessBoost = 2.0
	}

	recencyBoost := 1.0
	if u.LastAccessed > 0 {
		sinceAccess := now.Sub(time.UnixMilli(u.LastAccessed))
		switch {
		case sinceAccess < 24*time.Hour:
			recencyBoost = 1.3
		case sinceAccess < 7*24*time.Hour:
			recencyBoost = 1.1
		}
	}

	v := u.Importance * decay * accessBoost * recencyBoost
	if v < 0.1 {
		return 0.1
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}

package timeauthority

import (
	"time"

	"smartattend/internal/catalog"
	id "smartattend/pkg/domain"
)

// Classify is the pure drift classifier: identical inputs and configuration
// always yield the identical category and action. drift = server − client;
// bands are evaluated on |drift| so a fast clock and a slow clock of equal
// magnitude land in the same band.
func Classify(clientTime, serverTime time.Time, deviceClass id.DeviceClass, cfg catalog.DriftConfig) Classification {
	drift := serverTime.Sub(clientTime)
	abs := drift
	if abs < 0 {
		abs = -abs
	}

	category := cfg.BandsFor(deviceClass).Classify(abs)
	return Classification{
		Drift:    drift,
		Category: category,
		Action:   category.ActionFor(),
	}
}

// Oscillates is the secondary heuristic: it reports whether the new drift
// together with recent drifts from the same device shows a flip between
// opposite-sign drifts each at least the configured magnitude. Forensic only;
// it never changes the band-based action.
func Oscillates(newDrift time.Duration, recent []time.Duration, cfg catalog.DriftConfig) bool {
	if magnitude(newDrift) < cfg.OscillationMagnitude {
		return false
	}
	for _, prior := range recent {
		if magnitude(prior) < cfg.OscillationMagnitude {
			continue
		}
		if (prior < 0) != (newDrift < 0) {
			return true
		}
	}
	return false
}

func magnitude(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

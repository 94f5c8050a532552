package audio

import "math"

const (
	// DefaultThresholdDB is the alert threshold used when none is configured.
	DefaultThresholdDB = -15.0
	// MinThresholdDB is the lowest accepted alert threshold.
	MinThresholdDB = -60.0
	// MaxThresholdDB is the highest accepted alert threshold.
	MaxThresholdDB = -10.0
	// HysteresisDB is how far below the threshold the level must fall before
	// another alert can fire.
	HysteresisDB = 5.0
)

// AlertState tracks whether an alert was already raised for the current
// excursion above the threshold.
type AlertState struct {
	AlertShown bool
}

// ClampThreshold limits a threshold to [MinThresholdDB, MaxThresholdDB].
func ClampThreshold(threshold float64) float64 {
	if math.IsNaN(threshold) {
		return DefaultThresholdDB
	}
	return min(max(threshold, MinThresholdDB), MaxThresholdDB)
}

// EvaluateAlert applies one level to the alert state. It reports whether an
// alert fires. The raise check runs before the clear check; both run on
// every call.
func EvaluateAlert(level, threshold float64, state AlertState) (AlertState, bool) {
	fired := false
	if level >= threshold && !state.AlertShown {
		state.AlertShown = true
		fired = true
	}
	if level < threshold-HysteresisDB {
		state.AlertShown = false
	}
	return state, fired
}

package audio

import "math"

// Band is a coarse noise level category.
type Band string

// Level bands, ordered from quiet to loud.
const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// Band boundaries in dBFS. They do not depend on the alert threshold.
const (
	MediumFloorDB = -40.0
	HighFloorDB   = -15.0
)

// Colors used by the UI for each band.
const (
	ColorGreen  = "#2E7D32"
	ColorYellow = "#F9A825"
	ColorRed    = "#C62828"
)

// Classify maps a level to its band.
func Classify(level float64) Band {
	switch {
	case level < MediumFloorDB:
		return BandLow
	case level < HighFloorDB:
		return BandMedium
	default:
		return BandHigh
	}
}

// Label returns the display label of the band.
func (b Band) Label() string {
	switch b {
	case BandMedium:
		return "Medium"
	case BandHigh:
		return "High"
	default:
		return "Low"
	}
}

// Color returns the indicator color of the band as #RRGGBB.
func (b Band) Color() string {
	switch b {
	case BandMedium:
		return ColorYellow
	case BandHigh:
		return ColorRed
	default:
		return ColorGreen
	}
}

// MeterValue maps a level in [FloorDB, CeilingDB] linearly onto a 0-100
// meter. Out of range levels are clamped.
func MeterValue(level float64) int {
	scaled := math.Round(100 * (level - FloorDB) / (CeilingDB - FloorDB))
	if math.IsNaN(scaled) {
		return 0
	}
	return int(min(max(scaled, 0), 100))
}

// Package audio provides the noise level arithmetic (amplitude to dBFS,
// level bands, meter scaling, threshold alerting) and the platform specific
// capture commands that feed it.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// FloorDB is the level reported for silence or a missing signal.
	FloorDB = -90.0
	// CeilingDB is the level of a full-scale sample.
	CeilingDB = 0.0
	// MaxAmplitude is the full-scale magnitude of a 16-bit signed sample.
	MaxAmplitude = 32767
)

// AmplitudeToDB converts a peak amplitude to a level in dBFS.
// Non-positive amplitudes map to FloorDB; amplitudes above full scale are
// clamped so the result never exceeds CeilingDB.
func AmplitudeToDB(amplitude int) float64 {
	if amplitude <= 0 {
		return FloorDB
	}
	amplitude = min(amplitude, MaxAmplitude)
	return max(20*math.Log10(float64(amplitude)/MaxAmplitude), FloorDB)
}

// PeakAmplitude returns the largest absolute sample value in an S16LE buffer.
// The magnitude of -32768 is reported as MaxAmplitude. A trailing odd byte
// is ignored.
func PeakAmplitude(buf []byte) int {
	peak := 0
	for i := 0; i+1 < len(buf); i += BytesPerSample {
		s := int(int16(binary.LittleEndian.Uint16(buf[i:])))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return min(peak, MaxAmplitude)
}

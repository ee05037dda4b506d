// Package wakeword holds audio-level wake detectors used when no streaming
// recognizer is available.
package wakeword

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
)

const (
	DefaultEnergyThreshold = 220
	DefaultRequiredHits    = 2
)

// EnergyDetector fires when enough consecutive 16-bit PCM chunks exceed an
// RMS energy threshold.
type EnergyDetector struct {
	threshold     float64
	requiredHits  int
	debugInterval int

	mu     sync.Mutex
	hits   int
	chunks int
}

type EnergyDetectorOption func(*EnergyDetector)

// WithDebugInterval logs the measured energy every n chunks. Zero disables it.
func WithDebugInterval(n int) EnergyDetectorOption {
	return func(d *EnergyDetector) { d.debugInterval = max(n, 0) }
}

func NewEnergyDetector(threshold float64, requiredHits int, opts ...EnergyDetectorOption) *EnergyDetector {
	d := &EnergyDetector{
		threshold:    threshold,
		requiredHits: max(requiredHits, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *EnergyDetector) Detect(chunk []byte) bool {
	if len(chunk) < 2 {
		return false
	}

	energy := RMS(chunk)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.chunks++
	if d.debugInterval > 0 && d.chunks%d.debugInterval == 0 {
		logger.DebugContext(context.Background(), "wake energy", "rms", energy, "threshold", d.threshold, "hits", d.hits)
	}

	if energy < d.threshold {
		d.hits = 0
		return false
	}

	d.hits++
	if d.hits < d.requiredHits {
		return false
	}

	d.hits = 0
	return true
}

// Reset forgets accumulated hits.
func (d *EnergyDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hits = 0
}

// RMS is the root mean square of little-endian signed 16-bit samples.
func RMS(chunk []byte) float64 {
	samples := len(chunk) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := range samples {
		sample := float64(int16(binary.LittleEndian.Uint16(chunk[2*i:])))
		sum += sample * sample
	}
	return math.Sqrt(sum / float64(samples))
}

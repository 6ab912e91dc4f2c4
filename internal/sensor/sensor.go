// Package sensor implements the Sensor component: a single validated
// Celsius reading per invocation, isolated from a driver that
// occasionally hangs behind a strict deadline.
package sensor

import (
	"context"
	"time"
)

// Bounds and timeout per spec §4.1.
const (
	MinTemp        = 0.0
	MaxTempReading = 200.0
	ReadTimeout    = 5 * time.Second
)

// Reading is a single validated temperature sample.
type Reading struct {
	TemperatureC float64
	Timestamp    time.Time
	SourceOK     bool
}

// Sensor produces one validated Celsius sample or a typed failure per
// call. A single call blocks at most ReadTimeout.
type Sensor interface {
	Read(ctx context.Context) (Reading, error)
}

// clampDeadline enforces ReadTimeout regardless of what the caller's
// context allows, so no caller can accidentally let a stuck driver run
// past the contract.
func clampDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, ReadTimeout)
}

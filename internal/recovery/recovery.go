// Package recovery implements the Recovery Detector: it watches the
// sensor window for the sudden, large temperature drop characteristic
// of a cold-water refill and signals when the Control Loop should swap
// the PID Engine to the more aggressive recovery gain profile.
package recovery

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/srjwebster/silvia-pid/internal/classifier"
)

// Tuning constants, per spec §4.7.
const (
	WindowSeconds = 60 * time.Second
	DropThreshold = 5.0
	ExitMargin    = 5.0
)

// Detector tracks whether recovery is currently engaged. It is owned
// exclusively by the Control Loop, mirroring the Sensor window it reads.
type Detector struct {
	active bool
}

// New constructs a Detector starting outside recovery.
func New() *Detector {
	return &Detector{}
}

// Active reports whether recovery is currently engaged.
func (d *Detector) Active() bool { return d.active }

// Update examines the window's last WindowSeconds and the latest
// reading against the target, and returns whether recovery is active
// after this tick along with whether that is a change from the prior
// tick (the Control Loop rebuilds the PID Engine exactly on change).
func (d *Detector) Update(tempNow, target float64, window *classifier.Window) (active, changed bool) {
	cutoff := time.Now().Add(-WindowSeconds)
	tMax, ok := window.MaxSince(cutoff)
	if !ok {
		tMax = tempNow
	}

	was := d.active
	switch {
	case !d.active:
		if tMax-tempNow >= DropThreshold && tempNow < target && tempNow < tMax {
			d.active = true
		}
	default:
		if tempNow >= target-ExitMargin {
			d.active = false
		}
	}

	if d.active != was {
		log.Info().Bool("recovery_active", d.active).Float64("temperature", tempNow).
			Float64("window_max", tMax).Msg("recovery: state changed")
	}
	return d.active, d.active != was
}

// Package classifier implements the State Classifier: the machine_state
// observation derived from a sliding temperature window, the commanded
// duty, and the active setpoint.
package classifier

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/srjwebster/silvia-pid/internal/config"
)

// OffRecordingInterval bounds how often an off-state sample is
// recorded (spec §4.8, OFF_STATE_RECORDING_INTERVAL_MS).
const OffRecordingInterval = 180 * time.Second

// warmThreshold, activeZoneThreshold and coolZoneMargin are the
// temperature thresholds named in spec §4.6 rules 2-5.
const (
	activeZoneThreshold = 80.0
	warmThreshold       = 40.0
	coolZoneMargin      = 0.02 // target * (1 - 0.02)

	coolingDutyFloor = 10.0
	drivenDutyFloor  = 20.0

	coolingRiseThreshold = -0.3
	risingRiseThreshold  = 1.0
)

// Classifier derives machine_state each tick and persists transitions
// to the Config Store so external observers can read the label without
// subscribing to the event stream (spec §4.6).
type Classifier struct {
	store *config.Store
	state config.MachineState

	lastOffRecordAt time.Time
	everRecorded    bool
}

// New constructs a Classifier starting in the unknown state (spec §3:
// Machine State is "unknown during startup before enough samples
// exist").
func New(store *config.Store) *Classifier {
	return &Classifier{store: store, state: config.StateUnknown}
}

// Current returns the most recently computed state without
// re-evaluating the rules.
func (c *Classifier) Current() config.MachineState { return c.state }

// Classify applies the six-rule priority ordering from spec §4.6 and
// persists the result to the Config Store if it changed. dutyPercent is
// the commanded duty expressed as 0..100; window holds recent samples
// including the current one.
func (c *Classifier) Classify(tempC, dutyPercent, target float64, now time.Time, window *Window) config.MachineState {
	samples := window.Snapshot()
	rise, haveRise := RiseSince(samples, now, DetectionWindow)

	next := classify(tempC, dutyPercent, target, rise, haveRise)

	if next != c.state {
		c.state = next
		if err := c.persist(next, now); err != nil {
			log.Error().Err(err).Msg("classifier: failed to persist machine_state transition")
		}
	}
	return c.state
}

// classify is the pure rule evaluation, isolated from the Classifier's
// persistence side effect so it is trivially table-testable.
func classify(tempC, dutyPercent, target, rise float64, haveRise bool) config.MachineState {
	// Rule 1: off if cooling under drive.
	if haveRise && rise <= coolingRiseThreshold && dutyPercent > coolingDutyFloor {
		return config.StateOff
	}

	// Rule 2: active zone.
	if tempC > activeZoneThreshold {
		if tempC >= target*(1-coolZoneMargin) {
			return config.StateReady
		}
		return config.StateHeating
	}

	// Rule 3: at/above setpoint in cool zone.
	if tempC >= target*(1-coolZoneMargin) || tempC >= target {
		return config.StateReady
	}

	// Rule 4: rising and warm.
	if haveRise && rise >= risingRiseThreshold && tempC > warmThreshold {
		return config.StateHeating
	}

	// Rule 5: driven but unclear.
	if dutyPercent > drivenDutyFloor {
		if tempC > warmThreshold {
			return config.StateHeating
		}
		return config.StateOff
	}

	// Rule 6: default.
	return config.StateOff
}

func (c *Classifier) persist(state config.MachineState, now time.Time) error {
	_, err := c.store.Write(func(cfg *config.Config) {
		cfg.MachineState = state
		cfg.MachineStateUpdated = now.UTC().Format(time.RFC3339)
	})
	return err
}

// ShouldRecord implements the smart recording policy (spec §4.8):
// heating/ready are always recorded; off is recorded at most once per
// OffRecordingInterval to limit flash write wear while still tracking
// cooldown.
func (c *Classifier) ShouldRecord(state config.MachineState, now time.Time) bool {
	if state != config.StateOff {
		return true
	}
	if !c.everRecorded || now.Sub(c.lastOffRecordAt) >= OffRecordingInterval {
		c.everRecorded = true
		c.lastOffRecordAt = now
		return true
	}
	return false
}

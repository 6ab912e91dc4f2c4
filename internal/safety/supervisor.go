// Package safety implements the Safety Supervisor: the pre-PID check
// ordering that keeps the actuator from ever being commanded under
// conditions that risk fire or boiler damage.
package safety

import (
	"github.com/rs/zerolog/log"

	"github.com/srjwebster/silvia-pid/internal/actuator"
)

// Hard limits per spec §3/§4.4.
const (
	MaxSafeTempC            = 160.0
	MaxConsecutiveFailures  = 5
	LogOnlyOvershootMarginC = 10.0
)

// Decision is the outcome of a pre-PID safety check: whether the PID
// should be stepped at all this tick, and whether/what should be
// written to the actuator immediately.
type Decision struct {
	// RunPID is false when a stale or failed reading means the loop
	// must not command anything based on it.
	RunPID bool
	// ForceOff is true when the actuator must be written 0 regardless
	// of what the PID computes (sensor-failure shutdown threshold; a
	// hard overtemp is reported by CheckOvertemp, not by a Decision).
	ForceOff bool
	// Shutdown is true when consecutive_failures has reached the
	// shutdown threshold this tick.
	Shutdown bool
}

// Supervisor tracks consecutive sensor failures across ticks and
// enforces the hard safety envelope. It is owned exclusively by the
// Control Loop.
type Supervisor struct {
	consecutiveFailures int
	act                 actuator.Actuator
}

// New constructs a Supervisor writing emergency shutdowns to act.
func New(act actuator.Actuator) *Supervisor {
	return &Supervisor{act: act}
}

// ConsecutiveFailures returns the current failure count.
func (s *Supervisor) ConsecutiveFailures() int { return s.consecutiveFailures }

// SensorFailure is step 1 of the pre-PID ordering: called when
// Sensor.Read failed this tick. It returns whether the PID/actuator
// write should be skipped and whether this tick latched a shutdown.
func (s *Supervisor) SensorFailure(err error) Decision {
	s.consecutiveFailures++
	if s.consecutiveFailures >= MaxConsecutiveFailures {
		s.act.Off()
		log.Error().Err(err).Int("consecutive_failures", s.consecutiveFailures).
			Msg("safety: sensor failure threshold reached, actuator forced off")
		return Decision{RunPID: false, ForceOff: true, Shutdown: true}
	}
	log.Warn().Err(err).Int("consecutive_failures", s.consecutiveFailures).
		Msg("safety: sensor read failed, skipping this tick")
	return Decision{RunPID: false, ForceOff: false, Shutdown: false}
}

// ResetFailures is called after any valid reading; it clears the
// consecutive-failure counter in a single step, per spec's Open
// Questions resolution: "counter resets on a single success."
func (s *Supervisor) ResetFailures() {
	s.consecutiveFailures = 0
}

// CheckOvertemp is step 2: a hard overtemp forces an immediate off and
// latches the failure counter to the shutdown threshold.
func (s *Supervisor) CheckOvertemp(tempC float64) bool {
	if tempC <= MaxSafeTempC {
		return false
	}
	s.act.Off()
	s.consecutiveFailures = MaxConsecutiveFailures
	log.Error().Float64("temperature", tempC).Float64("limit", MaxSafeTempC).
		Msg("EMERGENCY: temperature exceeds hard safety limit, actuator forced off")
	return true
}

// AtOrAboveSetpoint is step 3/4: once at or above target, the actuator
// write for this tick must be 0 regardless of PID output, though PID
// is still stepped to keep its derivative history current. It also
// logs the log-only extreme-overshoot case.
func (s *Supervisor) AtOrAboveSetpoint(tempC, target float64) bool {
	if tempC < target {
		return false
	}
	if tempC > target+LogOnlyOvershootMarginC {
		log.Error().Float64("temperature", tempC).Float64("target", target).
			Msg("EMERGENCY: temperature far exceeds setpoint")
	}
	return true
}

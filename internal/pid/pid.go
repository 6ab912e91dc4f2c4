// Package pid implements the PID Engine: a pure, allocation-free (after
// construction) discrete PID controller with saturation-aware
// anti-windup.
package pid

// SamplePeriodSeconds is the discrete sample period (spec §4.3), fixed
// to match the Control Loop's 1 Hz tick.
const SamplePeriodSeconds = 1.0

// DefaultOutMax is the actuator's duty range ceiling.
const DefaultOutMax = 255

// Gains bundles a (Kp, Ki, Kd) tuning as a value type, so swapping
// between the normal and recovery profiles is a plain struct copy.
type Gains struct {
	Kp, Ki, Kd float64
}

// Engine is a discrete PID controller. Proportional acts on error,
// integral accumulates in error-units with anti-windup, derivative acts
// on the error delta between successive steps.
type Engine struct {
	setpoint float64
	gains    Gains
	outMax   float64

	integral    float64
	prevError   float64
	hasPrevious bool
}

// New constructs an Engine with a fresh (zeroed) internal state.
func New(setpoint float64, gains Gains, outMax float64) *Engine {
	if outMax <= 0 {
		outMax = DefaultOutMax
	}
	return &Engine{setpoint: setpoint, gains: gains, outMax: outMax}
}

// Reset zeroes the integral and previous-error term without discarding
// the setpoint or gains. Used on the off->heating classifier transition
// (spec invariant 7).
func (e *Engine) Reset() {
	e.integral = 0
	e.prevError = 0
	e.hasPrevious = false
}

// Reconfigure swaps setpoint and gains. Per spec §4.3, a gain-set swap
// is modeled as Reset() followed by re-seeding setpoint/gains: the
// integral is deliberately discarded because recovery tuning is
// structurally different from normal tuning, and carrying an integral
// computed under one profile into the other risks a large, wrong-signed
// kick.
func (e *Engine) Reconfigure(setpoint float64, gains Gains) {
	e.Reset()
	e.setpoint = setpoint
	e.gains = gains
}

// Setpoint returns the engine's current setpoint.
func (e *Engine) Setpoint() float64 { return e.setpoint }

// Gains returns the engine's current gain set.
func (e *Engine) Gains() Gains { return e.gains }

// Step computes one control output for the given measurement and
// advances internal state by one sample period. The result is clamped
// to [0, outMax]; while clamped, the integral does not accumulate
// further in the saturating direction (anti-windup).
func (e *Engine) Step(measurement float64) float64 {
	err := e.setpoint - measurement

	proportional := e.gains.Kp * err

	derivative := 0.0
	if e.hasPrevious {
		derivative = e.gains.Kd * (err - e.prevError) / SamplePeriodSeconds
	}

	candidateIntegral := e.integral + err*SamplePeriodSeconds
	unclamped := proportional + e.gains.Ki*candidateIntegral + derivative

	var out float64
	switch {
	case unclamped > e.outMax:
		out = e.outMax
		// Saturated high: only accept the integral step if it does not
		// push further into saturation (anti-windup).
		if err < 0 || candidateIntegral < e.integral {
			e.integral = candidateIntegral
		}
	case unclamped < 0:
		out = 0
		if err > 0 || candidateIntegral > e.integral {
			e.integral = candidateIntegral
		}
	default:
		out = unclamped
		e.integral = candidateIntegral
	}

	e.prevError = err
	e.hasPrevious = true

	return out
}

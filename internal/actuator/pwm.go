package actuator

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// PWMFrequency is the switching frequency commanded on the relay pin.
// Solid-state relays driving a resistive heating element tolerate a
// slow PWM rate comfortably; 1 Hz keeps switching losses on the relay
// itself negligible.
const PWMFrequency = 1 * physic.Hertz

// PWM drives a GPIO pin configured for hardware or software PWM output,
// per periph.io's gpio.PinOut.PWM contract. It owns the pin exclusively
// (spec §3 Ownership).
type PWM struct {
	pin gpio.PinOut

	mu       sync.Mutex
	lastDuty uint8
}

// NewPWM wraps an already-resolved GPIO pin. Obtaining the pin handle
// itself (gpioreg.ByName, host.Init) is outside the core's scope.
func NewPWM(pin gpio.PinOut) *PWM {
	return &PWM{pin: pin}
}

// Write implements Actuator.
func (a *PWM) Write(duty uint8) {
	duty = clamp(duty)
	a.mu.Lock()
	a.lastDuty = duty
	a.mu.Unlock()

	d := gpio.Duty(int64(duty) * int64(gpio.DutyMax) / 255)
	if err := a.pin.PWM(context.Background(), d, PWMFrequency); err != nil {
		log.Error().Err(err).Uint8("duty", duty).Str("pin", a.pin.Name()).Msg("actuator: pwm write failed")
	}
}

// Off implements Actuator. It never propagates an error: on failure it
// logs and returns so the supervisor can keep attempting further
// shutdown steps (telemetry flush, config close) without being blocked.
func (a *PWM) Off() {
	a.mu.Lock()
	a.lastDuty = 0
	a.mu.Unlock()

	if err := a.pin.PWM(context.Background(), 0, PWMFrequency); err != nil {
		log.Error().Err(err).Str("pin", a.pin.Name()).Msg("actuator: off() failed, heater state unknown")
	}
}

// LastCommanded returns the most recently written duty cycle. The
// classifier does not read it: the Control Loop passes it the PID
// output for the tick instead.
func (a *PWM) LastCommanded() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastDuty
}

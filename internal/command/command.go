// Package command implements the Command Interface: the
// transport-agnostic operation surface consumed by the external HTTP
// layer (spec §4.11). It validates inputs and mutates only the Config
// Store and the Mode Controller.
package command

import (
	"fmt"
	"time"

	"github.com/srjwebster/silvia-pid/internal/config"
	"github.com/srjwebster/silvia-pid/internal/mode"
	"github.com/srjwebster/silvia-pid/internal/telemetry"
)

// ValidationError is returned for malformed or out-of-range inputs;
// InternalError wraps a failure in an underlying component (e.g. a
// persistent config write failure).
type ValidationError struct{ Msg string }

func (e ValidationError) Error() string { return e.Msg }

type InternalError struct {
	Op  string
	Err error
}

func (e InternalError) Error() string { return fmt.Sprintf("command: %s: %v", e.Op, e.Err) }
func (e InternalError) Unwrap() error { return e.Err }

// GainName enumerates the individually addressable gains for set_gain.
type GainName string

const (
	GainP         GainName = "proportional"
	GainI         GainName = "integral"
	GainD         GainName = "derivative"
	GainRecoveryP GainName = "recovery_proportional"
	GainRecoveryI GainName = "recovery_integral"
	GainRecoveryD GainName = "recovery_derivative"
)

// ModeResult is the result of set_mode/get_mode.
type ModeResult struct {
	Mode           mode.Mode
	Target         float64
	EspressoPref   float64
	SteamPref      float64
	SteamRemaining *time.Duration
	MachineState   config.MachineState
}

// StateResult is the result of get_state.
type StateResult struct {
	MachineState config.MachineState
	UpdatedAt    string
	Description  string
}

// Interface binds the Command Interface operations to a running loop's
// components. It holds no state of its own beyond those references.
type Interface struct {
	store   *config.Store
	modeCtl *mode.Controller
	tel     *telemetry.Store
}

// New constructs a Command Interface over the given components.
func New(store *config.Store, modeCtl *mode.Controller, tel *telemetry.Store) *Interface {
	return &Interface{store: store, modeCtl: modeCtl, tel: tel}
}

// SetMode validates and applies a mode change.
func (i *Interface) SetMode(target mode.Mode, duration time.Duration) (ModeResult, error) {
	m, setpoint, err := i.modeCtl.SetMode(target, duration)
	if err != nil {
		switch err {
		case mode.ErrInvalidMode, mode.ErrInvalidDuration:
			return ModeResult{}, ValidationError{Msg: err.Error()}
		default:
			return ModeResult{}, InternalError{Op: "set_mode", Err: err}
		}
	}
	return i.buildModeResult(m, setpoint), nil
}

// GetMode returns the current mode snapshot.
func (i *Interface) GetMode() ModeResult {
	cfg := i.store.Load()
	return i.buildModeResult(i.modeCtl.Current(), cfg.TargetTemperature)
}

func (i *Interface) buildModeResult(m mode.Mode, target float64) ModeResult {
	cfg := i.store.Load()
	res := ModeResult{
		Mode:         m,
		Target:       target,
		EspressoPref: cfg.EspressoTemp,
		SteamPref:    cfg.SteamTemp,
		MachineState: cfg.MachineState,
	}
	if remaining, armed := i.modeCtl.SteamRemaining(); armed {
		res.SteamRemaining = &remaining
	}
	return res
}

// SetTarget validates and applies a direct setpoint change.
func (i *Interface) SetTarget(tempC float64) (ModeResult, error) {
	if tempC < config.MinTargetTemperature || tempC > config.MaxTargetTemperature {
		return ModeResult{}, ValidationError{Msg: fmt.Sprintf("set_target: %.2f outside [%.0f, %.0f]", tempC, config.MinTargetTemperature, config.MaxTargetTemperature)}
	}
	if err := i.modeCtl.SetTarget(tempC); err != nil {
		return ModeResult{}, InternalError{Op: "set_target", Err: err}
	}
	return i.buildModeResult(i.modeCtl.Current(), tempC), nil
}

// Gains is the (p, i, d) result shape shared by set_gains and the
// underlying normal/recovery profiles.
type Gains struct{ P, I, D float64 }

// SetGains validates and writes the normal gain profile in one atomic
// config write.
func (i *Interface) SetGains(p, q, d float64) (Gains, error) {
	if err := validateGain(GainP, p); err != nil {
		return Gains{}, err
	}
	if err := validateGain(GainI, q); err != nil {
		return Gains{}, err
	}
	if err := validateGain(GainD, d); err != nil {
		return Gains{}, err
	}
	_, err := i.store.Write(func(c *config.Config) {
		c.Proportional = p
		c.Integral = q
		c.Derivative = d
	})
	if err != nil {
		return Gains{}, InternalError{Op: "set_gains", Err: err}
	}
	return Gains{P: p, I: q, D: d}, nil
}

// SetGain validates and writes a single named gain, normal or recovery.
func (i *Interface) SetGain(name GainName, v float64) (GainName, float64, error) {
	if err := validateGain(name, v); err != nil {
		return "", 0, err
	}
	_, err := i.store.Write(func(c *config.Config) {
		switch name {
		case GainP:
			c.Proportional = v
		case GainI:
			c.Integral = v
		case GainD:
			c.Derivative = v
		case GainRecoveryP:
			c.RecoveryProportional = v
		case GainRecoveryI:
			c.RecoveryIntegral = v
		case GainRecoveryD:
			c.RecoveryDerivative = v
		}
	})
	if err != nil {
		return "", 0, InternalError{Op: "set_gain", Err: err}
	}
	return name, v, nil
}

func validateGain(name GainName, v float64) error {
	if v < 0 {
		return ValidationError{Msg: fmt.Sprintf("set_gain: %s must be >= 0", name)}
	}
	var max float64
	switch name {
	case GainP, GainRecoveryP:
		max = config.MaxProportional
	case GainI, GainRecoveryI:
		max = config.MaxIntegral
	case GainD, GainRecoveryD:
		max = config.MaxDerivative
	default:
		return ValidationError{Msg: fmt.Sprintf("set_gain: unrecognized gain name %q", name)}
	}
	if v > max {
		return ValidationError{Msg: fmt.Sprintf("set_gain: %s=%.4f exceeds max %.4f", name, v, max)}
	}
	return nil
}

// History validates limit and returns telemetry records ascending by
// timestamp.
func (i *Interface) History(limit int) ([]telemetry.Record, error) {
	if limit < 1 || limit > 10000 {
		return nil, ValidationError{Msg: "history: limit must be in [1, 10000]"}
	}
	recs, err := i.tel.History(limit, nil)
	if err != nil {
		return nil, InternalError{Op: "history", Err: err}
	}
	return recs, nil
}

// GetState returns the classifier's current label with a
// human-readable description.
func (i *Interface) GetState() StateResult {
	cfg := i.store.Load()
	return StateResult{
		MachineState: cfg.MachineState,
		UpdatedAt:    cfg.MachineStateUpdated,
		Description:  describeState(cfg.MachineState),
	}
}

func describeState(s config.MachineState) string {
	switch s {
	case config.StateOff:
		return "boiler is not actively heating"
	case config.StateHeating:
		return "boiler is heating toward its setpoint"
	case config.StateReady:
		return "boiler is at or near its setpoint"
	default:
		return "not enough recent data to classify machine state"
	}
}

// Package mode implements the Mode Controller: the off/espresso/steam
// state machine, its per-mode setpoint resolution, and the
// self-terminating steam watchdog.
package mode

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/srjwebster/silvia-pid/internal/config"
)

// Mode is the commanded operating regime.
type Mode string

const (
	Off      Mode = "off"
	Espresso Mode = "espresso"
	Steam    Mode = "steam"
)

// Bounds on steam duration, per spec §4.5.
const (
	MinSteamDurationSeconds = 10
	MaxSteamDurationSeconds = 600
	DefaultSteamDuration    = 300 * time.Second
)

// ChangeReason tags why a transition happened.
type ChangeReason string

const (
	ReasonManual       ChangeReason = "manual"
	ReasonSteamTimeout ChangeReason = "steam_timeout"
)

// ChangeEvent is published on every transition for the external
// real-time push layer (spec §6).
type ChangeEvent struct {
	ID     string
	Mode   Mode
	Reason ChangeReason
	At     time.Time
}

// ErrInvalidMode and ErrInvalidDuration are the Controller's validation
// failures (spec §4.11).
var (
	ErrInvalidMode     = fmt.Errorf("mode: invalid target mode")
	ErrInvalidDuration = fmt.Errorf("mode: steam duration must be in [%d, %d] seconds", MinSteamDurationSeconds, MaxSteamDurationSeconds)
)

// Controller owns current_mode and the steam watchdog. Safe for
// concurrent use: Command Interface handlers call Set* from the
// request-serving threads of the external HTTP layer while the watchdog
// fires from its own timer goroutine.
type Controller struct {
	store *config.Store

	mu       sync.Mutex
	mode     Mode
	deadline time.Time // valid only while watchdog != nil
	watchdog *time.Timer

	events chan ChangeEvent
}

// New constructs a Controller starting in espresso mode, per spec
// §3 Lifecycles ("Mode is created at startup (espresso)").
func New(store *config.Store) *Controller {
	c := &Controller{
		store:  store,
		mode:   Espresso,
		events: make(chan ChangeEvent, 16),
	}
	return c
}

// Events returns the channel mode_change events are published on.
func (c *Controller) Events() <-chan ChangeEvent { return c.events }

// Current returns steam if and only if the watchdog is armed,
// otherwise the stored mode: the watchdog's presence is the source of
// truth while it lives (spec §4.5), avoiding a race between "mode
// written" and "timer fired".
func (c *Controller) Current() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchdog != nil {
		return Steam
	}
	return c.mode
}

// SteamRemaining returns the time left on an armed steam watchdog, or
// false if steam is not active.
func (c *Controller) SteamRemaining() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchdog == nil {
		return 0, false
	}
	remaining := time.Until(c.deadline)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// SetMode validates and applies a mode transition, resolving and
// persisting the new setpoint, arming/cancelling the steam watchdog,
// and emitting a mode_change event.
func (c *Controller) SetMode(target Mode, duration time.Duration) (Mode, float64, error) {
	switch target {
	case Off, Espresso, Steam:
	default:
		return "", 0, ErrInvalidMode
	}

	if target == Steam {
		if duration == 0 {
			duration = DefaultSteamDuration
		}
		if duration < MinSteamDurationSeconds*time.Second || duration > MaxSteamDurationSeconds*time.Second {
			return "", 0, ErrInvalidDuration
		}
	}

	// A repeated set_mode to the current non-steam mode is a no-op: no
	// setpoint rewrite, no duplicated mode_change event (spec §8
	// idempotence law). Steam always re-arms its watchdog and re-publishes
	// on re-entry, since each call restarts the countdown.
	c.mu.Lock()
	noop := target != Steam && c.mode == target && c.watchdog == nil
	c.mu.Unlock()
	if noop {
		return target, resolveSetpoint(target, c.store.Load()), nil
	}

	cfg := c.store.Load()
	setpoint := resolveSetpoint(target, cfg)

	if _, err := c.store.Write(func(c *config.Config) { c.TargetTemperature = setpoint }); err != nil {
		return "", 0, err
	}

	c.mu.Lock()
	c.cancelWatchdogLocked()
	c.mode = target
	if target == Steam {
		c.armWatchdogLocked(duration)
	}
	c.mu.Unlock()

	c.publish(target, ReasonManual)
	return target, setpoint, nil
}

func resolveSetpoint(m Mode, cfg config.Config) float64 {
	switch m {
	case Off:
		return 0
	case Steam:
		return cfg.SteamTemp
	default:
		return cfg.EspressoTemp
	}
}

// cancelWatchdogLocked cancels any outstanding watchdog. Idempotent.
func (c *Controller) cancelWatchdogLocked() {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}

func (c *Controller) armWatchdogLocked(duration time.Duration) {
	c.deadline = time.Now().Add(duration)
	c.watchdog = time.AfterFunc(duration, c.onWatchdogExpired)
}

// onWatchdogExpired runs on the timer's own goroutine: steam mode is
// self-terminating (spec invariant 6).
func (c *Controller) onWatchdogExpired() {
	c.mu.Lock()
	c.watchdog = nil
	c.mu.Unlock()

	log.Info().Msg("mode: steam watchdog expired, reverting to espresso")
	if _, _, err := c.setModeInternal(Espresso, 0, ReasonSteamTimeout); err != nil {
		log.Error().Err(err).Msg("mode: steam timeout transition failed")
	}
}

// setModeInternal writes the setpoint, cancels any watchdog, stores the
// mode and publishes with the given reason. It is used by the watchdog
// expiry path so the emitted event carries reason=steam_timeout rather
// than reason=manual. Unlike SetMode it does not validate, does not arm
// a steam watchdog, and ignores duration.
func (c *Controller) setModeInternal(target Mode, duration time.Duration, reason ChangeReason) (Mode, float64, error) {
	cfg := c.store.Load()
	setpoint := resolveSetpoint(target, cfg)

	if _, err := c.store.Write(func(cc *config.Config) { cc.TargetTemperature = setpoint }); err != nil {
		return "", 0, err
	}

	c.mu.Lock()
	c.cancelWatchdogLocked()
	c.mode = target
	c.mu.Unlock()

	c.publish(target, reason)
	return target, setpoint, nil
}

func (c *Controller) publish(m Mode, reason ChangeReason) {
	ev := ChangeEvent{ID: uuid.New().String(), Mode: m, Reason: reason, At: time.Now()}
	select {
	case c.events <- ev:
	default:
		log.Warn().Msg("mode: event channel full, dropping mode_change event")
	}
}

// SetTarget validates and applies a direct setpoint change, updating
// both the active setpoint and the per-mode preference field (spec
// §4.5): espresso_temperature while in espresso, steam_temperature
// while in steam, neither (only target_temperature) while off.
func (c *Controller) SetTarget(tempC float64) error {
	if tempC < 0 || tempC > 200 {
		return fmt.Errorf("mode: target %.2f outside [0, 200]", tempC)
	}

	current := c.Current()
	_, err := c.store.Write(func(cfg *config.Config) {
		cfg.TargetTemperature = tempC
		switch current {
		case Espresso:
			cfg.EspressoTemp = tempC
		case Steam:
			cfg.SteamTemp = tempC
		}
	})
	return err
}

// Close cancels any outstanding watchdog. Part of the shutdown
// sequence; safe to call alongside actuator-off and telemetry-flush.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelWatchdogLocked()
}

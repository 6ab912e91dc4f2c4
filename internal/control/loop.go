// Package control implements the Control Loop: the 1 Hz orchestrator
// composing Sensor, Safety Supervisor, Recovery Detector, PID Engine,
// State Classifier, Actuator, and Telemetry Store into the pseudocontract
// each tick must execute exactly once.
package control

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/srjwebster/silvia-pid/internal/actuator"
	"github.com/srjwebster/silvia-pid/internal/classifier"
	"github.com/srjwebster/silvia-pid/internal/config"
	"github.com/srjwebster/silvia-pid/internal/mode"
	"github.com/srjwebster/silvia-pid/internal/pid"
	"github.com/srjwebster/silvia-pid/internal/recovery"
	"github.com/srjwebster/silvia-pid/internal/safety"
	"github.com/srjwebster/silvia-pid/internal/sensor"
	"github.com/srjwebster/silvia-pid/internal/telemetry"
)

// ConfigReloadInterval and PruneInterval pace the loop's two
// secondary tasks, per spec §4.9 and §4.8.
const (
	ConfigReloadInterval = 10 * time.Second
	PruneInterval        = time.Hour
)

// Loop owns every piece of mutable control state: the sensor window,
// the consecutive-failure counter (via Supervisor), the active PID
// engine, and the classifier's prev-state/reset-armed bookkeeping. It
// is the sole writer of the Actuator and the sole reader of the Sensor.
type Loop struct {
	sensor     sensor.Sensor
	act        actuator.Actuator
	store      *config.Store
	modeCtl    *mode.Controller
	supervisor *safety.Supervisor
	engine     *pid.Engine
	classifier *classifier.Classifier
	recovery   *recovery.Detector
	telemetry  *telemetry.Store
	window     *classifier.Window

	running atomic.Bool

	prevState  config.MachineState
	resetArmed bool

	lastConfigReload time.Time
	lastPrune        time.Time
}

// New constructs a Loop wired to the given components, seeding the PID
// Engine from the Config Store's current snapshot.
func New(
	sen sensor.Sensor,
	act actuator.Actuator,
	store *config.Store,
	modeCtl *mode.Controller,
	tel *telemetry.Store,
) *Loop {
	cfg := store.Load()
	now := time.Now()
	return &Loop{
		sensor:           sen,
		act:              act,
		store:            store,
		modeCtl:          modeCtl,
		supervisor:       safety.New(act),
		engine:           pid.New(cfg.TargetTemperature, gainsFor(cfg, false), pid.DefaultOutMax),
		classifier:       classifier.New(store),
		recovery:         recovery.New(),
		telemetry:        tel,
		window:           classifier.NewWindow(),
		prevState:        config.StateUnknown,
		lastConfigReload: now,
		lastPrune:        now,
	}
}

func gainsFor(cfg config.Config, recoveryActive bool) pid.Gains {
	if recoveryActive {
		return pid.Gains{Kp: cfg.RecoveryProportional, Ki: cfg.RecoveryIntegral, Kd: cfg.RecoveryDerivative}
	}
	return pid.Gains{Kp: cfg.Proportional, Ki: cfg.Integral, Kd: cfg.Derivative}
}

// Tick runs one iteration of the pseudocontract in spec §4.10. If a
// prior tick is still in flight it is skipped rather than queued
// (invariant 5: no re-entry).
func (l *Loop) Tick(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		log.Warn().Msg("control: tick skipped, previous tick still running")
		return
	}
	defer l.running.Store(false)

	now := time.Now()
	cfg := l.store.Load() // single consistent snapshot for this tick

	reading, err := l.sensor.Read(ctx)
	if err != nil {
		l.supervisor.SensorFailure(err)
		l.telemetry.SetConsecutiveFailures(l.supervisor.ConsecutiveFailures())
		return
	}
	l.supervisor.ResetFailures()
	l.telemetry.SetConsecutiveFailures(0)
	l.telemetry.SetTemperature(reading.TemperatureC)
	l.window.Push(classifier.Sample{Temp: reading.TemperatureC, At: now})

	if l.supervisor.CheckOvertemp(reading.TemperatureC) {
		l.telemetry.SetOutputPercent(0)
		return
	}

	active, changed := l.recovery.Update(reading.TemperatureC, cfg.TargetTemperature, l.window)
	if changed {
		l.engine.Reconfigure(cfg.TargetTemperature, gainsFor(cfg, active))
		log.Info().Bool("recovery", active).Msg("control: PID engine rebuilt for recovery transition")
	}

	dutyRaw := l.engine.Step(reading.TemperatureC)
	dutyPercent := dutyRaw / pid.DefaultOutMax * 100

	state := l.classifier.Classify(reading.TemperatureC, dutyPercent, cfg.TargetTemperature, now, l.window)

	if l.prevState == config.StateOff && state == config.StateHeating && !l.resetArmed {
		l.engine.Reset()
		dutyRaw = l.engine.Step(reading.TemperatureC)
		l.resetArmed = true
	}
	if state == config.StateOff {
		l.resetArmed = false
	}
	l.prevState = state

	var duty uint8
	if l.supervisor.AtOrAboveSetpoint(reading.TemperatureC, cfg.TargetTemperature) {
		duty = 0
	} else {
		duty = clampDuty(dutyRaw)
	}
	l.act.Write(duty)
	l.telemetry.SetOutputPercent(float64(duty) / 255 * 100)

	pidMode := telemetry.ModeNormal
	if active {
		pidMode = telemetry.ModeRecovery
	}
	if l.classifier.ShouldRecord(state, now) {
		l.telemetry.Enqueue(telemetry.Record{
			TemperatureC:  reading.TemperatureC,
			OutputPercent: float64(duty) / 255 * 100,
			TimestampMs:   now.UnixMilli(),
			PIDMode:       pidMode,
		})
	}

	l.maybeReloadConfig(now)
	l.maybePrune(now)
}

func clampDuty(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

// maybeReloadConfig implements spec §4.9's 10 s reload cadence: a
// change to the active gain set or setpoint rebuilds the PID engine at
// the next tick boundary.
func (l *Loop) maybeReloadConfig(now time.Time) {
	if now.Sub(l.lastConfigReload) < ConfigReloadInterval {
		return
	}
	l.lastConfigReload = now

	newCfg, err := l.store.Reload()
	if err != nil {
		log.Error().Err(err).Msg("control: config reload failed")
		return
	}

	gains := gainsFor(newCfg, l.recovery.Active())
	if gains != l.engine.Gains() || newCfg.TargetTemperature != l.engine.Setpoint() {
		l.engine.Reconfigure(newCfg.TargetTemperature, gains)
		log.Info().Msg("control: PID engine rebuilt from reloaded configuration")
	}
}

func (l *Loop) maybePrune(now time.Time) {
	if now.Sub(l.lastPrune) < PruneInterval {
		return
	}
	l.lastPrune = now

	n, err := l.telemetry.Prune(now)
	if err != nil {
		log.Error().Err(err).Msg("control: telemetry retention sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int64("pruned", n).Msg("control: telemetry retention sweep completed")
	}
}

// Shutdown performs the three independent, best-effort shutdown steps
// from spec §5: actuator off, telemetry flush, config store close.
// Failure of one must not prevent the others.
func (l *Loop) Shutdown() {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		l.act.Off()
	}()
	go func() {
		defer wg.Done()
		if err := l.telemetry.Flush(); err != nil {
			log.Error().Err(err).Msg("control: telemetry flush on shutdown failed")
		}
	}()
	go func() {
		defer wg.Done()
		l.modeCtl.Close()
		if err := l.store.Close(); err != nil {
			log.Error().Err(err).Msg("control: config store close on shutdown failed")
		}
	}()

	wg.Wait()
}

// MachineState returns the classifier's current label. The Command
// Interface's get_state reads the label persisted in the Config Store
// instead.
func (l *Loop) MachineState() config.MachineState { return l.classifier.Current() }

// Package config implements the Config Store: an atomically-written,
// hot-reloadable JSON document holding the boiler's setpoints, PID gains,
// and the classifier's published machine state.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Field ranges and defaults, per the spec's configuration table.
const (
	MinTargetTemperature = 0.0
	MaxTargetTemperature = 200.0

	MinModeTemperature = 80.0
	MaxModeTemperature = 150.0

	MaxProportional = 10.0
	MaxIntegral     = 5.0
	MaxDerivative   = 100.0

	DefaultTargetTemperature = 100.0
	DefaultEspressoTemp      = 100.0
	DefaultSteamTemp         = 140.0
	DefaultP                 = 4.0
	DefaultI                 = 0.1
	DefaultD                 = 5.0
	DefaultRecoveryP         = 6.0
	DefaultRecoveryI         = 0.2
	DefaultRecoveryD         = 8.0
)

// MachineState mirrors the classifier's published label, persisted so
// external observers can read it without subscribing to the event stream.
type MachineState string

const (
	StateOff     MachineState = "off"
	StateHeating MachineState = "heating"
	StateReady   MachineState = "ready"
	StateUnknown MachineState = "unknown"
)

// Config is the set of recognized fields. Unknown keys present in the
// on-disk document are preserved on write-back via the Store's raw
// document map and are not represented here.
type Config struct {
	TargetTemperature float64 `json:"target_temperature"`
	EspressoTemp      float64 `json:"espresso_temperature"`
	SteamTemp         float64 `json:"steam_temperature"`

	Proportional float64 `json:"proportional"`
	Integral     float64 `json:"integral"`
	Derivative   float64 `json:"derivative"`

	RecoveryProportional float64 `json:"recovery_proportional"`
	RecoveryIntegral     float64 `json:"recovery_integral"`
	RecoveryDerivative   float64 `json:"recovery_derivative"`

	MachineState        MachineState `json:"machine_state"`
	MachineStateUpdated string       `json:"machine_state_updated"`
}

// Default returns the compiled-in safe defaults (spec §3 table).
func Default() Config {
	return Config{
		TargetTemperature:    DefaultTargetTemperature,
		EspressoTemp:         DefaultEspressoTemp,
		SteamTemp:            DefaultSteamTemp,
		Proportional:         DefaultP,
		Integral:             DefaultI,
		Derivative:           DefaultD,
		RecoveryProportional: DefaultRecoveryP,
		RecoveryIntegral:     DefaultRecoveryI,
		RecoveryDerivative:   DefaultRecoveryD,
		MachineState:         StateUnknown,
	}
}

// ErrPermissionDenied and ErrSerialization are the two failure modes
// Write can produce, per spec §4.9.
var (
	ErrPermissionDenied = errors.New("config: permission denied")
	ErrSerialization    = errors.New("config: serialization failure")
)

// Store owns the on-disk JSON config document. It validates numeric
// fields permissively-then-fallback (out-of-range -> last-known-good ->
// compiled default) and performs atomic whole-file replacement on write.
//
// Store is safe for concurrent use: Command Interface handlers and the
// Control Loop's 10s reload both call into it.
type Store struct {
	path string

	mu      sync.RWMutex
	current Config
	raw     map[string]json.RawMessage // preserves unknown keys
	modTime time.Time

	watcher *fsnotify.Watcher
	dirty   chan struct{}
}

// Open loads or creates the config file at path and starts an fsnotify
// watcher used only to set a dirty flag consulted at the next poll tick;
// the authoritative reload cadence remains the caller's 10s ticker
// (spec §4.9, §9: watch-based reload may supplement, not replace, the
// tick-boundary rebuild contract).
func Open(path string) (*Store, error) {
	s := &Store{
		path:  path,
		dirty: make(chan struct{}, 1),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDocument(path, toDoc(Default(), nil)); err != nil {
			return nil, fmt.Errorf("config: create default document: %w", err)
		}
	}

	if _, err := s.reloadLocked(true); err != nil {
		return nil, err
	}

	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(filepath.Dir(path)); err == nil {
			s.watcher = w
			go s.watchLoop()
		} else {
			w.Close()
			log.Warn().Err(err).Str("path", path).Msg("config: fsnotify watch failed, falling back to poll-only reload")
		}
	} else {
		log.Warn().Err(err).Msg("config: fsnotify unavailable, falling back to poll-only reload")
	}

	return s, nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			select {
			case s.dirty <- struct{}{}:
			default:
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config: fsnotify error")
		}
	}
}

// Close stops the fsnotify watcher. Best-effort; safe to call multiple
// times and safe to call alongside other shutdown steps.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Load returns the current in-memory snapshot without touching disk.
func (s *Store) Load() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload re-reads the file if it changed on disk (by mtime) or has been
// marked dirty by the fsnotify watcher; otherwise it is a no-op and
// returns the existing in-memory snapshot.
func (s *Store) Reload() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(false)
}

func (s *Store) reloadLocked(force bool) (Config, error) {
	select {
	case <-s.dirty:
		force = true
	default:
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return s.current, nil
	}
	if !force && !info.ModTime().After(s.modTime) {
		return s.current, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("config: reload read failed, keeping last-known-good")
		return s.current, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn().Err(err).Msg("config: malformed document, keeping last-known-good")
		return s.current, nil
	}

	lkg := s.current
	if s.raw == nil {
		lkg = Default()
	}
	next := validate(raw, lkg)

	s.current = next
	s.raw = raw
	s.modTime = info.ModTime()
	return s.current, nil
}

// validate applies the permissive-then-fallback numeric policy: a
// missing or out-of-range field falls back to the last-known-good
// value, which itself was seeded from compiled defaults.
func validate(raw map[string]json.RawMessage, lkg Config) Config {
	out := lkg

	getFloat := func(key string, lkgVal, min, max float64) float64 {
		msg, ok := raw[key]
		if !ok {
			return lkgVal
		}
		var v float64
		if err := json.Unmarshal(msg, &v); err != nil {
			return lkgVal
		}
		if v < min || v > max {
			return lkgVal
		}
		return v
	}

	out.TargetTemperature = getFloat("target_temperature", lkg.TargetTemperature, MinTargetTemperature, MaxTargetTemperature)
	out.EspressoTemp = getFloat("espresso_temperature", lkg.EspressoTemp, MinModeTemperature, MaxModeTemperature)
	out.SteamTemp = getFloat("steam_temperature", lkg.SteamTemp, MinModeTemperature, MaxModeTemperature)
	out.Proportional = getFloat("proportional", lkg.Proportional, 0, MaxProportional)
	out.Integral = getFloat("integral", lkg.Integral, 0, MaxIntegral)
	out.Derivative = getFloat("derivative", lkg.Derivative, 0, MaxDerivative)
	out.RecoveryProportional = getFloat("recovery_proportional", lkg.RecoveryProportional, 0, MaxProportional)
	out.RecoveryIntegral = getFloat("recovery_integral", lkg.RecoveryIntegral, 0, MaxIntegral)
	out.RecoveryDerivative = getFloat("recovery_derivative", lkg.RecoveryDerivative, 0, MaxDerivative)

	if msg, ok := raw["machine_state"]; ok {
		var v string
		if err := json.Unmarshal(msg, &v); err == nil {
			switch MachineState(v) {
			case StateOff, StateHeating, StateReady, StateUnknown:
				out.MachineState = MachineState(v)
			}
		}
	}
	if msg, ok := raw["machine_state_updated"]; ok {
		var v string
		if err := json.Unmarshal(msg, &v); err == nil {
			out.MachineStateUpdated = v
		}
	}

	return out
}

// Write performs a copy-on-write, field-level-validated update: callers
// pass a mutator that edits a copy of the current Config, and Write
// persists the result as a whole-file replacement, preserving any
// unknown keys from the document it loaded.
func (s *Store) Write(mutate func(*Config)) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	mutate(&next)

	doc := toDoc(next, s.raw)
	if err := writeDocumentWithRepair(s.path, doc); err != nil {
		return s.current, err
	}

	s.current = next
	var raw map[string]json.RawMessage
	if data, err := json.Marshal(doc); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	s.raw = raw
	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}
	return s.current, nil
}

func toDoc(c Config, raw map[string]json.RawMessage) map[string]any {
	doc := map[string]any{}
	for k, v := range raw {
		var decoded any
		_ = json.Unmarshal(v, &decoded)
		doc[k] = decoded
	}
	doc["target_temperature"] = c.TargetTemperature
	doc["espresso_temperature"] = c.EspressoTemp
	doc["steam_temperature"] = c.SteamTemp
	doc["proportional"] = c.Proportional
	doc["integral"] = c.Integral
	doc["derivative"] = c.Derivative
	doc["recovery_proportional"] = c.RecoveryProportional
	doc["recovery_integral"] = c.RecoveryIntegral
	doc["recovery_derivative"] = c.RecoveryDerivative
	doc["machine_state"] = string(c.MachineState)
	doc["machine_state_updated"] = c.MachineStateUpdated
	return doc
}

func writeDocument(path string, doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// writeDocumentWithRepair attempts the write once, and on a permission
// error makes one repair attempt (chmod 0644) before retrying, per
// spec §4.9/§7.
func writeDocumentWithRepair(path string, doc map[string]any) error {
	err := writeDocument(path, doc)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if chmodErr := os.Chmod(path, 0o644); chmodErr != nil {
		log.Error().Err(chmodErr).Str("path", path).Msg("config: permission repair failed")
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err := writeDocument(path, doc); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return nil
}

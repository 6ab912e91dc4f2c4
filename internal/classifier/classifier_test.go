package classifier

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srjwebster/silvia-pid/internal/config"
)

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := config.Open(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRuleCoolingUnderDriveBeatsActiveZone(t *testing.T) {
	// t=90 would be "active zone -> ready/heating" by rule 2, but a
	// sharp cooling trend under commanded duty must win (rule 1).
	state := classify(90, 50, 100, -0.5, true)
	assert.Equal(t, config.StateOff, state)
}

func TestRuleActiveZoneReadyAndHeating(t *testing.T) {
	assert.Equal(t, config.StateReady, classify(99, 5, 100, 0, false))
	assert.Equal(t, config.StateHeating, classify(85, 5, 100, 0, false))
}

func TestRuleAtOrAboveSetpointCoolZone(t *testing.T) {
	assert.Equal(t, config.StateReady, classify(70, 5, 70, 0, false))
}

func TestRuleRisingAndWarm(t *testing.T) {
	assert.Equal(t, config.StateHeating, classify(50, 5, 100, 1.5, true))
}

func TestRuleDrivenButUnclear(t *testing.T) {
	assert.Equal(t, config.StateHeating, classify(45, 25, 100, 0, false))
	assert.Equal(t, config.StateOff, classify(30, 25, 100, 0, false))
}

func TestRuleDefault(t *testing.T) {
	assert.Equal(t, config.StateOff, classify(20, 0, 100, 0, false))
}

func TestClassifyPersistsOnTransition(t *testing.T) {
	store := newTestStore(t)
	c := New(store)
	w := NewWindow()

	now := time.Now()
	w.Push(Sample{Temp: 99, At: now})
	state := c.Classify(99, 5, 100, now, w)

	assert.Equal(t, config.StateReady, state)
	assert.Equal(t, config.StateReady, store.Load().MachineState)
	assert.NotEmpty(t, store.Load().MachineStateUpdated)
}

func TestShouldRecordPolicy(t *testing.T) {
	c := New(newTestStore(t))
	now := time.Now()

	assert.True(t, c.ShouldRecord(config.StateHeating, now))
	assert.True(t, c.ShouldRecord(config.StateReady, now.Add(time.Second)))

	assert.True(t, c.ShouldRecord(config.StateOff, now.Add(2*time.Second)))
	assert.False(t, c.ShouldRecord(config.StateOff, now.Add(3*time.Second)))
	assert.True(t, c.ShouldRecord(config.StateOff, now.Add(2*time.Second+OffRecordingInterval)))
}

package control

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srjwebster/silvia-pid/internal/actuator"
	"github.com/srjwebster/silvia-pid/internal/config"
	"github.com/srjwebster/silvia-pid/internal/mode"
	"github.com/srjwebster/silvia-pid/internal/sensor"
	"github.com/srjwebster/silvia-pid/internal/telemetry"
)

func newHarness(t *testing.T) (*Loop, *sensor.Fake, *actuator.Fake, *config.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := config.Open(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tel, err := telemetry.Open(filepath.Join(dir, "telemetry.db"), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Close() })

	fakeSensor := sensor.NewFake()
	fakeAct := actuator.NewFake()
	modeCtl := mode.New(store)

	loop := New(fakeSensor, fakeAct, store, modeCtl, tel)
	return loop, fakeSensor, fakeAct, store
}

func TestDutyAlwaysInRange(t *testing.T) {
	loop, fs, act, _ := newHarness(t)
	fs.Push(50)
	loop.Tick(context.Background())
	assert.GreaterOrEqual(t, act.Last(), uint8(0))
	assert.LessOrEqual(t, act.Last(), uint8(255))
}

func TestAtOrAboveSetpointWritesZero(t *testing.T) {
	loop, fs, act, store := newHarness(t)
	target := store.Load().TargetTemperature
	fs.Push(target + 1)
	loop.Tick(context.Background())
	assert.Equal(t, uint8(0), act.Last())
}

func TestHardOvertempForcesOffAndLatches(t *testing.T) {
	loop, fs, act, _ := newHarness(t)
	fs.Push(165)
	loop.Tick(context.Background())
	assert.Equal(t, uint8(0), act.Last())
	assert.Equal(t, 5, loop.supervisor.ConsecutiveFailures())
}

func TestSensorDisconnectSequence(t *testing.T) {
	loop, fs, act, _ := newHarness(t)
	fs.Push(90)
	loop.Tick(context.Background())
	firstDuty := act.Last()

	for i := 0; i < 4; i++ {
		fs.PushError(sensor.TimeoutError{})
	}
	fs.PushError(sensor.TimeoutError{}) // 5th consecutive failure

	var durations []uint8
	for i := 0; i < 5; i++ {
		loop.Tick(context.Background())
		durations = append(durations, act.Last())
	}

	// first four stale ticks: actuator not rewritten, still reads as
	// whatever the hardware last held (firstDuty); 5th failure forces 0.
	for i := 0; i < 4; i++ {
		assert.Equal(t, firstDuty, durations[i])
	}
	assert.Equal(t, uint8(0), durations[4])

	fs.Push(90) // 7th tick: valid reading resets the counter
	loop.Tick(context.Background())
	assert.Equal(t, 0, loop.supervisor.ConsecutiveFailures())
}

func TestTickSkippedWhileAlreadyRunning(t *testing.T) {
	loop, fs, _, _ := newHarness(t)
	fs.Push(90)
	loop.running.Store(true)
	loop.Tick(context.Background())
	assert.Equal(t, 0, fs.Calls(), "sensor should not be read while a tick is already in flight")
	loop.running.Store(false)
}

func TestColdStartReachesHeatingClassification(t *testing.T) {
	loop, fs, act, _ := newHarness(t)
	measurement := 20.0
	sawHeating := false
	for i := 0; i < 90; i++ {
		fs.Push(measurement)
		loop.Tick(context.Background())
		if loop.MachineState() == config.StateHeating {
			sawHeating = true
		}
		duty := float64(act.Last())
		measurement += duty/255*2.0 - (measurement-20)*0.02
	}
	assert.True(t, sawHeating)
}

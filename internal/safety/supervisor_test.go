package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srjwebster/silvia-pid/internal/actuator"
	"github.com/srjwebster/silvia-pid/internal/sensor"
)

func TestSensorFailureShutsDownAtThreshold(t *testing.T) {
	act := actuator.NewFake()
	s := New(act)

	for i := 1; i < MaxConsecutiveFailures; i++ {
		d := s.SensorFailure(sensor.TimeoutError{})
		assert.False(t, d.Shutdown, "should not shut down before threshold, attempt %d", i)
		assert.False(t, d.RunPID)
	}

	d := s.SensorFailure(sensor.TimeoutError{})
	require.True(t, d.Shutdown)
	assert.True(t, d.ForceOff)
	assert.Equal(t, uint8(0), act.Last())
	assert.Equal(t, MaxConsecutiveFailures, s.ConsecutiveFailures())
}

func TestResetFailuresClearsOnSingleSuccess(t *testing.T) {
	act := actuator.NewFake()
	s := New(act)
	s.SensorFailure(sensor.TimeoutError{})
	s.SensorFailure(sensor.TimeoutError{})
	s.ResetFailures()
	assert.Equal(t, 0, s.ConsecutiveFailures())
}

func TestOvertempLatchesShutdownThreshold(t *testing.T) {
	act := actuator.NewFake()
	s := New(act)

	assert.True(t, s.CheckOvertemp(165))
	assert.Equal(t, MaxConsecutiveFailures, s.ConsecutiveFailures())
	assert.Equal(t, uint8(0), act.Last())

	assert.False(t, s.CheckOvertemp(159.9))
}

func TestAtOrAboveSetpoint(t *testing.T) {
	act := actuator.NewFake()
	s := New(act)
	assert.True(t, s.AtOrAboveSetpoint(100, 100))
	assert.True(t, s.AtOrAboveSetpoint(111, 100))
	assert.False(t, s.AtOrAboveSetpoint(99.9, 100))
}

package pid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepClampsToOutMax(t *testing.T) {
	e := New(100, Gains{Kp: 100, Ki: 0, Kd: 0}, 255)
	out := e.Step(0)
	assert.Equal(t, 255.0, out)
}

func TestStepClampsToZero(t *testing.T) {
	e := New(0, Gains{Kp: 100, Ki: 0, Kd: 0}, 255)
	out := e.Step(100)
	assert.Equal(t, 0.0, out)
}

func TestResetClearsIntegralAndDerivativeHistory(t *testing.T) {
	e := New(100, Gains{Kp: 1, Ki: 1, Kd: 1}, 255)
	e.Step(50)
	e.Step(60)
	e.Reset()
	assert.Equal(t, 0.0, e.integral)
	assert.False(t, e.hasPrevious)
}

func TestReconfigureDiscardsIntegral(t *testing.T) {
	e := New(100, Gains{Kp: 1, Ki: 1, Kd: 1}, 255)
	e.Step(20) // accumulates a large integral under normal gains
	before := e.integral
	assert.NotEqual(t, 0.0, before)

	e.Reconfigure(100, Gains{Kp: 6, Ki: 0.2, Kd: 8})
	assert.Equal(t, 0.0, e.integral)
	assert.Equal(t, Gains{Kp: 6, Ki: 0.2, Kd: 8}, e.Gains())
}

func TestAntiWindupStopsIntegralGrowthWhileSaturatedHigh(t *testing.T) {
	e := New(200, Gains{Kp: 1, Ki: 10, Kd: 0}, 255)
	e.Step(0) // huge error, saturates high immediately
	satIntegral := e.integral

	e.Step(0) // still saturated in the same direction
	assert.Equal(t, satIntegral, e.integral, "integral must not keep growing while saturated in the same direction")
}

func TestConvergesTowardSetpointUnderModestGains(t *testing.T) {
	e := New(100, Gains{Kp: 4, Ki: 0.1, Kd: 0.5}, 255)
	measurement := 20.0
	for i := 0; i < 200; i++ {
		duty := e.Step(measurement)
		// crude first-order plant: duty drives temperature up, ambient
		// loss pulls it down.
		measurement += duty/255*2.0 - (measurement-20)*0.01
	}
	assert.InDelta(t, 100, measurement, 5)
}

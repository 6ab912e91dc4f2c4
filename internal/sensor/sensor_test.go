package sensor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeSensorSuccess(t *testing.T) {
	f := NewFake()
	f.Push(95.5)

	r, err := f.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 95.5, r.TemperatureC)
	assert.True(t, r.SourceOK)
}

func TestFakeSensorFailureSequence(t *testing.T) {
	f := NewFake()
	f.PushError(TimeoutError{})
	f.PushError(TimeoutError{})
	f.Push(100)

	_, err := f.Read(context.Background())
	assert.ErrorIs(t, err, TimeoutError{})

	_, err = f.Read(context.Background())
	assert.ErrorIs(t, err, TimeoutError{})

	r, err := f.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, r.TemperatureC)
	assert.Equal(t, 3, f.Calls())
}

func TestOutOfRangeBoundaries(t *testing.T) {
	cases := []struct {
		value   float64
		wantErr bool
	}{
		{0.0, false},
		{200.0, false},
		{-0.1, true},
		{200.1, true},
	}
	for _, c := range cases {
		err := boundsCheck(c.value)
		if c.wantErr {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err)
		}
	}
}

func boundsCheck(v float64) error {
	if v < MinTemp || v > MaxTempReading {
		return &OutOfRangeError{Value: v, Min: MinTemp, Max: MaxTempReading}
	}
	return nil
}

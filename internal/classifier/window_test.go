package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowEvictsBeyondHistorySize(t *testing.T) {
	w := NewWindow()
	base := time.Now()
	for i := 0; i < HistorySize+10; i++ {
		w.Push(Sample{Temp: float64(i), At: base.Add(time.Duration(i) * time.Second)})
	}
	assert.Len(t, w.Snapshot(), HistorySize)
}

func TestRiseSinceComputesDeltaOverLookback(t *testing.T) {
	base := time.Now()
	samples := []Sample{
		{Temp: 90, At: base},
		{Temp: 91, At: base.Add(20 * time.Second)},
		{Temp: 93, At: base.Add(40 * time.Second)},
	}
	now := base.Add(40 * time.Second)
	rise, ok := RiseSince(samples, now, 60*time.Second)
	assert.True(t, ok)
	assert.InDelta(t, 3.0, rise, 1e-9)
}

func TestRiseSinceFalseWithInsufficientHistory(t *testing.T) {
	base := time.Now()
	samples := []Sample{{Temp: 90, At: base}}
	rise, ok := RiseSince(samples, base, 60*time.Second)
	assert.False(t, ok)
	assert.Equal(t, 0.0, rise)
}

func TestMaxSinceReturnsPeakAcrossWindow(t *testing.T) {
	w := NewWindow()
	base := time.Now()
	w.Push(Sample{Temp: 90, At: base})
	w.Push(Sample{Temp: 101, At: base.Add(time.Second)})
	w.Push(Sample{Temp: 95, At: base.Add(2 * time.Second)})
	max, ok := w.MaxSince(base.Add(-time.Hour))
	assert.True(t, ok)
	assert.Equal(t, 101.0, max)
}

func TestMaxSinceExcludesSamplesBeforeCutoff(t *testing.T) {
	w := NewWindow()
	base := time.Now()
	w.Push(Sample{Temp: 101, At: base})
	w.Push(Sample{Temp: 90, At: base.Add(time.Second)})
	max, ok := w.MaxSince(base.Add(500 * time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, 90.0, max)
}

func TestMaxSinceFalseWhenWindowEmpty(t *testing.T) {
	w := NewWindow()
	_, ok := w.MaxSince(time.Now())
	assert.False(t, ok)
}

package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := Open(path, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnqueueFlushesAtBatchSize(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UnixMilli()

	for i := 0; i < BatchSize; i++ {
		s.Enqueue(Record{TemperatureC: 90 + float64(i), OutputPercent: 50, TimestampMs: now + int64(i), PIDMode: ModeNormal})
	}

	recs, err := s.History(100, nil)
	require.NoError(t, err)
	assert.Len(t, recs, BatchSize)
}

func TestFlushWritesPartialBatch(t *testing.T) {
	s := openTestStore(t)
	s.Enqueue(Record{TemperatureC: 100, OutputPercent: 10, TimestampMs: time.Now().UnixMilli(), PIDMode: ModeRecovery})
	require.NoError(t, s.Flush())

	recs, err := s.History(10, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ModeRecovery, recs[0].PIDMode)
}

func TestHistorySinceFiltersAndOrders(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UnixMilli()
	for i, temp := range []float64{91, 92, 93} {
		s.Enqueue(Record{TemperatureC: temp, OutputPercent: 10, TimestampMs: base + int64(i)*1000, PIDMode: ModeNormal})
	}
	require.NoError(t, s.Flush())

	since := base
	recs, err := s.History(100, &since)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 92.0, recs[0].TemperatureC)
	assert.Equal(t, 93.0, recs[1].TemperatureC)
}

func TestPruneRemovesOldRecords(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	old := now.AddDate(0, 0, -RetentionDays-1).UnixMilli()
	recent := now.UnixMilli()

	s.Enqueue(Record{TemperatureC: 50, TimestampMs: old, PIDMode: ModeNormal})
	s.Enqueue(Record{TemperatureC: 95, TimestampMs: recent, PIDMode: ModeNormal})
	require.NoError(t, s.Flush())

	n, err := s.Prune(now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recs, err := s.History(100, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 95.0, recs[0].TemperatureC)
}

func TestRecentCapsAtLimit(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		s.Enqueue(Record{TemperatureC: float64(90 + i), TimestampMs: now + int64(i)*1000, PIDMode: ModeNormal})
	}
	require.NoError(t, s.Flush())

	recs, err := s.Recent(3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 92.0, recs[0].TemperatureC)
	assert.Equal(t, 94.0, recs[2].TemperatureC)
}

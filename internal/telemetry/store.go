package telemetry

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Tuning constants, per spec §4.8.
const (
	BatchSize          = 10
	OverflowMultiplier = 10
	RetentionDays      = 7
)

const schema = `
CREATE TABLE IF NOT EXISTS telemetry (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	temperature  REAL    NOT NULL,
	output       REAL    NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	pid_mode     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_timestamp ON telemetry(timestamp_ms);
`

// Store owns the sqlite-backed telemetry table and the in-process
// batching buffer in front of it. The Control Loop is the sole caller
// of Enqueue; an hourly sweep calls Prune; shutdown calls Flush. These
// must not collide, so all mutation goes through mu.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	buffer   []Record
	overflow *overflowRing

	bufferDepth    prometheus.Gauge
	droppedTotal   prometheus.Counter
	writeFailures  prometheus.Counter
	recordsWritten prometheus.Counter

	temperature         prometheus.Gauge
	outputPercent       prometheus.Gauge
	consecutiveFailures prometheus.Gauge
}

// Open creates (if absent) the sqlite database at path and its schema.
func Open(path string, reg prometheus.Registerer) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer, avoids SQLITE_BUSY

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("telemetry: migrate schema: %w", err)
	}

	s := &Store{
		db:       db,
		buffer:   make([]Record, 0, BatchSize),
		overflow: newOverflowRing(BatchSize * OverflowMultiplier),

		bufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silviapid_telemetry_buffer_depth",
			Help: "Records currently held in the telemetry write buffer.",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silviapid_telemetry_records_dropped_total",
			Help: "Records discarded after the overflow buffer filled.",
		}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silviapid_telemetry_write_failures_total",
			Help: "Batch writes to the telemetry store that failed.",
		}),
		recordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silviapid_telemetry_records_written_total",
			Help: "Records successfully persisted to the telemetry store.",
		}),

		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silviapid_temperature_celsius",
			Help: "Most recently read boiler temperature.",
		}),
		outputPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silviapid_output_percent",
			Help: "Most recently commanded heater duty cycle, as a percentage.",
		}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silviapid_consecutive_failures",
			Help: "Current consecutive sensor read failure count.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			s.bufferDepth, s.droppedTotal, s.writeFailures, s.recordsWritten,
			s.temperature, s.outputPercent, s.consecutiveFailures,
		)
	}

	return s, nil
}

// Close flushes any buffered records and closes the database handle.
func (s *Store) Close() error {
	_ = s.Flush()
	return s.db.Close()
}

// Enqueue buffers a record, flushing the batch once BatchSize is
// reached. Control never blocks on telemetry: flush failures are
// absorbed into the overflow ring rather than propagated.
func (s *Store) Enqueue(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, r)
	s.bufferDepth.Set(float64(len(s.buffer)))
	if len(s.buffer) >= BatchSize {
		s.flushLocked()
	}
}

// SetTemperature publishes the latest boiler reading on the
// silviapid_temperature_celsius gauge, independent of whether this tick
// was also persisted as a Record.
func (s *Store) SetTemperature(tempC float64) { s.temperature.Set(tempC) }

// SetOutputPercent publishes the latest commanded duty cycle on the
// silviapid_output_percent gauge.
func (s *Store) SetOutputPercent(pct float64) { s.outputPercent.Set(pct) }

// SetConsecutiveFailures publishes the Safety Supervisor's current
// consecutive sensor failure count on the silviapid_consecutive_failures
// gauge.
func (s *Store) SetConsecutiveFailures(n int) { s.consecutiveFailures.Set(float64(n)) }

// Flush synchronously writes any buffered records. Used on graceful
// shutdown (spec §5: "Shutdown signals trigger ... telemetry buffer
// flush").
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	pending := s.overflow.Drain()
	pending = append(pending, s.buffer...)
	s.buffer = s.buffer[:0]
	s.bufferDepth.Set(0)

	if len(pending) == 0 {
		return nil
	}

	if err := s.writeBatch(pending); err != nil {
		s.writeFailures.Inc()
		dropped := s.overflow.Push(pending...)
		if dropped > 0 {
			s.droppedTotal.Add(float64(dropped))
			log.Warn().Int("dropped", dropped).Msg("telemetry: overflow buffer full, oldest records dropped")
		}
		log.Error().Err(err).Int("pending", len(pending)).Msg("telemetry: batch write failed, records held in overflow")
		return err
	}

	s.recordsWritten.Add(float64(len(pending)))
	return nil
}

func (s *Store) writeBatch(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO telemetry (temperature, output, timestamp_ms, pid_mode) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.TemperatureC, r.OutputPercent, r.TimestampMs, string(r.PIDMode)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// History returns records with timestamp_ms > since (or all, if since
// is nil), ascending by timestamp, capped at limit.
func (s *Store) History(limit int, since *int64) ([]Record, error) {
	var rows *sql.Rows
	var err error
	if since != nil {
		rows, err = s.db.Query(
			`SELECT temperature, output, timestamp_ms, pid_mode FROM telemetry WHERE timestamp_ms > ? ORDER BY timestamp_ms ASC LIMIT ?`,
			*since, limit)
	} else {
		rows, err = s.db.Query(
			`SELECT temperature, output, timestamp_ms, pid_mode FROM telemetry ORDER BY timestamp_ms ASC LIMIT ?`,
			limit)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: history query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Recent returns up to limit of the most-recent records from the last
// hour, ascending by timestamp (spec §4.8 stock query).
func (s *Store) Recent(limit int) ([]Record, error) {
	cutoff := time.Now().Add(-time.Hour).UnixMilli()
	rows, err := s.db.Query(
		`SELECT temperature, output, timestamp_ms, pid_mode FROM (
			SELECT temperature, output, timestamp_ms, pid_mode FROM telemetry
			WHERE timestamp_ms > ? ORDER BY timestamp_ms DESC LIMIT ?
		) ORDER BY timestamp_ms ASC`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("telemetry: recent query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		var mode string
		if err := rows.Scan(&r.TemperatureC, &r.OutputPercent, &r.TimestampMs, &mode); err != nil {
			return nil, err
		}
		r.PIDMode = PIDMode(mode)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes records older than RetentionDays relative to now, per
// spec §4.8's hourly sweep. Returns the number of rows removed.
func (s *Store) Prune(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.AddDate(0, 0, -RetentionDays).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM telemetry WHERE timestamp_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("telemetry: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

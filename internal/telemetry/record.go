// Package telemetry implements the Telemetry Store: batched,
// retention-pruned time-series persistence of boiler samples, with a
// bounded in-memory overflow path when the backing store is
// unavailable.
package telemetry

// PIDMode tags which gain profile produced a Record's output, per spec
// invariant 8: the field reflects the engine mode at the time of the
// record, not at query time.
type PIDMode string

const (
	ModeNormal   PIDMode = "normal"
	ModeRecovery PIDMode = "recovery"
)

// Record is one sample of the control loop's state (spec §3).
type Record struct {
	TemperatureC  float64
	OutputPercent float64
	TimestampMs   int64
	PIDMode       PIDMode
}

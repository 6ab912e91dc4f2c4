package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// DefaultMCP9600Addr is the MCP9600's I2C address with all address pins
// tied low.
const DefaultMCP9600Addr = 0x60

// hotJunctionRegister is the MCP9600 register holding the thermocouple's
// hot-junction temperature, 16-bit signed, 0.0625 C/LSB.
const hotJunctionRegister = 0x00

// statusRegister's bit 0 latches when a new conversion has completed;
// we don't gate on it (the caller ticks at 1 Hz, comfortably slower
// than the chip's conversion rate), but it's kept here for documentation.
const statusRegister = 0x04

// MCP9600 reads an MCP9600 K-type thermocouple amplifier over I2C. The
// underlying bus transaction is synchronous; ReadTimeout is enforced by
// running it on a background goroutine and abandoning it (not
// cancelling it -- periph.io's i2c.Dev.Tx has no cancellation hook) if
// it overruns, so a wedged bus never blocks the control loop past the
// deadline. An abandoned transaction's result, if it eventually
// arrives, is discarded.
type MCP9600 struct {
	dev *i2c.Dev
}

// NewMCP9600 wraps an already-opened I2C bus handle. Opening and owning
// the bus itself is outside the core's scope (spec §1): callers obtain
// bus from periph.io/x/host's platform driver registry.
func NewMCP9600(bus i2c.Bus, addr uint16) *MCP9600 {
	if addr == 0 {
		addr = DefaultMCP9600Addr
	}
	return &MCP9600{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

type readResult struct {
	temp float64
	err  error
}

// Read implements Sensor.
func (m *MCP9600) Read(ctx context.Context) (Reading, error) {
	ctx, cancel := clampDeadline(ctx)
	defer cancel()

	ch := make(chan readResult, 1)
	go func() {
		t, err := m.readHotJunction()
		ch <- readResult{t, err}
	}()

	select {
	case <-ctx.Done():
		return Reading{}, TimeoutError{}
	case r := <-ch:
		if r.err != nil {
			return Reading{}, &ProcessError{Code: -1, Stderr: r.err.Error()}
		}
		if r.temp < MinTemp || r.temp > MaxTempReading {
			return Reading{}, &OutOfRangeError{Value: r.temp, Min: MinTemp, Max: MaxTempReading}
		}
		return Reading{TemperatureC: r.temp, Timestamp: time.Now(), SourceOK: true}, nil
	}
}

func (m *MCP9600) readHotJunction() (float64, error) {
	var buf [2]byte
	if err := m.dev.Tx([]byte{hotJunctionRegister}, buf[:]); err != nil {
		return 0, fmt.Errorf("mcp9600: i2c transaction: %w", err)
	}
	raw := int16(binary.BigEndian.Uint16(buf[:]))
	return float64(raw) * 0.0625, nil
}

package sensor

import (
	"context"
	"sync"
	"time"
)

// Fake is a programmable Sensor double for tests and for the serve
// command's --dry-run mode. Each call to Read consumes one queued
// response; once the queue is empty it repeats the last response
// indefinitely.
type Fake struct {
	mu        sync.Mutex
	responses []response
	last      *response
	calls     int
}

type response struct {
	reading Reading
	err     error
}

// NewFake returns a Fake with no queued responses; it always returns a
// single default reading until Push/PushError is called.
func NewFake() *Fake {
	return &Fake{}
}

// Push queues a successful reading.
func (f *Fake) Push(tempC float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, response{reading: Reading{TemperatureC: tempC, Timestamp: time.Now(), SourceOK: true}})
}

// PushError queues a failure.
func (f *Fake) PushError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, response{err: err})
}

// Calls returns the number of times Read has been invoked.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Read implements Sensor.
func (f *Fake) Read(ctx context.Context) (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	var r response
	if len(f.responses) > 0 {
		r, f.responses = f.responses[0], f.responses[1:]
		f.last = &r
	} else if f.last != nil {
		r = *f.last
	} else {
		return Reading{TemperatureC: 20, Timestamp: time.Now(), SourceOK: true}, nil
	}
	if r.err != nil {
		return Reading{}, r.err
	}
	return r.reading, nil
}

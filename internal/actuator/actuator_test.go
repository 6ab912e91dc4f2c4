package actuator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFakeWriteClamps(t *testing.T) {
	f := NewFake()
	f.Write(255)
	f.Write(0)
	assert.Equal(t, []uint8{255, 0}, f.History)
	assert.Equal(t, uint8(0), f.Last())
}

func TestFakeOffIsZero(t *testing.T) {
	f := NewFake()
	f.Write(200)
	f.Off()
	assert.Equal(t, uint8(0), f.Last())
}

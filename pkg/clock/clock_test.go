package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonicNeverGoesBackwards(t *testing.T) {
	var c Monotonic
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		now := c.Now()
		assert.GreaterOrEqual(t, now, prev)
		prev = now
	}
	assert.Positive(t, prev)
}

func TestManualClock(t *testing.T) {
	m := NewManual(100)
	assert.Equal(t, int64(100), m.Now())

	m.Advance(time.Microsecond)
	assert.Equal(t, int64(1100), m.Now())

	m.Set(5)
	assert.Equal(t, int64(5), m.Now())
}

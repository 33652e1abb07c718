package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())
	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, start.Add(1500*time.Millisecond), c.Now())

	later := start.Add(time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestMillisRoundtrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 123_000_000, time.UTC)
	assert.True(t, ts.Equal(FromMillis(Millis(ts))))
}

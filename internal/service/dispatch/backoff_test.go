package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayDoublesWithJitter(t *testing.T) {
	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for attempt, base := range expected {
		for i := 0; i < 20; i++ {
			delay := backoffDelay(attempt)
			assert.GreaterOrEqual(t, delay, time.Duration(float64(base)*0.8))
			assert.LessOrEqual(t, delay, time.Duration(float64(base)*1.2))
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	for i := 0; i < 20; i++ {
		delay := backoffDelay(10)
		assert.LessOrEqual(t, delay, time.Duration(float64(30*time.Second)*1.2))
		assert.GreaterOrEqual(t, delay, time.Duration(float64(30*time.Second)*0.8))
	}
}

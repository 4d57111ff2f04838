package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 3 * time.Second, Max: 5 * time.Minute, MaxAttempts: 20}

	t.Run("jitter stays within the attempt's window", func(t *testing.T) {
		for attempt := 0; attempt < 10; attempt++ {
			ceiling := b.Base << attempt
			if ceiling > b.Max {
				ceiling = b.Max
			}
			for i := 0; i < 50; i++ {
				d := b.Delay(attempt)
				assert.GreaterOrEqual(t, d, ceiling/2, "attempt %d", attempt)
				assert.Less(t, d, ceiling, "attempt %d", attempt)
			}
		}
	})

	t.Run("delay caps at max", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			d := b.Delay(1000)
			assert.Less(t, d, b.Max)
			assert.GreaterOrEqual(t, d, b.Max/2)
		}
	})

	t.Run("later attempts do not shrink the window", func(t *testing.T) {
		low := b.Delay(0)
		assert.GreaterOrEqual(t, low, b.Base/2)
	})
}

func TestBackoffExhausted(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, MaxAttempts: 3}

	assert.False(t, b.Exhausted(0))
	assert.False(t, b.Exhausted(2))
	assert.True(t, b.Exhausted(3))
	assert.True(t, b.Exhausted(10))

	unlimited := Backoff{Base: time.Second, Max: time.Minute}
	assert.False(t, unlimited.Exhausted(1_000_000))
}

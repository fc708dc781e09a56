package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestBackoffDelay_NeverExceedsMaxPlusJitter(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := time.Duration(rapid.IntRange(1, 5000).Draw(rt, "baseMs")) * time.Millisecond
		attempt := rapid.IntRange(1, 20).Draw(rt, "attempt")
		max := time.Duration(rapid.IntRange(1000, 60000).Draw(rt, "maxMs")) * time.Millisecond

		d := backoffDelay(base, attempt, max)

		assert.GreaterOrEqual(rt, d, base, "delay should never fall below base")
		// jitter can push the delay up to 25% past max.
		assert.LessOrEqual(rt, d, max+time.Duration(float64(max)*0.25)+1)
	})
}

func TestBackoffDelay_GrowsWithAttemptBeforeCapping(t *testing.T) {
	base := 1 * time.Second
	max := 30 * time.Second

	first := backoffDelay(base, 1, max)
	fourth := backoffDelay(base, 4, max)

	assert.GreaterOrEqual(t, fourth, first)
}

func TestBackoffDelay_DefaultsMatchSpecValues(t *testing.T) {
	base := 1 * time.Second
	max := 30 * time.Second
	for attempt := 1; attempt <= 5; attempt++ {
		d := backoffDelay(base, attempt, max)
		assert.True(t, d > 0)
		assert.LessOrEqual(t, d, max+max/4+1)
	}
}

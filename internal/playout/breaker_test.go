package playout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.CanAttempt())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.CanAttempt())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.CanAttempt())
	assert.Equal(t, 3, b.Failures())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, 0, b.Failures())

	// Two earlier failures no longer count toward the threshold
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.True(t, b.CanAttempt())

	// Success while half open closes the circuit
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(1, time.Minute)

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

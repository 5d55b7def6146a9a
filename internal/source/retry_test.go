package source

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedResolver returns its errors in order, then succeeds
type scriptedResolver struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedResolver) ResolveSource(_ context.Context, mediaRef string) (*Resolved, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &Resolved{URL: "url://" + mediaRef, Duration: time.Hour}, nil
}

func TestResolveWithRetry_SucceedsFirstAttempt(t *testing.T) {
	resolver := &scriptedResolver{}

	resolved, err := ResolveWithRetry(context.Background(), resolver, "movie", 3, time.Second)

	require.NoError(t, err)
	assert.Equal(t, "url://movie", resolved.URL)
	assert.Equal(t, 1, resolver.calls)
}

func TestResolveWithRetry_RetriesTransient(t *testing.T) {
	resolver := &scriptedResolver{errs: []error{
		fmt.Errorf("%w: store busy", ErrUnavailable),
	}}

	resolved, err := ResolveWithRetry(context.Background(), resolver, "movie", 3, time.Second)

	require.NoError(t, err)
	assert.Equal(t, "url://movie", resolved.URL)
	assert.Equal(t, 2, resolver.calls)
}

func TestResolveWithRetry_PermanentFailsImmediately(t *testing.T) {
	resolver := &scriptedResolver{errs: []error{
		fmt.Errorf("%w: deleted", ErrGone),
		fmt.Errorf("%w: deleted", ErrGone),
	}}

	resolved, err := ResolveWithRetry(context.Background(), resolver, "movie", 3, time.Second)

	assert.Nil(t, resolved)
	assert.ErrorIs(t, err, ErrGone)
	assert.Equal(t, 1, resolver.calls)
}

func TestResolveWithRetry_ExhaustsAttempts(t *testing.T) {
	resolver := &scriptedResolver{errs: []error{
		fmt.Errorf("%w: 1", ErrUnavailable),
		fmt.Errorf("%w: 2", ErrUnavailable),
		fmt.Errorf("%w: 3", ErrUnavailable),
	}}

	resolved, err := ResolveWithRetry(context.Background(), resolver, "movie", 2, time.Second)

	assert.Nil(t, resolved)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, resolver.calls)
}

func TestResolveWithRetry_ContextCancellation(t *testing.T) {
	resolver := &scriptedResolver{errs: []error{
		fmt.Errorf("%w: busy", ErrUnavailable),
		fmt.Errorf("%w: busy", ErrUnavailable),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resolved, err := ResolveWithRetry(ctx, resolver, "movie", 3, time.Second)

	assert.Nil(t, resolved)
	assert.Error(t, err)
	// No further attempts after cancellation
	assert.LessOrEqual(t, resolver.calls, 1)
}

func TestBackoffDuration_ExponentialWithCap(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffDuration(0))
	assert.Equal(t, 2*time.Second, backoffDuration(1))
	assert.Equal(t, 4*time.Second, backoffDuration(2))
	assert.Equal(t, 8*time.Second, backoffDuration(3))
	assert.Equal(t, 8*time.Second, backoffDuration(10))
}

func TestErrorClassification(t *testing.T) {
	transient := fmt.Errorf("%w: busy", ErrUnavailable)
	permanent := fmt.Errorf("%w: deleted", ErrGone)

	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))
	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsTransient(permanent))
}

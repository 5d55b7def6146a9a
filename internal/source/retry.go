package source

import (
	"context"
	"time"

	"github.com/telecast-dev/telecast/internal/logger"
)

// Retry backoff bounds
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 8 * time.Second
)

// ResolveWithRetry resolves a media reference with bounded retries and
// exponential backoff. Only transient failures are retried; permanent
// failures and context cancellation are returned immediately so the caller
// can skip the item instead of stalling the channel.
func ResolveWithRetry(
	ctx context.Context,
	resolver SourceResolver,
	mediaRef string,
	attempts int,
	timeout time.Duration,
) (*Resolved, error) {
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resolved, err := resolver.ResolveSource(attemptCtx, mediaRef)
		cancel()

		if err == nil {
			return resolved, nil
		}
		lastErr = err

		if IsPermanent(err) || ctx.Err() != nil {
			return nil, err
		}

		backoff := backoffDuration(attempt)
		logger.Log.Warn().
			Err(err).
			Str("media_ref", mediaRef).
			Int("attempt", attempt+1).
			Int("max_attempts", attempts).
			Dur("backoff", backoff).
			Msg("Source resolution failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, lastErr
}

// backoffDuration calculates exponential backoff duration based on attempt count
func backoffDuration(attempt int) time.Duration {
	backoff := initialBackoff
	for i := 0; i < attempt && backoff < maxBackoff; i++ {
		backoff *= 2
	}
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

package playout

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/telecast-dev/telecast/internal/logger"
	"github.com/telecast-dev/telecast/internal/source"
	"github.com/telecast-dev/telecast/internal/timeline"
)

// State represents the playout session state machine
type State int

const (
	// StateIdle means the session has not started yet
	StateIdle State = iota
	// StateResolving means the session is determining what should be on air
	StateResolving
	// StateStreaming means a pipeline is feeding the broadcast buffer
	StateStreaming
	// StateRecovering means the session is backing off after a failure
	StateRecovering
	// StateStopped means the session has exited
	StateStopped
)

// String returns the string representation of the session state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateStreaming:
		return "streaming"
	case StateRecovering:
		return "recovering"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Recovery backoff bounds
const (
	initialRecoveryBackoff = 1 * time.Second
	maxRecoveryBackoff     = 8 * time.Second
)

// Config tunes a playout session.
type Config struct {
	ResolveTimeout      time.Duration
	ResolveRetries      int
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
	DriftTolerance      time.Duration
	BufferChunks        int
	StaticSource        string // optional source streamed during hold segments
}

// Health is the externally visible condition of a session.
type Health struct {
	State               State  `json:"state"`
	Healthy             bool   `json:"healthy"`
	NowPlaying          string `json:"now_playing,omitempty"`
	LastError           string `json:"last_error,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Viewers             int    `json:"viewers"`
}

// Session supervises one channel's continuous playout. It is the only
// component that spawns or kills the transcoder subprocess and the only
// writer of the channel's broadcast buffer. What is on air is always
// derived from the timeline clock, never from local playback state, so a
// session that crashes and recovers lands exactly where the wall clock
// says it should.
type Session struct {
	channelID   uuid.UUID
	channelName string

	sources   source.SourceResolver
	pipelines PipelineFactory
	buffer    *Buffer
	breaker   *Breaker
	cfg       Config
	now       func() time.Time

	mu         sync.RWMutex
	compiled   *timeline.Compiled
	epoch      time.Time
	state      State
	nowPlaying string
	lastErr    error
	unhealthy  bool
	dead       map[string]bool // media refs that permanently failed this program

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSession creates a playout session for a channel.
func NewSession(
	channelID uuid.UUID,
	channelName string,
	compiled *timeline.Compiled,
	epoch time.Time,
	sources source.SourceResolver,
	pipelines PipelineFactory,
	cfg Config,
) *Session {
	return &Session{
		channelID:   channelID,
		channelName: channelName,
		compiled:    compiled,
		epoch:       epoch,
		sources:     sources,
		pipelines:   pipelines,
		buffer:      NewBuffer(cfg.BufferChunks),
		breaker:     NewBreaker(cfg.BreakerThreshold, cfg.BreakerResetTimeout),
		cfg:         cfg,
		now:         time.Now,
		state:       StateIdle,
		dead:        make(map[string]bool),
		done:        make(chan struct{}),
	}
}

// SetClock replaces the session's clock. Test hook; must be called before
// Start.
func (s *Session) SetClock(now func() time.Time) {
	s.now = now
}

// Start launches the session task. Calling Start more than once is a no-op.
func (s *Session) Start() {
	s.once.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		go s.run()
	})
}

// Stop tears down the active pipeline and waits for the session task to
// exit. Safe to call multiple times and before Start.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		return
	}
	s.setState(StateStopped)
}

// Done returns a channel closed when the session task has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Buffer returns the channel's broadcast buffer for viewer subscriptions.
func (s *Session) Buffer() *Buffer {
	return s.buffer
}

// ChannelID returns the channel this session belongs to
func (s *Session) ChannelID() uuid.UUID {
	return s.channelID
}

// Health reports the session's current condition.
func (s *Session) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lastErr := ""
	if s.lastErr != nil {
		lastErr = s.lastErr.Error()
	}
	return Health{
		State:               s.state,
		Healthy:             !s.unhealthy,
		NowPlaying:          s.nowPlaying,
		LastError:           lastErr,
		ConsecutiveFailures: s.breaker.Failures(),
		Viewers:             s.buffer.Subscribers(),
	}
}

// Resolve returns the program position at the given instant. Pure
// computation over the session's compiled schedule; safe to call from any
// goroutine, including HTTP handlers.
func (s *Session) Resolve(at time.Time) (*timeline.Position, error) {
	compiled, epoch := s.snapshot()
	return timeline.Resolve(compiled, epoch, at)
}

// Guide returns the program positions covering a window from the given
// instant. Pure, like Resolve.
func (s *Session) Guide(from time.Time, window time.Duration) []timeline.Position {
	compiled, epoch := s.snapshot()
	return timeline.Guide(compiled, epoch, from, window)
}

// Swap replaces the session's compiled schedule and epoch after a
// recompile. The new program takes effect at the next segment transition.
func (s *Session) Swap(compiled *timeline.Compiled, epoch time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compiled = compiled
	s.epoch = epoch
	s.dead = make(map[string]bool)

	logger.Log.Info().
		Str("channel_id", s.channelID.String()).
		Str("schedule", compiled.ScheduleName).
		Time("epoch", epoch).
		Msg("Session schedule swapped")
}

// Epoch returns the session's current timeline anchor
func (s *Session) Epoch() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

func (s *Session) snapshot() (*timeline.Compiled, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compiled, s.epoch
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) setNowPlaying(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowPlaying = title
}

func (s *Session) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *Session) markUnhealthy(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	s.unhealthy = true
}

func (s *Session) markDead(mediaRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead[mediaRef] = true
}

func (s *Session) isDead(mediaRef string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dead[mediaRef]
}

// run is the session task: a loop that re-derives "what should be on air"
// from the timeline clock and keeps a pipeline feeding the buffer.
func (s *Session) run() {
	defer close(s.done)
	defer s.buffer.Close()
	defer s.setState(StateStopped)

	logger.Log.Info().
		Str("channel_id", s.channelID.String()).
		Str("channel", s.channelName).
		Msg("Playout session started")

	for s.ctx.Err() == nil {
		s.setState(StateResolving)

		compiled, epoch := s.snapshot()
		now := s.now()

		pos, err := timeline.Resolve(compiled, epoch, now)
		switch {
		case errors.Is(err, timeline.ErrNotStarted):
			s.sleepUntil(epoch)
			continue
		case errors.Is(err, timeline.ErrFinished):
			logger.Log.Info().
				Str("channel_id", s.channelID.String()).
				Msg("Schedule finished, session exiting")
			return
		case err != nil:
			s.markUnhealthy(err)
			logger.Log.Error().
				Err(err).
				Str("channel_id", s.channelID.String()).
				Msg("Timeline resolution failed, session exiting")
			return
		}

		if pos.Segment.Kind == timeline.SegmentHold {
			s.hold(pos)
			continue
		}

		ref := pos.Segment.MediaRef
		offset := pos.Offset
		deadline := pos.EndsAt

		// A permanently dead item cannot be retried into existence while
		// the wall clock moves on: substitute the next playable segment
		// until the dead one's boundary passes.
		if s.isDead(ref) {
			alt := timeline.ResolveAfter(compiled, epoch, now, pos.Index)
			if alt == nil || s.isDead(alt.Segment.MediaRef) {
				s.sleepUntil(deadline)
				continue
			}
			ref = alt.Segment.MediaRef
			offset = 0
			logger.Log.Info().
				Str("channel_id", s.channelID.String()).
				Str("dead_ref", pos.Segment.MediaRef).
				Str("substitute_ref", ref).
				Msg("Substituting next item for dead segment")
		}

		resolved, err := source.ResolveWithRetry(s.ctx, s.sources, ref, s.cfg.ResolveRetries, s.cfg.ResolveTimeout)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if source.IsPermanent(err) {
				logger.Log.Warn().
					Err(err).
					Str("channel_id", s.channelID.String()).
					Str("media_ref", ref).
					Msg("Source permanently gone, skipping item")
				s.markDead(ref)
				continue
			}
			if !s.recover(err) {
				return
			}
			continue
		}

		if err := s.streamOnce(resolved.URL, offset, deadline, pos.Segment.Title); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if !s.recover(err) {
				return
			}
			continue
		}

		s.breaker.RecordSuccess()
		s.setFailure(nil)

		// A pipeline that finished well short of the clock boundary means
		// the item's real duration disagrees with the schedule. Hold at
		// the boundary rather than thrashing relaunches near the item's
		// end.
		if remaining := deadline.Sub(s.now()); remaining > s.cfg.DriftTolerance {
			logger.Log.Warn().
				Str("channel_id", s.channelID.String()).
				Str("media_ref", ref).
				Dur("drift", remaining).
				Msg("Pipeline completed ahead of timeline boundary")
			s.sleepUntil(deadline)
		}
	}
}

// streamOnce drives one pipeline from launch to the segment boundary. A
// nil return means the segment advanced normally (natural completion or
// boundary reached); any error is a pipeline failure for the recovery
// path.
func (s *Session) streamOnce(url string, offset time.Duration, deadline time.Time, title string) error {
	pipe, err := s.pipelines.Launch(s.ctx, url, offset)
	if err != nil {
		return err
	}

	s.setState(StateStreaming)
	s.setNowPlaying(title)

	pipeDone := make(chan error, 1)
	go func() {
		_, copyErr := io.Copy(s.buffer, pipe.Output())
		waitErr := pipe.Wait()
		switch {
		case waitErr != nil:
			pipeDone <- waitErr
		case copyErr != nil && !errors.Is(copyErr, ErrBufferClosed):
			pipeDone <- copyErr
		default:
			pipeDone <- nil
		}
	}()

	grace := deadline.Add(s.cfg.DriftTolerance).Sub(s.now())
	if grace < 0 {
		grace = 0
	}
	boundary := time.NewTimer(grace)
	defer boundary.Stop()

	select {
	case err := <-pipeDone:
		return err
	case <-boundary.C:
		// The clock says the segment is over but the pipeline is still
		// going; the two disagree past the drift tolerance.
		logger.Log.Warn().
			Str("channel_id", s.channelID.String()).
			Time("boundary", deadline).
			Dur("tolerance", s.cfg.DriftTolerance).
			Msg("Timeline boundary passed with pipeline still running, stopping it")
		_ = pipe.Stop()
		<-pipeDone
		return nil
	case <-s.ctx.Done():
		_ = pipe.Stop()
		<-pipeDone
		return s.ctx.Err()
	}
}

// hold idles through a hold segment, streaming the configured static
// source if one is set.
func (s *Session) hold(pos *timeline.Position) {
	if s.cfg.StaticSource != "" {
		if err := s.streamOnce(s.cfg.StaticSource, 0, pos.EndsAt, "hold"); err != nil && s.ctx.Err() == nil {
			logger.Log.Warn().
				Err(err).
				Str("channel_id", s.channelID.String()).
				Msg("Static source failed during hold, idling instead")
			s.sleepUntil(pos.EndsAt)
		}
		return
	}
	s.sleepUntil(pos.EndsAt)
}

// recover backs off after a pipeline failure. Returns false when the retry
// budget is exhausted and the session should stop.
func (s *Session) recover(err error) bool {
	s.setState(StateRecovering)
	s.setFailure(err)
	s.breaker.RecordFailure()

	pipeErr := ClassifyPipelineError(err, "")
	logger.Log.Error().
		Err(err).
		Str("channel_id", s.channelID.String()).
		Str("failure_type", pipeErr.Type.String()).
		Int("consecutive_failures", s.breaker.Failures()).
		Msg("Pipeline failure, entering recovery")

	if !s.breaker.CanAttempt() {
		s.markUnhealthy(err)
		logger.Log.Error().
			Str("channel_id", s.channelID.String()).
			Int("failures", s.breaker.Failures()).
			Msg("Retry budget exhausted, marking channel unhealthy and stopping")
		return false
	}

	backoff := recoveryBackoff(s.breaker.Failures())
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(backoff):
		return true
	}
}

// sleepUntil sleeps until the given instant or session stop, whichever
// comes first. Uses the session clock so tests control it.
func (s *Session) sleepUntil(t time.Time) {
	d := t.Sub(s.now())
	if d <= 0 {
		return
	}
	select {
	case <-s.ctx.Done():
	case <-time.After(d):
	}
}

// recoveryBackoff calculates exponential backoff from the consecutive
// failure count.
func recoveryBackoff(failures int) time.Duration {
	backoff := initialRecoveryBackoff
	for i := 1; i < failures && backoff < maxRecoveryBackoff; i++ {
		backoff *= 2
	}
	if backoff > maxRecoveryBackoff {
		return maxRecoveryBackoff
	}
	return backoff
}

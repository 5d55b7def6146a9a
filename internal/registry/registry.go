package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/telecast-dev/telecast/internal/config"
	"github.com/telecast-dev/telecast/internal/db"
	"github.com/telecast-dev/telecast/internal/logger"
	"github.com/telecast-dev/telecast/internal/playout"
	"github.com/telecast-dev/telecast/internal/schedule"
	"github.com/telecast-dev/telecast/internal/source"
	"github.com/telecast-dev/telecast/internal/timeline"
)

var (
	// ErrNotRunning is returned when an operation needs a live session
	ErrNotRunning = errors.New("channel is not running")
	// ErrChannelDisabled is returned when starting a disabled channel
	ErrChannelDisabled = errors.New("channel is disabled")
)

// loopChangeRatio is how much a channel's loop duration may change across
// a recompile before the epoch is considered stale and reset.
const loopChangeRatio = 0.5

// Registry owns the set of live playout sessions, one per channel. All
// lifecycle operations (start, stop, reload) go through it, so a channel
// can never have two competing sessions.
type Registry struct {
	repos       *db.Repositories
	collections source.CollectionResolver
	sources     source.SourceResolver
	pipelines   playout.PipelineFactory
	cfg         config.PlayoutConfig
	scheduleDir string
	slack       time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*playout.Session
	programs map[uuid.UUID]*timeline.Compiled // last good compile per channel
}

// New creates a channel registry.
func New(
	repos *db.Repositories,
	collections source.CollectionResolver,
	sources source.SourceResolver,
	pipelines playout.PipelineFactory,
	cfg config.PlayoutConfig,
	scheduleDir string,
	slack time.Duration,
) *Registry {
	return &Registry{
		repos:       repos,
		collections: collections,
		sources:     sources,
		pipelines:   pipelines,
		cfg:         cfg,
		scheduleDir: scheduleDir,
		slack:       slack,
		now:         time.Now,
		sessions:    make(map[uuid.UUID]*playout.Session),
		programs:    make(map[uuid.UUID]*timeline.Compiled),
	}
}

// SetClock replaces the registry's clock. Test hook.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Start brings a channel on air. If the channel already has a live
// session this is a no-op; a stopped session is replaced. The channel's
// epoch is reused when one is stored, otherwise it is established now and
// persisted so restarts keep the same timeline.
func (r *Registry) Start(ctx context.Context, channelID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[channelID]; ok {
		if sess.Health().State != playout.StateStopped {
			logger.Log.Debug().
				Str("channel_id", channelID.String()).
				Msg("Channel already running, start is a no-op")
			return nil
		}
		delete(r.sessions, channelID)
		delete(r.programs, channelID)
	}

	channel, err := r.repos.Channels.GetByID(ctx, channelID)
	if err != nil {
		return err
	}
	if !channel.Enabled {
		return fmt.Errorf("%w: %s", ErrChannelDisabled, channel.Name)
	}

	epoch := r.now().UTC()
	reset := true
	if channel.Epoch != nil {
		epoch = channel.Epoch.UTC()
		reset = false
	}

	compiled, err := r.compile(ctx, channel.SchedulePath, epoch, reset)
	if err != nil {
		return fmt.Errorf("compiling schedule for channel %s: %w", channel.Name, err)
	}

	if reset {
		if err := r.repos.Channels.SetEpoch(ctx, channelID, epoch); err != nil {
			return fmt.Errorf("persisting epoch for channel %s: %w", channel.Name, err)
		}
	}

	sess := playout.NewSession(
		channel.ID,
		channel.Name,
		compiled,
		epoch,
		r.sources,
		r.pipelines,
		playout.Config{
			ResolveTimeout:      r.cfg.ResolveTimeout,
			ResolveRetries:      r.cfg.ResolveRetries,
			BreakerThreshold:    r.cfg.BreakerThreshold,
			BreakerResetTimeout: r.cfg.BreakerResetTimeout,
			DriftTolerance:      r.cfg.DriftTolerance,
			BufferChunks:        r.cfg.BufferChunks,
			StaticSource:        r.cfg.StaticSource,
		},
	)
	r.sessions[channelID] = sess
	r.programs[channelID] = compiled
	sess.Start()

	logger.Log.Info().
		Str("channel_id", channelID.String()).
		Str("channel", channel.Name).
		Time("epoch", epoch).
		Bool("epoch_reset", reset).
		Msg("Channel started")
	return nil
}

// Stop takes a channel off air and releases its session.
func (r *Registry) Stop(channelID uuid.UUID) error {
	r.mu.Lock()
	sess, ok := r.sessions[channelID]
	if ok {
		delete(r.sessions, channelID)
		delete(r.programs, channelID)
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotRunning
	}
	sess.Stop()
	logger.Log.Info().
		Str("channel_id", channelID.String()).
		Msg("Channel stopped")
	return nil
}

// StopAll tears down every live session. Used during shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*playout.Session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		sessions = append(sessions, sess)
		delete(r.sessions, id)
		delete(r.programs, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *playout.Session) {
			defer wg.Done()
			s.Stop()
		}(sess)
	}
	wg.Wait()
}

// Status reports the health of a channel's session.
func (r *Registry) Status(channelID uuid.UUID) (playout.Health, error) {
	sess, ok := r.session(channelID)
	if !ok {
		return playout.Health{}, ErrNotRunning
	}
	return sess.Health(), nil
}

// NowPlaying resolves a channel's program position at the given instant.
func (r *Registry) NowPlaying(channelID uuid.UUID, at time.Time) (*timeline.Position, error) {
	sess, ok := r.session(channelID)
	if !ok {
		return nil, ErrNotRunning
	}
	return sess.Resolve(at)
}

// Guide returns a channel's upcoming program positions over a window.
func (r *Registry) Guide(channelID uuid.UUID, from time.Time, window time.Duration) ([]timeline.Position, error) {
	sess, ok := r.session(channelID)
	if !ok {
		return nil, ErrNotRunning
	}
	return sess.Guide(from, window), nil
}

// Buffer returns a channel's broadcast buffer for viewer subscriptions.
func (r *Registry) Buffer(channelID uuid.UUID) (*playout.Buffer, error) {
	sess, ok := r.session(channelID)
	if !ok {
		return nil, ErrNotRunning
	}
	return sess.Buffer(), nil
}

// Running returns the IDs of channels with a live session.
func (r *Registry) Running() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Reload recompiles a running channel's schedule and swaps the new
// program into its session. The epoch is preserved so viewers do not
// jump, unless the schedule's shape changed enough that the old anchor
// no longer means anything; then the epoch is reset and persisted. A
// failed recompile leaves the last good program on air.
func (r *Registry) Reload(ctx context.Context, channelID uuid.UUID) error {
	r.mu.Lock()
	sess, ok := r.sessions[channelID]
	oldCompiled := r.programs[channelID]
	r.mu.Unlock()

	if !ok {
		return ErrNotRunning
	}

	channel, err := r.repos.Channels.GetByID(ctx, channelID)
	if err != nil {
		return err
	}

	epoch := sess.Epoch()
	compiled, err := r.compile(ctx, channel.SchedulePath, epoch, false)
	if err != nil {
		logger.Log.Error().
			Err(err).
			Str("channel_id", channelID.String()).
			Msg("Recompile failed, keeping last good program on air")
		return err
	}

	if shouldResetEpoch(oldCompiled, compiled) {
		epoch = r.now().UTC()
		compiled, err = r.compile(ctx, channel.SchedulePath, epoch, true)
		if err != nil {
			return err
		}
		if err := r.repos.Channels.SetEpoch(ctx, channelID, epoch); err != nil {
			return fmt.Errorf("persisting epoch for channel %s: %w", channel.Name, err)
		}
		logger.Log.Info().
			Str("channel_id", channelID.String()).
			Time("epoch", epoch).
			Msg("Schedule shape changed, epoch reset")
	}

	sess.Swap(compiled, epoch)

	r.mu.Lock()
	if _, still := r.sessions[channelID]; still {
		r.programs[channelID] = compiled
	}
	r.mu.Unlock()
	return nil
}

// ReloadAll recompiles every running channel. Schedule files can import
// each other, so a single file change may affect channels beyond the one
// whose file was touched; reloading everything is the safe response to a
// watcher event.
func (r *Registry) ReloadAll(ctx context.Context) {
	for _, id := range r.Running() {
		if err := r.Reload(ctx, id); err != nil {
			logger.Log.Error().
				Err(err).
				Str("channel_id", id.String()).
				Msg("Channel reload failed")
		}
	}
}

func (r *Registry) session(channelID uuid.UUID) (*playout.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[channelID]
	return sess, ok
}

func (r *Registry) compile(ctx context.Context, schedulePath string, anchor time.Time, reset bool) (*timeline.Compiled, error) {
	path := schedulePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.scheduleDir, path)
	}
	doc, err := schedule.Load(path)
	if err != nil {
		return nil, err
	}
	return schedule.Compile(ctx, doc, r.collections, schedule.Options{
		Anchor: anchor,
		Slack:  r.slack,
		Reset:  reset,
	})
}

// shouldResetEpoch decides whether the old timeline anchor still makes
// sense for a recompiled program. Flipping the repeat flag changes what
// elapsed time means, and a loop that grew or shrank past half its old
// length would land viewers somewhere arbitrary.
func shouldResetEpoch(old, updated *timeline.Compiled) bool {
	if old == nil {
		return true
	}
	if old.Repeat != updated.Repeat {
		return true
	}
	if old.LoopDuration <= 0 || updated.LoopDuration <= 0 {
		return old.LoopDuration != updated.LoopDuration
	}
	delta := (updated.LoopDuration - old.LoopDuration).Abs()
	return float64(delta) > float64(old.LoopDuration)*loopChangeRatio
}

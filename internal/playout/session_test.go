package playout

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telecast-dev/telecast/internal/source"
	"github.com/telecast-dev/telecast/internal/timeline"
)

// fakeSource resolves refs to url://<ref>, with per-ref error overrides
type fakeSource struct {
	mu   sync.Mutex
	fail map[string]error
}

func (f *fakeSource) ResolveSource(_ context.Context, mediaRef string) (*source.Resolved, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[mediaRef]; ok {
		return nil, err
	}
	return &source.Resolved{URL: "url://" + mediaRef, Duration: time.Hour}, nil
}

// fakePipeline emits one chunk then blocks until stopped
type fakePipeline struct {
	chunk    []byte
	done     chan struct{}
	stopOnce sync.Once
	waitErr  error
	sent     bool
	mu       sync.Mutex
}

func newFakePipeline(chunk []byte, waitErr error) *fakePipeline {
	return &fakePipeline{chunk: chunk, done: make(chan struct{}), waitErr: waitErr}
}

func (p *fakePipeline) Read(b []byte) (int, error) {
	p.mu.Lock()
	sent := p.sent
	p.sent = true
	p.mu.Unlock()
	if !sent && len(p.chunk) > 0 {
		return copy(b, p.chunk), nil
	}
	<-p.done
	return 0, io.EOF
}

func (p *fakePipeline) Output() io.Reader { return p }

func (p *fakePipeline) Wait() error {
	<-p.done
	return p.waitErr
}

func (p *fakePipeline) Stop() error {
	p.stopOnce.Do(func() { close(p.done) })
	return nil
}

// finish makes the pipeline exit on its own, as a crash when waitErr is set
func (p *fakePipeline) finish() {
	p.stopOnce.Do(func() { close(p.done) })
}

type launchRecord struct {
	url  string
	seek time.Duration
}

// fakeFactory hands out scripted pipelines and records launches
type fakeFactory struct {
	mu        sync.Mutex
	launches  []launchRecord
	pipelines []*fakePipeline // consumed in order; last one reused
	errs      []error         // consumed in order before pipelines
	launched  chan launchRecord
}

func newFakeFactory(pipelines ...*fakePipeline) *fakeFactory {
	return &fakeFactory{pipelines: pipelines, launched: make(chan launchRecord, 16)}
}

func (f *fakeFactory) Launch(_ context.Context, sourceURL string, seek time.Duration) (Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := launchRecord{url: sourceURL, seek: seek}
	f.launches = append(f.launches, rec)
	select {
	case f.launched <- rec:
	default:
	}

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}

	pipe := f.pipelines[0]
	if len(f.pipelines) > 1 {
		f.pipelines = f.pipelines[1:]
	}
	return pipe, nil
}

func (f *fakeFactory) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launches)
}

func testConfig() Config {
	return Config{
		ResolveTimeout:      time.Second,
		ResolveRetries:      1,
		BreakerThreshold:    3,
		BreakerResetTimeout: time.Minute,
		DriftTolerance:      5 * time.Second,
		BufferChunks:        16,
	}
}

func testCompiled(repeat bool, segs ...timeline.Segment) *timeline.Compiled {
	var offset time.Duration
	for i := range segs {
		segs[i].StartOffset = offset
		offset += segs[i].Duration
	}
	return &timeline.Compiled{
		ScheduleName: "test",
		Segments:     segs,
		LoopDuration: offset,
		Repeat:       repeat,
	}
}

func seg(ref string, d time.Duration) timeline.Segment {
	return timeline.Segment{Kind: timeline.SegmentItem, MediaRef: ref, Title: ref, Duration: d}
}

func awaitLaunch(t *testing.T, f *fakeFactory) launchRecord {
	t.Helper()
	select {
	case rec := <-f.launched:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pipeline launch")
		return launchRecord{}
	}
}

func TestSession_StreamsCurrentSegmentAtOffset(t *testing.T) {
	pipe := newFakePipeline([]byte("mpegts"), nil)
	factory := newFakeFactory(pipe)
	compiled := testCompiled(true, seg("movie", time.Hour))
	epoch := time.Now().UTC().Add(-10 * time.Minute)

	sess := NewSession(uuid.New(), "test", compiled, epoch, &fakeSource{}, factory, testConfig())
	_, viewer := sess.Buffer().Subscribe()
	sess.Start()
	defer sess.Stop()

	rec := awaitLaunch(t, factory)
	assert.Equal(t, "url://movie", rec.url)
	assert.InDelta(t, (10 * time.Minute).Seconds(), rec.seek.Seconds(), 2)

	select {
	case chunk := <-viewer:
		assert.Equal(t, []byte("mpegts"), chunk)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast chunk")
	}

	health := sess.Health()
	assert.Equal(t, StateStreaming, health.State)
	assert.True(t, health.Healthy)
	assert.Equal(t, "movie", health.NowPlaying)
}

func TestSession_PermanentFailureSkipsToNextItem(t *testing.T) {
	pipe := newFakePipeline([]byte("sub"), nil)
	factory := newFakeFactory(pipe)
	compiled := testCompiled(true, seg("gone", time.Hour), seg("alive", time.Hour))
	epoch := time.Now().UTC().Add(-5 * time.Minute) // inside "gone"
	sources := &fakeSource{fail: map[string]error{"gone": source.ErrGone}}

	sess := NewSession(uuid.New(), "test", compiled, epoch, sources, factory, testConfig())
	sess.Start()
	defer sess.Stop()

	// The dead item is skipped and the next playable one substitutes for it
	rec := awaitLaunch(t, factory)
	assert.Equal(t, "url://alive", rec.url)
	assert.Equal(t, time.Duration(0), rec.seek)
}

func TestSession_LaunchFailuresTripBreaker(t *testing.T) {
	factory := newFakeFactory(newFakePipeline(nil, nil))
	factory.errs = []error{
		errors.New("spawn failed"),
	}
	compiled := testCompiled(true, seg("movie", time.Hour))
	epoch := time.Now().UTC().Add(-time.Minute)

	cfg := testConfig()
	cfg.BreakerThreshold = 1

	sess := NewSession(uuid.New(), "test", compiled, epoch, &fakeSource{}, factory, cfg)
	sess.Start()

	select {
	case <-sess.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop after breaker tripped")
	}

	health := sess.Health()
	assert.Equal(t, StateStopped, health.State)
	assert.False(t, health.Healthy)
	assert.NotEmpty(t, health.LastError)
	assert.Equal(t, 1, health.ConsecutiveFailures)
}

func TestSession_RecoversFromPipelineCrash(t *testing.T) {
	crashing := newFakePipeline(nil, errors.New("exit status 1"))
	healthy := newFakePipeline([]byte("ok"), nil)
	factory := newFakeFactory(crashing, healthy)
	compiled := testCompiled(true, seg("movie", time.Hour))
	epoch := time.Now().UTC().Add(-time.Minute)

	sess := NewSession(uuid.New(), "test", compiled, epoch, &fakeSource{}, factory, testConfig())
	sess.Start()
	defer sess.Stop()

	awaitLaunch(t, factory)
	crashing.finish()

	// After backoff the session relaunches under the clock
	rec := awaitLaunch(t, factory)
	assert.Equal(t, "url://movie", rec.url)
	assert.Greater(t, rec.seek, time.Duration(0))

	require.Eventually(t, func() bool {
		return sess.Health().State == StateStreaming
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_HoldSegmentLaunchesNothing(t *testing.T) {
	factory := newFakeFactory(newFakePipeline(nil, nil))
	compiled := testCompiled(true,
		timeline.Segment{Kind: timeline.SegmentHold, Duration: time.Hour},
		seg("movie", time.Hour),
	)
	epoch := time.Now().UTC().Add(-time.Minute) // inside the hold

	sess := NewSession(uuid.New(), "test", compiled, epoch, &fakeSource{}, factory, testConfig())
	sess.Start()
	defer sess.Stop()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, factory.launchCount())
}

func TestSession_FinishedScheduleStopsHealthy(t *testing.T) {
	factory := newFakeFactory(newFakePipeline(nil, nil))
	compiled := testCompiled(false, seg("movie", time.Minute))
	epoch := time.Now().UTC().Add(-5 * time.Minute)

	sess := NewSession(uuid.New(), "test", compiled, epoch, &fakeSource{}, factory, testConfig())
	sess.Start()

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit after schedule finished")
	}

	health := sess.Health()
	assert.Equal(t, StateStopped, health.State)
	assert.True(t, health.Healthy)
	assert.Equal(t, 0, factory.launchCount())
}

func TestSession_SwapChangesProgram(t *testing.T) {
	factory := newFakeFactory(newFakePipeline(nil, nil))
	oldCompiled := testCompiled(true, seg("old", time.Hour))
	epoch := time.Now().UTC().Add(-time.Minute)

	sess := NewSession(uuid.New(), "test", oldCompiled, epoch, &fakeSource{}, factory, testConfig())

	newCompiled := testCompiled(true, seg("new", 30*time.Minute))
	newEpoch := epoch.Add(30 * time.Second)
	sess.Swap(newCompiled, newEpoch)

	assert.Equal(t, newEpoch, sess.Epoch())

	pos, err := sess.Resolve(newEpoch.Add(5 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "new", pos.Segment.MediaRef)
}

func TestSession_StopClosesBuffer(t *testing.T) {
	pipe := newFakePipeline([]byte("x"), nil)
	factory := newFakeFactory(pipe)
	compiled := testCompiled(true, seg("movie", time.Hour))
	epoch := time.Now().UTC().Add(-time.Minute)

	sess := NewSession(uuid.New(), "test", compiled, epoch, &fakeSource{}, factory, testConfig())
	_, viewer := sess.Buffer().Subscribe()
	sess.Start()
	awaitLaunch(t, factory)

	sess.Stop()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-viewer:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateStopped, sess.Health().State)
}

// Package playout runs one supervised playout session per channel: it asks
// the timeline clock what should be on air, resolves it to a concrete
// source, and drives the transcoding pipeline that feeds the channel's
// broadcast buffer.
package playout

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/telecast-dev/telecast/internal/logger"
)

const (
	// Process termination timeouts
	terminationTimeout = 5 * time.Second
	killTimeout        = 2 * time.Second

	// stderrTailLines is how many trailing stderr lines are kept for
	// failure classification
	stderrTailLines = 20
)

// Pipeline is one running transcode of a single source. Output is the
// continuous MPEG-TS byte stream; Wait blocks until the process exits.
type Pipeline interface {
	Output() io.Reader
	Wait() error
	Stop() error
}

// PipelineFactory launches pipelines. The FFmpeg implementation is the
// production factory; tests substitute their own.
type PipelineFactory interface {
	Launch(ctx context.Context, sourceURL string, seek time.Duration) (Pipeline, error)
}

// FFmpegFactory launches ffmpeg processes that transcode a source to
// MPEG-TS on stdout, paced at realtime.
type FFmpegFactory struct {
	Path           string // ffmpeg binary, defaults to "ffmpeg"
	StartupTimeout time.Duration
}

// NewFFmpegFactory creates a factory launching the given ffmpeg binary
func NewFFmpegFactory(path string) *FFmpegFactory {
	return &FFmpegFactory{Path: path}
}

// Launch starts an ffmpeg process seeked to the given offset.
func (f *FFmpegFactory) Launch(ctx context.Context, sourceURL string, seek time.Duration) (Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	binary := f.Path
	if binary == "" {
		binary = "ffmpeg"
	}

	// Not CommandContext: teardown goes through Stop so the process gets a
	// SIGTERM and a grace period before SIGKILL.
	args := buildTranscodeArgs(sourceURL, seek)
	cmd := exec.Command(binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, NewPipelineError(FailureCrash, "failed to start transcoder", err)
	}

	p := &ffmpegPipeline{
		cmd:    cmd,
		stdout: stdout,
	}
	go p.captureStderr(stderr)

	logger.Log.Info().
		Int("pid", cmd.Process.Pid).
		Str("source", sourceURL).
		Dur("seek", seek).
		Int64("start_latency_ms", time.Since(startTime).Milliseconds()).
		Msg("Transcoder process launched")

	return p, nil
}

// buildTranscodeArgs builds the ffmpeg argument list for one source.
// Argument order matters: -re and -ss must come before -i for realtime
// pacing and fast input seeking.
func buildTranscodeArgs(sourceURL string, seek time.Duration) []string {
	args := make([]string, 0, 20)

	args = append(args, "-hide_banner", "-loglevel", "error", "-re")
	if seek > 0 {
		args = append(args, "-ss", strconv.FormatInt(int64(seek.Seconds()), 10))
	}
	args = append(args, "-i", sourceURL)
	args = append(args,
		"-c:v", "libx264", "-preset", "veryfast",
		"-c:a", "aac", "-b:a", "192k", "-ac", "2",
		"-f", "mpegts", "pipe:1",
	)

	return args
}

// ffmpegPipeline wraps a running ffmpeg process.
type ffmpegPipeline struct {
	cmd    *exec.Cmd
	stdout io.Reader

	mu         sync.Mutex
	stderrTail []string
	waitOnce   sync.Once
	waitErr    error
}

// Output returns the MPEG-TS byte stream
func (p *ffmpegPipeline) Output() io.Reader {
	return p.stdout
}

// Wait blocks until the process exits. A non-nil error is classified with
// the captured stderr tail.
func (p *ffmpegPipeline) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		if err != nil {
			p.mu.Lock()
			tail := strings.Join(p.stderrTail, "\n")
			p.mu.Unlock()
			p.waitErr = ClassifyPipelineError(err, tail)
		}
	})
	return p.waitErr
}

// Stop terminates the process gracefully (SIGTERM) then forcefully
// (SIGKILL) if it does not exit within the grace period.
func (p *ffmpegPipeline) Stop() error {
	process := p.cmd.Process
	if process == nil {
		return nil
	}
	pid := process.Pid

	logger.Log.Debug().
		Int("pid", pid).
		Msg("Sending SIGTERM to transcoder process")

	if err := process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) || errors.Is(err, exec.ErrNotFound) {
			return nil
		}
		// Process may already be reaped by Wait
		if strings.Contains(err.Error(), "process already finished") {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	exitChan := make(chan struct{})
	go func() {
		_ = p.Wait()
		close(exitChan)
	}()

	select {
	case <-exitChan:
		logger.Log.Debug().
			Int("pid", pid).
			Msg("Transcoder terminated gracefully")
		return nil
	case <-time.After(terminationTimeout):
	}

	logger.Log.Warn().
		Int("pid", pid).
		Dur("timeout", terminationTimeout).
		Msg("Transcoder did not exit gracefully, sending SIGKILL")

	if err := process.Kill(); err != nil && !errors.Is(err, syscall.ESRCH) {
		if !strings.Contains(err.Error(), "process already finished") {
			return fmt.Errorf("failed to kill process: %w", err)
		}
	}

	select {
	case <-exitChan:
		return nil
	case <-time.After(killTimeout):
		return fmt.Errorf("process %d did not die after SIGKILL", pid)
	}
}

// captureStderr logs transcoder diagnostics and keeps a tail for failure
// classification.
func (p *ffmpegPipeline) captureStderr(reader io.Reader) {
	pid := p.cmd.Process.Pid
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		line := scanner.Text()

		p.mu.Lock()
		p.stderrTail = append(p.stderrTail, line)
		if len(p.stderrTail) > stderrTailLines {
			p.stderrTail = p.stderrTail[1:]
		}
		p.mu.Unlock()

		logger.Log.Debug().
			Int("transcoder_pid", pid).
			Str("output", line).
			Msg("Transcoder stderr")
	}
}

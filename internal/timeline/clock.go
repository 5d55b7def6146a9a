package timeline

import (
	"sort"
	"time"
)

// Resolve calculates the current program position for a channel.
// This is a pure function with no I/O: it takes the compiled schedule, the
// channel's epoch, and the instant to resolve for, and returns the active
// segment with the offset into it. Two independent calls with the same
// arguments always return the same position, which is what lets any number
// of viewers converge on the same point without shared playback state.
//
// A repeating schedule is on air at every instant, including before the
// epoch: the loop position is the non-negative remainder of elapsed time,
// so an instant five minutes before a 30 minute loop's epoch sits 25
// minutes in. Returns ErrNotStarted when now precedes the epoch of a
// non-repeating schedule, ErrFinished when a non-repeating schedule has
// run out, and ErrEmptySchedule when there is nothing to play.
func Resolve(compiled *Compiled, epoch, now time.Time) (*Position, error) {
	if compiled == nil || len(compiled.Segments) == 0 || compiled.LoopDuration <= 0 {
		return nil, ErrEmptySchedule
	}

	elapsed := now.Sub(epoch)

	var loopPos time.Duration
	if compiled.Repeat {
		loopPos = elapsed % compiled.LoopDuration
		if loopPos < 0 {
			loopPos += compiled.LoopDuration
		}
	} else {
		if elapsed < 0 {
			return nil, ErrNotStarted
		}
		if elapsed >= compiled.LoopDuration {
			return nil, ErrFinished
		}
		loopPos = elapsed
	}

	// Binary search for the segment whose [StartOffset, StartOffset+Duration)
	// window contains loopPos. Zero-duration segments (collapsed pads) can
	// never contain a position, so walk past them.
	idx := sort.Search(len(compiled.Segments), func(i int) bool {
		seg := compiled.Segments[i]
		return loopPos < seg.StartOffset+seg.Duration
	})
	if idx >= len(compiled.Segments) {
		// loopPos == LoopDuration can only happen for non-repeating schedules
		// at the exact final instant; treat it as finished.
		return nil, ErrFinished
	}

	seg := compiled.Segments[idx]
	offset := loopPos - seg.StartOffset

	startedAt := now.Add(-offset)
	return &Position{
		Index:     idx,
		Segment:   seg,
		Offset:    offset,
		StartedAt: startedAt,
		EndsAt:    startedAt.Add(seg.Duration),
	}, nil
}

// ResolveAfter returns the next playable position strictly after the given
// segment index, skipping hold segments. It is used by playout sessions to
// find substitute content when the clock's current item is unplayable.
// Returns nil when no later playable segment exists in this loop and the
// schedule does not repeat.
func ResolveAfter(compiled *Compiled, epoch, now time.Time, index int) *Position {
	if compiled == nil || len(compiled.Segments) == 0 {
		return nil
	}

	n := len(compiled.Segments)
	for step := 1; step <= n; step++ {
		i := index + step
		if i >= n {
			if !compiled.Repeat {
				return nil
			}
			i %= n
		}
		seg := compiled.Segments[i]
		if seg.Kind != SegmentItem || seg.Duration <= 0 {
			continue
		}
		return &Position{
			Index:     i,
			Segment:   seg,
			Offset:    0,
			StartedAt: now,
			EndsAt:    now.Add(seg.Duration),
		}
	}
	return nil
}

// Guide walks the compiled timeline forward from a given instant and
// returns the sequence of positions covering the requested window. It is a
// pure expansion of Resolve used for EPG generation.
func Guide(compiled *Compiled, epoch, from time.Time, window time.Duration) []Position {
	if compiled == nil || len(compiled.Segments) == 0 || window <= 0 {
		return nil
	}

	var entries []Position
	at := from
	end := from.Add(window)

	for at.Before(end) {
		pos, err := Resolve(compiled, epoch, at)
		if err == ErrNotStarted {
			at = epoch
			continue
		}
		if err != nil {
			break
		}
		entries = append(entries, *pos)
		at = pos.EndsAt
	}

	return entries
}

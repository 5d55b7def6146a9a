// Package timeline provides the compiled program representation for a
// channel and the pure clock calculation that determines what should be
// playing at any given moment, creating the illusion of a continuously
// broadcasting television channel.
package timeline

import (
	"time"
)

// SegmentKind distinguishes playable items from hold segments.
type SegmentKind int

const (
	// SegmentItem is a concrete playable item backed by a media reference
	SegmentItem SegmentKind = iota
	// SegmentHold is a gap inserted by a wait or pad directive; nothing is
	// resolved for it, the channel simply holds until it passes
	SegmentHold
)

// String returns the string representation of SegmentKind
func (k SegmentKind) String() string {
	switch k {
	case SegmentItem:
		return "item"
	case SegmentHold:
		return "hold"
	default:
		return "unknown"
	}
}

// Segment is one compiled, time-bounded unit of a channel's program.
type Segment struct {
	Kind        SegmentKind   `json:"kind"`
	MediaRef    string        `json:"media_ref,omitempty"`
	Title       string        `json:"title,omitempty"`
	Duration    time.Duration `json:"duration"`
	StartOffset time.Duration `json:"start_offset"` // cumulative offset from epoch within one loop
}

// Compiled is the flattened, fully-expanded segment list produced by the
// schedule compiler. Segments are ordered by StartOffset; LoopDuration is
// the sum of all segment durations.
type Compiled struct {
	ScheduleName string        `json:"schedule_name"`
	Segments     []Segment     `json:"segments"`
	LoopDuration time.Duration `json:"loop_duration"`
	Repeat       bool          `json:"repeat"`
}

// Position describes which segment should be playing and at what offset
// within it.
type Position struct {
	Index     int           `json:"index"`
	Segment   Segment       `json:"segment"`
	Offset    time.Duration `json:"offset"`
	StartedAt time.Time     `json:"started_at"`
	EndsAt    time.Time     `json:"ends_at"`
}

// Remaining returns the time left in the current segment.
func (p *Position) Remaining() time.Duration {
	return p.Segment.Duration - p.Offset
}

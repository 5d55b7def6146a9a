package timeline

import "errors"

var (
	// ErrNotStarted is returned when resolving a position before the
	// channel's epoch
	ErrNotStarted = errors.New("channel has not started broadcasting yet")

	// ErrEmptySchedule is returned when a compiled schedule has no segments
	ErrEmptySchedule = errors.New("compiled schedule is empty")

	// ErrFinished is returned when a non-repeating schedule has run its
	// full program
	ErrFinished = errors.New("schedule has finished (non-repeating)")
)

// Package schedule implements the declarative schedule language: parsing
// schedule documents, merging imports, and compiling the result into the
// flat segment list the timeline clock runs against.
package schedule

import (
	"fmt"
	"time"

	"github.com/telecast-dev/telecast/internal/source"
)

// FillerMode controls how a pad directive treats the item that crosses the
// pad target.
type FillerMode string

const (
	// FillerCut truncates the crossing item so the pad lands exactly on
	// its target
	FillerCut FillerMode = "cut"
	// FillerOverflow lets the crossing item run past the target; following
	// offsets absorb the overshoot
	FillerOverflow FillerMode = "overflow"
)

// IsValid checks if the filler mode is a known valid value
func (m FillerMode) IsValid() bool {
	return m == FillerCut || m == FillerOverflow || m == ""
}

// ContentDefinition binds a schedule-local key to a collection and an
// ordering mode. The item list is resolved lazily, the first time a
// directive draws from the key.
type ContentDefinition struct {
	Key        string           `yaml:"key"`
	Collection string           `yaml:"collection"`
	Order      source.OrderMode `yaml:"order"`
}

// PlayAllDirective expands to every item of the referenced content, in order.
type PlayAllDirective struct {
	Content string `yaml:"content"`
	Title   string `yaml:"title,omitempty"` // optional custom title applied to every emitted segment
}

// PlayDurationDirective draws items from the content cursor until the
// cumulative duration reaches the target.
type PlayDurationDirective struct {
	Duration        string `yaml:"duration"` // Go duration string, e.g. "30m"
	Content         string `yaml:"content"`
	Fallback        string `yaml:"fallback,omitempty"`
	Trim            bool   `yaml:"trim,omitempty"`
	DiscardAttempts int    `yaml:"discard_attempts,omitempty"`
}

// PadToNextDirective fills up to the next wall-clock boundary that is a
// multiple of Minutes aligned to the hour.
type PadToNextDirective struct {
	Minutes         int        `yaml:"minutes"`
	Content         string     `yaml:"content"`
	Fallback        string     `yaml:"fallback,omitempty"`
	Filler          FillerMode `yaml:"filler,omitempty"`
	DiscardAttempts int        `yaml:"discard_attempts,omitempty"`
}

// PadUntilDirective fills up to an absolute time of day, rolling to the
// next day when the time has already passed.
type PadUntilDirective struct {
	Time            string     `yaml:"time"` // "15:04" clock time
	Content         string     `yaml:"content"`
	Fallback        string     `yaml:"fallback,omitempty"`
	Filler          FillerMode `yaml:"filler,omitempty"`
	DiscardAttempts int        `yaml:"discard_attempts,omitempty"`
}

// WaitUntilDirective inserts a hold segment lasting until a time of day.
type WaitUntilDirective struct {
	Time          string `yaml:"time"`
	Tomorrow      bool   `yaml:"tomorrow,omitempty"`
	RewindOnReset bool   `yaml:"rewind_on_reset,omitempty"`
}

// SkipItemsDirective advances a content cursor without emitting segments.
// Count is an integer, "count/2" for half the item list, or "random".
type SkipItemsDirective struct {
	Count   string `yaml:"count"`
	Content string `yaml:"content"`
}

// ShuffleDirective re-shuffles the referenced sequence's item order;
// expansions after this point use the new order.
type ShuffleDirective struct {
	Sequence string `yaml:"sequence"`
}

// SequenceItem is the closed tagged union of schedule directives. Exactly
// one field must be set per item.
type SequenceItem struct {
	PlayAll      *PlayAllDirective      `yaml:"play_all,omitempty"`
	PlayDuration *PlayDurationDirective `yaml:"play_duration,omitempty"`
	PadToNext    *PadToNextDirective    `yaml:"pad_to_next,omitempty"`
	PadUntil     *PadUntilDirective     `yaml:"pad_until,omitempty"`
	WaitUntil    *WaitUntilDirective    `yaml:"wait_until,omitempty"`
	SkipItems    *SkipItemsDirective    `yaml:"skip_items,omitempty"`
	Shuffle      *ShuffleDirective      `yaml:"shuffle,omitempty"`
	Sequence     string                 `yaml:"sequence,omitempty"`
}

// Validate checks that exactly one directive is set
func (it *SequenceItem) Validate() error {
	count := 0
	if it.PlayAll != nil {
		count++
	}
	if it.PlayDuration != nil {
		count++
	}
	if it.PadToNext != nil {
		count++
	}
	if it.PadUntil != nil {
		count++
	}
	if it.WaitUntil != nil {
		count++
	}
	if it.SkipItems != nil {
		count++
	}
	if it.Shuffle != nil {
		count++
	}
	if it.Sequence != "" {
		count++
	}
	if count != 1 {
		return fmt.Errorf("sequence item must set exactly one directive, got %d", count)
	}
	return nil
}

// Sequence is a named, ordered list of directives.
type Sequence struct {
	Key   string         `yaml:"key"`
	Items []SequenceItem `yaml:"items"`
}

// PlayoutEntry names a sequence to expand into the channel program.
// Repeat may only be set on the final entry and marks the whole expanded
// program as looping.
type PlayoutEntry struct {
	Sequence string `yaml:"sequence"`
	Repeat   bool   `yaml:"repeat,omitempty"`
}

// Document is one parsed schedule file, before import merging.
type Document struct {
	Name      string              `yaml:"name"`
	Imports   []string            `yaml:"imports,omitempty"`
	Content   []ContentDefinition `yaml:"content,omitempty"`
	Sequences []Sequence          `yaml:"sequences,omitempty"`
	Playout   []PlayoutEntry      `yaml:"playout,omitempty"`
}

// parseClock parses a "15:04" style time of day into hour and minute.
func parseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q: %w", value, err)
	}
	return t.Hour(), t.Minute(), nil
}

// parseDuration parses a Go duration string, rejecting non-positive values.
func parseDuration(value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid duration %q: must be positive", value)
	}
	return d, nil
}

package schedule

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/telecast-dev/telecast/internal/logger"
	"github.com/telecast-dev/telecast/internal/source"
	"github.com/telecast-dev/telecast/internal/timeline"
)

const (
	// maxSequenceDepth bounds sequence reference nesting; anything deeper
	// is treated as a cycle
	maxSequenceDepth = 32

	// defaultDiscardSlack is how far an item may overshoot a duration
	// target before a duration directive discards it
	defaultDiscardSlack = 30 * time.Second
)

// Options tunes compilation.
type Options struct {
	// Anchor is the channel epoch; pad and wait targets are computed
	// against it. Required.
	Anchor time.Time

	// Slack is the overshoot tolerance before duration directives discard
	// an oversized item. Zero means defaultDiscardSlack.
	Slack time.Duration

	// Reset marks this compile as an epoch reset; WaitUntil directives
	// with rewind_on_reset then anchor to today's occurrence of their
	// target instead of the next one.
	Reset bool
}

// Compile expands a schedule document into the flat segment list the
// timeline clock runs against. Compilation is a pure function: the same
// document, collection snapshot, and options always produce an identical
// result. All randomness (shuffles, random skips) is seeded from the
// schedule name, so independent recompiles converge.
func Compile(ctx context.Context, doc *Document, resolver source.CollectionResolver, opts Options) (*timeline.Compiled, error) {
	if err := validate(doc); err != nil {
		return nil, err
	}
	if opts.Anchor.IsZero() {
		return nil, fmt.Errorf("%w: compile anchor is required", ErrInvalidDocument)
	}
	if opts.Slack == 0 {
		opts.Slack = defaultDiscardSlack
	}

	c := &compiler{
		ctx:      ctx,
		doc:      doc,
		resolver: resolver,
		opts:     opts,
		content:  make(map[string]*ContentDefinition),
		lists:    make(map[string]*cursor),
		seqItems: make(map[string][]SequenceItem),
		rng:      rand.New(rand.NewSource(source.SeedFor(doc.Name))),
	}
	for i := range doc.Content {
		c.content[doc.Content[i].Key] = &doc.Content[i]
	}
	for _, seq := range doc.Sequences {
		items := make([]SequenceItem, len(seq.Items))
		copy(items, seq.Items)
		c.seqItems[seq.Key] = items
	}

	for _, entry := range doc.Playout {
		if err := c.expandSequence(entry.Sequence, 0); err != nil {
			return nil, err
		}
	}

	repeat := doc.Playout[len(doc.Playout)-1].Repeat

	compiled := &timeline.Compiled{
		ScheduleName: doc.Name,
		Segments:     c.segments,
		LoopDuration: c.pos,
		Repeat:       repeat,
	}
	if len(compiled.Segments) == 0 {
		return nil, fmt.Errorf("%w: schedule expands to no segments", ErrInvalidDocument)
	}

	logger.Log.Info().
		Str("schedule", doc.Name).
		Int("segments", len(compiled.Segments)).
		Dur("loop_duration", compiled.LoopDuration).
		Bool("repeat", repeat).
		Msg("Schedule compiled")

	return compiled, nil
}

// cursor is a shared, wrapping position into one content's item list.
// SkipItems and duration directives on the same content key consume the
// same cursor, which is what makes their interaction deterministic.
type cursor struct {
	items []source.Item
	pos   int
}

// next returns the item under the cursor and advances it, wrapping at the
// end of the list.
func (c *cursor) next() source.Item {
	it := c.items[c.pos%len(c.items)]
	c.pos++
	return it
}

// advance moves the cursor forward without drawing items
func (c *cursor) advance(n int) {
	c.pos += n
}

type compiler struct {
	ctx      context.Context
	doc      *Document
	resolver source.CollectionResolver
	opts     Options

	content  map[string]*ContentDefinition
	lists    map[string]*cursor
	seqItems map[string][]SequenceItem
	rng      *rand.Rand

	segments []timeline.Segment
	pos      time.Duration
}

// listFor lazily resolves the item list behind a content key.
func (c *compiler) listFor(key string) (*cursor, error) {
	if cur, ok := c.lists[key]; ok {
		return cur, nil
	}

	def, ok := c.content[key]
	if !ok {
		return nil, fmt.Errorf("%w: unknown content key %q", ErrInvalidDocument, key)
	}

	order := def.Order
	if order == "" {
		order = source.OrderChronological
	}

	items, err := c.resolver.Resolve(c.ctx, def.Collection, order)
	if err != nil {
		if errors.Is(err, source.ErrCollectionNotFound) {
			return nil, &UnknownCollectionError{ContentKey: key, Collection: def.Collection, Cause: err}
		}
		return nil, fmt.Errorf("content %q: %w", key, err)
	}
	if len(items) == 0 {
		return nil, &UnknownCollectionError{ContentKey: key, Collection: def.Collection, Cause: source.ErrCollectionNotFound}
	}

	cur := &cursor{items: items}
	c.lists[key] = cur
	return cur, nil
}

// listWithFallback resolves the primary content key, substituting the
// fallback when the primary's collection is unknown.
func (c *compiler) listWithFallback(key, fallback string) (*cursor, error) {
	cur, err := c.listFor(key)
	if err == nil {
		return cur, nil
	}

	var unknown *UnknownCollectionError
	if fallback != "" && errors.As(err, &unknown) {
		logger.Log.Warn().
			Str("schedule", c.doc.Name).
			Str("content", key).
			Str("fallback", fallback).
			Msg("Collection missing, substituting fallback content")
		return c.listFor(fallback)
	}
	return nil, err
}

func (c *compiler) expandSequence(key string, depth int) error {
	if depth >= maxSequenceDepth {
		return &SequenceRecursionError{Sequence: key, Depth: depth}
	}

	items, ok := c.seqItems[key]
	if !ok {
		return fmt.Errorf("%w: unknown sequence %q", ErrInvalidDocument, key)
	}

	for i := range items {
		if err := c.expandItem(&items[i], depth); err != nil {
			return fmt.Errorf("sequence %q item %d: %w", key, i, err)
		}
	}
	return nil
}

func (c *compiler) expandItem(item *SequenceItem, depth int) error {
	switch {
	case item.PlayAll != nil:
		return c.expandPlayAll(item.PlayAll)
	case item.PlayDuration != nil:
		d, err := parseDuration(item.PlayDuration.Duration)
		if err != nil {
			return err
		}
		return c.fill(d, item.PlayDuration.Content, item.PlayDuration.Fallback,
			item.PlayDuration.Trim, item.PlayDuration.DiscardAttempts)
	case item.PadToNext != nil:
		return c.expandPadToNext(item.PadToNext)
	case item.PadUntil != nil:
		return c.expandPadUntil(item.PadUntil)
	case item.WaitUntil != nil:
		return c.expandWaitUntil(item.WaitUntil)
	case item.SkipItems != nil:
		return c.expandSkipItems(item.SkipItems)
	case item.Shuffle != nil:
		return c.expandShuffle(item.Shuffle)
	case item.Sequence != "":
		return c.expandSequence(item.Sequence, depth+1)
	default:
		return fmt.Errorf("%w: empty sequence item", ErrInvalidDocument)
	}
}

func (c *compiler) expandPlayAll(d *PlayAllDirective) error {
	cur, err := c.listFor(d.Content)
	if err != nil {
		return err
	}

	for _, it := range cur.items {
		title := it.Title
		if d.Title != "" {
			title = d.Title
		}
		c.emit(timeline.Segment{
			Kind:     timeline.SegmentItem,
			MediaRef: it.MediaRef,
			Title:    title,
			Duration: it.Duration,
		})
	}
	return nil
}

// fill draws items from the content cursor until the target duration is
// covered. Items that would overshoot the target by more than the slack
// are discarded (the cursor still advances) while discard attempts remain;
// once attempts run out the next item is accepted regardless, trimmed to
// fit when trim is set, otherwise overshooting.
func (c *compiler) fill(target time.Duration, content, fallback string, trim bool, discardAttempts int) error {
	if target <= 0 {
		return nil
	}

	cur, err := c.listWithFallback(content, fallback)
	if err != nil {
		return err
	}

	attempts := discardAttempts
	remaining := target
	sinceEmit := 0
	for remaining > 0 {
		// A full lap of the list without emitting means nothing in it can
		// ever fill the target.
		if sinceEmit > len(cur.items)+attempts {
			return fmt.Errorf("content %q has no usable items for a %s fill", content, target)
		}
		it := cur.next()
		sinceEmit++
		if it.Duration <= 0 {
			continue
		}

		if it.Duration > remaining+c.opts.Slack && attempts > 0 {
			attempts--
			continue
		}

		dur := it.Duration
		if dur > remaining && trim {
			dur = remaining
		}

		c.emit(timeline.Segment{
			Kind:     timeline.SegmentItem,
			MediaRef: it.MediaRef,
			Title:    it.Title,
			Duration: dur,
		})
		remaining -= dur
		sinceEmit = 0
	}
	return nil
}

func (c *compiler) expandPadToNext(d *PadToNextDirective) error {
	if d.Minutes <= 0 {
		return fmt.Errorf("%w: pad_to_next minutes must be positive", ErrInvalidDocument)
	}

	now := c.opts.Anchor.Add(c.pos)
	target := nextBoundary(now, time.Duration(d.Minutes)*time.Minute)
	gap := target.Sub(now)
	if gap <= 0 {
		return nil
	}
	return c.fill(gap, d.Content, d.Fallback, d.Filler != FillerOverflow, d.DiscardAttempts)
}

func (c *compiler) expandPadUntil(d *PadUntilDirective) error {
	hour, minute, err := parseClock(d.Time)
	if err != nil {
		return err
	}

	now := c.opts.Anchor.Add(c.pos)
	target := atClock(now, hour, minute)
	if target.Before(now) {
		target = target.AddDate(0, 0, 1)
	}
	gap := target.Sub(now)
	if gap <= 0 {
		return nil
	}
	return c.fill(gap, d.Content, d.Fallback, d.Filler != FillerOverflow, d.DiscardAttempts)
}

func (c *compiler) expandWaitUntil(d *WaitUntilDirective) error {
	hour, minute, err := parseClock(d.Time)
	if err != nil {
		return err
	}

	now := c.opts.Anchor.Add(c.pos)
	target := atClock(now, hour, minute)
	if d.Tomorrow {
		target = target.AddDate(0, 0, 1)
	}
	if target.Before(now) {
		// On a reset compile, rewind_on_reset holds the reference at
		// today's occurrence: the target has passed, so the hold collapses.
		if c.opts.Reset && d.RewindOnReset {
			return nil
		}
		target = target.AddDate(0, 0, 1)
	}

	gap := target.Sub(now)
	if gap <= 0 {
		return nil
	}

	c.emit(timeline.Segment{
		Kind:     timeline.SegmentHold,
		Duration: gap,
	})
	return nil
}

func (c *compiler) expandSkipItems(d *SkipItemsDirective) error {
	cur, err := c.listFor(d.Content)
	if err != nil {
		return err
	}

	var n int
	switch d.Count {
	case "count/2":
		n = len(cur.items) / 2
	case "random":
		n = c.rng.Intn(len(cur.items))
	default:
		n, err = strconv.Atoi(d.Count)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: invalid skip count %q", ErrInvalidDocument, d.Count)
		}
	}

	cur.advance(n)
	return nil
}

func (c *compiler) expandShuffle(d *ShuffleDirective) error {
	items, ok := c.seqItems[d.Sequence]
	if !ok {
		return fmt.Errorf("%w: shuffle references unknown sequence %q", ErrInvalidDocument, d.Sequence)
	}

	c.rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
	return nil
}

// emit appends a segment at the current position. Zero-duration segments
// (pads whose target already passed) are dropped rather than emitted so
// offsets stay strictly increasing.
func (c *compiler) emit(seg timeline.Segment) {
	if seg.Duration <= 0 {
		return
	}
	seg.StartOffset = c.pos
	c.segments = append(c.segments, seg)
	c.pos += seg.Duration
}

// nextBoundary returns the next wall-clock instant at or after t that is a
// multiple of step aligned to the hour. An instant already on a boundary
// is its own target, which collapses the pad to a no-op.
func nextBoundary(t time.Time, step time.Duration) time.Time {
	b := t.Truncate(time.Hour)
	for b.Before(t) {
		b = b.Add(step)
	}
	return b
}

// atClock returns the instant on t's calendar day at the given clock time.
func atClock(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telecast-dev/telecast/internal/source"
	"github.com/telecast-dev/telecast/internal/timeline"
)

// fakeResolver serves fixed item lists per collection name
type fakeResolver struct {
	collections map[string][]source.Item
}

func (f *fakeResolver) Resolve(_ context.Context, name string, order source.OrderMode) ([]source.Item, error) {
	items, ok := f.collections[name]
	if !ok {
		return nil, source.ErrCollectionNotFound
	}
	out := make([]source.Item, len(items))
	copy(out, items)
	if order == source.OrderShuffle {
		source.ShuffleItems(out, name)
	}
	return out, nil
}

func itemList(prefix string, durations ...time.Duration) []source.Item {
	items := make([]source.Item, len(durations))
	for i, d := range durations {
		items[i] = source.Item{
			MediaRef: prefix + string(rune('a'+i)),
			Title:    prefix + string(rune('a'+i)),
			Duration: d,
		}
	}
	return items
}

func docWith(items ...SequenceItem) *Document {
	return &Document{
		Name: "test",
		Content: []ContentDefinition{
			{Key: "shows", Collection: "shows"},
			{Key: "filler", Collection: "filler"},
		},
		Sequences: []Sequence{{Key: "main", Items: items}},
		Playout:   []PlayoutEntry{{Sequence: "main", Repeat: true}},
	}
}

func TestCompile_PlayAll(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": itemList("show-", 20*time.Minute, 25*time.Minute),
	}}
	doc := docWith(SequenceItem{PlayAll: &PlayAllDirective{Content: "shows"}})
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	require.Len(t, compiled.Segments, 2)
	assert.Equal(t, "show-a", compiled.Segments[0].MediaRef)
	assert.Equal(t, time.Duration(0), compiled.Segments[0].StartOffset)
	assert.Equal(t, "show-b", compiled.Segments[1].MediaRef)
	assert.Equal(t, 20*time.Minute, compiled.Segments[1].StartOffset)
	assert.Equal(t, 45*time.Minute, compiled.LoopDuration)
	assert.True(t, compiled.Repeat)
}

func TestCompile_Deterministic(t *testing.T) {
	// Shuffles and random skips are seeded from the schedule name, so two
	// independent compiles of the same document must be identical.
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": itemList("show-", 10*time.Minute, 15*time.Minute, 20*time.Minute, 5*time.Minute, 30*time.Minute),
	}}
	doc := &Document{
		Name: "determinism",
		Content: []ContentDefinition{
			{Key: "shows", Collection: "shows"},
		},
		Sequences: []Sequence{
			{Key: "block", Items: []SequenceItem{
				{PlayAll: &PlayAllDirective{Content: "shows"}},
			}},
			{Key: "main", Items: []SequenceItem{
				{SkipItems: &SkipItemsDirective{Count: "random", Content: "shows"}},
				{Shuffle: &ShuffleDirective{Sequence: "block"}},
				{Sequence: "block"},
				{PlayDuration: &PlayDurationDirective{Duration: "45m", Content: "shows", Trim: true}},
			}},
		},
		Playout: []PlayoutEntry{{Sequence: "main", Repeat: true}},
	}
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})
	require.NoError(t, err)
	second, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCompile_PlayDuration_ExactFill(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": itemList("show-", 10*time.Minute, 20*time.Minute),
	}}
	doc := docWith(SequenceItem{PlayDuration: &PlayDurationDirective{Duration: "30m", Content: "shows"}})
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	require.Len(t, compiled.Segments, 2)
	assert.Equal(t, 30*time.Minute, compiled.LoopDuration)
}

func TestCompile_PlayDuration_DiscardOversized(t *testing.T) {
	// The 15m item overshoots the 10m target beyond the slack, so with
	// attempts left it is discarded and the cursor moves on.
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": itemList("show-", 15*time.Minute, 5*time.Minute, 5*time.Minute),
	}}
	doc := docWith(SequenceItem{PlayDuration: &PlayDurationDirective{
		Duration:        "10m",
		Content:         "shows",
		DiscardAttempts: 2,
	}})
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	require.Len(t, compiled.Segments, 2)
	assert.Equal(t, "show-b", compiled.Segments[0].MediaRef)
	assert.Equal(t, "show-c", compiled.Segments[1].MediaRef)
	assert.Equal(t, 10*time.Minute, compiled.LoopDuration)
}

func TestCompile_PlayDuration_AttemptsExhausted_Trim(t *testing.T) {
	// With no discard attempts the oversized item is accepted and trimmed
	// to land exactly on the target.
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": itemList("show-", 15*time.Minute),
	}}
	doc := docWith(SequenceItem{PlayDuration: &PlayDurationDirective{
		Duration: "10m",
		Content:  "shows",
		Trim:     true,
	}})
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	require.Len(t, compiled.Segments, 1)
	assert.Equal(t, 10*time.Minute, compiled.Segments[0].Duration)
	assert.Equal(t, 10*time.Minute, compiled.LoopDuration)
}

func TestCompile_PlayDuration_AttemptsExhausted_Overshoot(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": itemList("show-", 15*time.Minute),
	}}
	doc := docWith(SequenceItem{PlayDuration: &PlayDurationDirective{
		Duration: "10m",
		Content:  "shows",
	}})
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	require.Len(t, compiled.Segments, 1)
	assert.Equal(t, 15*time.Minute, compiled.Segments[0].Duration)
	assert.Equal(t, 15*time.Minute, compiled.LoopDuration)
}

func TestCompile_PadToNext_FillsToBoundary(t *testing.T) {
	// Anchored program reaches 14:47; padding to the next 30 minute
	// boundary inserts exactly 13 minutes of filler ending at 15:00.
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows":  itemList("show-", 47*time.Minute),
		"filler": itemList("fill-", time.Minute),
	}}
	doc := docWith(
		SequenceItem{PlayAll: &PlayAllDirective{Content: "shows"}},
		SequenceItem{PadToNext: &PadToNextDirective{Minutes: 30, Content: "filler"}},
	)
	anchor := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	assert.Equal(t, time.Hour, compiled.LoopDuration)

	var padded time.Duration
	for _, seg := range compiled.Segments[1:] {
		padded += seg.Duration
	}
	assert.Equal(t, 13*time.Minute, padded)
}

func TestCompile_PadToNext_AlreadyOnBoundary(t *testing.T) {
	// Pad target equals current position: the pad is a no-op, never a
	// negative or full-cycle fill.
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows":  itemList("show-", 30*time.Minute),
		"filler": itemList("fill-", time.Minute),
	}}
	doc := docWith(
		SequenceItem{PlayAll: &PlayAllDirective{Content: "shows"}},
		SequenceItem{PadToNext: &PadToNextDirective{Minutes: 30, Content: "filler"}},
	)
	anchor := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	require.Len(t, compiled.Segments, 1)
	assert.Equal(t, 30*time.Minute, compiled.LoopDuration)
}

func TestCompile_PadUntil_RollsToNextDay(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows":  itemList("show-", time.Hour),
		"filler": itemList("fill-", time.Hour),
	}}
	doc := docWith(
		SequenceItem{PlayAll: &PlayAllDirective{Content: "shows"}},
		SequenceItem{PadUntil: &PadUntilDirective{Time: "06:00", Content: "filler"}},
	)
	// Anchor at 22:00; after the 1h show it is 23:00, so 06:00 is 7h away
	// on the next day.
	anchor := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, compiled.LoopDuration)
}

func TestCompile_WaitUntil_EmitsHold(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": itemList("show-", time.Hour),
	}}
	doc := docWith(
		SequenceItem{WaitUntil: &WaitUntilDirective{Time: "18:00"}},
		SequenceItem{PlayAll: &PlayAllDirective{Content: "shows"}},
	)
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	require.Len(t, compiled.Segments, 2)
	assert.Equal(t, timeline.SegmentHold, compiled.Segments[0].Kind)
	assert.Equal(t, 6*time.Hour, compiled.Segments[0].Duration)
	assert.Equal(t, timeline.SegmentItem, compiled.Segments[1].Kind)
	assert.Equal(t, 6*time.Hour, compiled.Segments[1].StartOffset)
}

func TestCompile_WaitUntil_RewindOnReset(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": itemList("show-", time.Hour),
	}}
	doc := docWith(
		SequenceItem{WaitUntil: &WaitUntilDirective{Time: "10:00", RewindOnReset: true}},
		SequenceItem{PlayAll: &PlayAllDirective{Content: "shows"}},
	)
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) // 10:00 already passed

	// On a reset compile the passed target collapses instead of rolling to
	// tomorrow.
	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor, Reset: true})
	require.NoError(t, err)
	require.Len(t, compiled.Segments, 1)
	assert.Equal(t, timeline.SegmentItem, compiled.Segments[0].Kind)

	// On a routine compile the wait rolls to tomorrow's occurrence.
	compiled, err = Compile(context.Background(), doc, resolver, Options{Anchor: anchor})
	require.NoError(t, err)
	require.Len(t, compiled.Segments, 2)
	assert.Equal(t, 22*time.Hour, compiled.Segments[0].Duration)
}

func TestCompile_SkipItems_HalfList(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": itemList("show-", 10*time.Minute, 10*time.Minute, 10*time.Minute, 10*time.Minute),
	}}
	doc := docWith(
		SequenceItem{SkipItems: &SkipItemsDirective{Count: "count/2", Content: "shows"}},
		SequenceItem{PlayDuration: &PlayDurationDirective{Duration: "10m", Content: "shows"}},
	)
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	require.Len(t, compiled.Segments, 1)
	assert.Equal(t, "show-c", compiled.Segments[0].MediaRef)
}

func TestCompile_SkipItems_SharedCursorWraps(t *testing.T) {
	// Skipping past the end of the list wraps rather than failing, and the
	// next draw continues from the wrapped position.
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": itemList("show-", 10*time.Minute, 10*time.Minute, 10*time.Minute),
	}}
	doc := docWith(
		SequenceItem{SkipItems: &SkipItemsDirective{Count: "4", Content: "shows"}},
		SequenceItem{PlayDuration: &PlayDurationDirective{Duration: "10m", Content: "shows"}},
	)
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	require.Len(t, compiled.Segments, 1)
	assert.Equal(t, "show-b", compiled.Segments[0].MediaRef)
}

func TestCompile_UnknownCollection(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{}}
	doc := docWith(SequenceItem{PlayAll: &PlayAllDirective{Content: "shows"}})
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	assert.Nil(t, compiled)
	var unknown *UnknownCollectionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "shows", unknown.ContentKey)
}

func TestCompile_FallbackSubstitution(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"filler": itemList("fill-", 5*time.Minute),
	}}
	doc := docWith(SequenceItem{PlayDuration: &PlayDurationDirective{
		Duration: "10m",
		Content:  "shows", // collection missing
		Fallback: "filler",
	}})
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	require.Len(t, compiled.Segments, 2)
	assert.Equal(t, "fill-a", compiled.Segments[0].MediaRef)
}

func TestCompile_SequenceRecursionBounded(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{}}
	doc := &Document{
		Name: "recursive",
		Sequences: []Sequence{
			{Key: "main", Items: []SequenceItem{{Sequence: "main"}}},
		},
		Playout: []PlayoutEntry{{Sequence: "main"}},
	}
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	assert.Nil(t, compiled)
	var recursion *SequenceRecursionError
	require.ErrorAs(t, err, &recursion)
	assert.Equal(t, "main", recursion.Sequence)
}

func TestCompile_MissingAnchor(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": itemList("show-", time.Hour),
	}}
	doc := docWith(SequenceItem{PlayAll: &PlayAllDirective{Content: "shows"}})

	compiled, err := Compile(context.Background(), doc, resolver, Options{})

	assert.Nil(t, compiled)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestCompile_OffsetsStrictlyIncreasing(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows":  itemList("show-", 23*time.Minute, 41*time.Minute, 17*time.Minute),
		"filler": itemList("fill-", 3*time.Minute, 7*time.Minute),
	}}
	doc := docWith(
		SequenceItem{PlayAll: &PlayAllDirective{Content: "shows"}},
		SequenceItem{PadToNext: &PadToNextDirective{Minutes: 30, Content: "filler", Filler: FillerOverflow}},
		SequenceItem{WaitUntil: &WaitUntilDirective{Time: "18:00"}},
		SequenceItem{PlayDuration: &PlayDurationDirective{Duration: "1h", Content: "filler", Trim: true}},
	)
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	var prevEnd time.Duration
	for i, seg := range compiled.Segments {
		assert.Equal(t, prevEnd, seg.StartOffset, "segment %d", i)
		assert.Greater(t, seg.Duration, time.Duration(0), "segment %d", i)
		prevEnd = seg.StartOffset + seg.Duration
	}
	assert.Equal(t, prevEnd, compiled.LoopDuration)
}

func TestCompile_UnfillableTarget(t *testing.T) {
	// Every item has zero duration; the fill must fail instead of looping
	// forever.
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": {{MediaRef: "broken", Title: "broken", Duration: 0}},
	}}
	doc := docWith(SequenceItem{PlayDuration: &PlayDurationDirective{Duration: "10m", Content: "shows"}})
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	assert.Nil(t, compiled)
	assert.Error(t, err)
}

func TestCompile_RepeatComesFromFinalEntry(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{
		"shows": itemList("show-", time.Hour),
	}}
	doc := docWith(SequenceItem{PlayAll: &PlayAllDirective{Content: "shows"}})
	doc.Playout = []PlayoutEntry{{Sequence: "main"}}
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	compiled, err := Compile(context.Background(), doc, resolver, Options{Anchor: anchor})

	require.NoError(t, err)
	assert.False(t, compiled.Repeat)
}

func TestCompile_ErrorsWrapInvalidDocument(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]source.Item{}}
	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		doc  *Document
	}{
		{
			name: "unknown playout sequence",
			doc: &Document{
				Name:    "bad",
				Playout: []PlayoutEntry{{Sequence: "missing"}},
			},
		},
		{
			name: "repeat not on final entry",
			doc: &Document{
				Name: "bad",
				Sequences: []Sequence{
					{Key: "a"}, {Key: "b"},
				},
				Playout: []PlayoutEntry{
					{Sequence: "a", Repeat: true},
					{Sequence: "b"},
				},
			},
		},
		{
			name: "two directives in one item",
			doc: &Document{
				Name: "bad",
				Content: []ContentDefinition{
					{Key: "shows", Collection: "shows"},
				},
				Sequences: []Sequence{{Key: "main", Items: []SequenceItem{{
					PlayAll:   &PlayAllDirective{Content: "shows"},
					WaitUntil: &WaitUntilDirective{Time: "18:00"},
				}}}},
				Playout: []PlayoutEntry{{Sequence: "main"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := Compile(context.Background(), tt.doc, resolver, Options{Anchor: anchor})
			assert.Nil(t, compiled)
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestNextBoundary(t *testing.T) {
	tests := []struct {
		at       time.Time
		step     time.Duration
		expected time.Time
	}{
		{
			at:       time.Date(2026, 3, 1, 14, 47, 0, 0, time.UTC),
			step:     30 * time.Minute,
			expected: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
		},
		{
			at:       time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC),
			step:     30 * time.Minute,
			expected: time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC),
		},
		{
			at:       time.Date(2026, 3, 1, 14, 1, 0, 0, time.UTC),
			step:     15 * time.Minute,
			expected: time.Date(2026, 3, 1, 14, 15, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, nextBoundary(tt.at, tt.step))
	}
}

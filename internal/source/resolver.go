// Package source defines the collaborator interfaces the scheduling core
// depends on: resolving collection names into ordered item lists, and
// resolving media references into concrete playable sources.
package source

import (
	"context"
	"errors"
	"time"
)

// OrderMode controls how a collection resolver orders its items.
type OrderMode string

const (
	// OrderChronological orders items by air date, oldest first
	OrderChronological OrderMode = "chronological"
	// OrderShuffle orders items by a deterministic per-collection shuffle
	OrderShuffle OrderMode = "shuffle"
)

// IsValid checks if the order mode is a known valid value
func (m OrderMode) IsValid() bool {
	return m == OrderChronological || m == OrderShuffle
}

// Resolver errors
var (
	// ErrCollectionNotFound indicates the named collection does not exist
	// or is empty
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrUnavailable indicates a transient source failure worth retrying
	ErrUnavailable = errors.New("source temporarily unavailable")

	// ErrGone indicates the source is permanently unplayable and the item
	// should be skipped
	ErrGone = errors.New("source permanently gone")
)

// IsTransient reports whether a source resolution error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsPermanent reports whether a source resolution error means the item can
// never play and must be skipped.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrGone)
}

// Item is one playable entry of a resolved collection. Duration is the
// nominal duration from library metadata; the source resolver may correct
// it when the item is resolved to a concrete source.
type Item struct {
	MediaRef string
	Title    string
	Duration time.Duration
}

// CollectionResolver resolves a collection name into an ordered item list.
// Implementations must be deterministic: the same collection contents and
// order mode always yield the same list, or compiled schedules would
// diverge between viewers.
type CollectionResolver interface {
	Resolve(ctx context.Context, name string, order OrderMode) ([]Item, error)
}

// Resolved is a concrete playable source for one media reference.
type Resolved struct {
	URL      string
	Duration time.Duration
}

// SourceResolver resolves a media reference into a playable source URL and
// its confirmed duration. Implementations fail with ErrUnavailable for
// transient conditions and ErrGone for permanent ones.
type SourceResolver interface {
	ResolveSource(ctx context.Context, mediaRef string) (*Resolved, error)
}

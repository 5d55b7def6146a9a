package source

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"time"

	"github.com/telecast-dev/telecast/internal/db"
	"github.com/telecast-dev/telecast/internal/logger"
)

// StoreResolver resolves collections from the media library database.
type StoreResolver struct {
	repos *db.Repositories
}

// NewStoreResolver creates a collection resolver backed by the library store
func NewStoreResolver(repos *db.Repositories) *StoreResolver {
	return &StoreResolver{repos: repos}
}

// Resolve returns the ordered item list for a collection. Chronological
// ordering comes straight from the repository; shuffle ordering applies a
// Fisher-Yates pass seeded from the collection name so the result is stable
// across processes and recompiles.
func (r *StoreResolver) Resolve(ctx context.Context, name string, order OrderMode) ([]Item, error) {
	collection, err := r.repos.Collections.GetByName(ctx, name)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, fmt.Errorf("failed to resolve collection %s: %w", name, err)
	}

	records, err := r.repos.Media.ListByCollection(ctx, collection.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCollectionNotFound, name)
	}

	items := make([]Item, 0, len(records))
	for _, rec := range records {
		items = append(items, Item{
			MediaRef: rec.MediaRef,
			Title:    rec.Title,
			Duration: time.Duration(rec.Duration) * time.Second,
		})
	}

	if order == OrderShuffle {
		ShuffleItems(items, name)
	}

	logger.Log.Debug().
		Str("collection", name).
		Str("order", string(order)).
		Int("items", len(items)).
		Msg("Collection resolved")

	return items, nil
}

// ShuffleItems applies a deterministic Fisher-Yates shuffle seeded from the
// given key. Determinism is load-bearing: independent recompiles of the
// same schedule must land on the same item order.
func ShuffleItems(items []Item, seedKey string) {
	rng := rand.New(rand.NewSource(SeedFor(seedKey)))
	rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

// SeedFor derives a stable int64 seed from a string key using FNV-1a.
func SeedFor(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// FileResolver resolves media references as paths into the local library.
// It is the default SourceResolver; remote resolvers (YouTube, Archive.org)
// satisfy the same interface.
type FileResolver struct {
	repos *db.Repositories
}

// NewFileResolver creates a source resolver for local library files
func NewFileResolver(repos *db.Repositories) *FileResolver {
	return &FileResolver{repos: repos}
}

// ResolveSource resolves a media reference to its file path and confirmed
// duration. A reference missing from the library or from disk is permanently
// gone; anything else (the store being briefly unreachable) is transient.
func (r *FileResolver) ResolveSource(ctx context.Context, mediaRef string) (*Resolved, error) {
	rec, err := r.repos.Media.GetByRef(ctx, mediaRef)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s not in library", ErrGone, mediaRef)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if _, err := os.Stat(rec.MediaRef); err != nil {
		return nil, fmt.Errorf("%w: %s missing on disk", ErrGone, mediaRef)
	}

	return &Resolved{
		URL:      rec.MediaRef,
		Duration: time.Duration(rec.Duration) * time.Second,
	}, nil
}

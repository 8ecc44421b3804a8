// Package storage defines the backend contract for the track corpus. Each
// backend implements the same narrow interface; the use case services consume
// only the sub-contracts they need.
package storage

import (
	"context"
	"time"

	"github.com/tuneprint/tuneprint/internal/domain/match"
	"github.com/tuneprint/tuneprint/internal/domain/track"
)

// TrackStore is the full backend facade: coarse retrieval for queries,
// uniquely-keyed writes for ingest, and lifecycle plumbing.
type TrackStore interface {
	// CoarseQuery returns up to limit candidates whose raw code-overlap count
	// with codes is at least minScore, each carrying its full code/time
	// arrays, sorted by overlap descending.
	CoarseQuery(ctx context.Context, codes []uint32, minScore float64, limit int) ([]match.Candidate, error)

	// Insert persists a track keyed uniquely by its TrackID; a duplicate
	// returns domain.ErrAlreadyExists.
	Insert(ctx context.Context, t *track.Track) error

	// FindByID returns a stored track, or nil when the id is unknown.
	FindByID(ctx context.Context, trackID string) (*track.Track, error)

	Ping(ctx context.Context) error
	WaitForReady(ctx context.Context, timeout time.Duration) error
	Close() error
}

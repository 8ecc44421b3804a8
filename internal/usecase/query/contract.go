package query

import (
	"context"

	"github.com/tuneprint/tuneprint/internal/domain/match"
	"github.com/tuneprint/tuneprint/internal/domain/track"
)

// TrackSource defines the storage contract for query operations.
type TrackSource interface {
	// CoarseQuery returns up to limit candidates whose raw code-overlap count
	// with the given (deduplicated) codes is at least minScore, each populated
	// with its own codes and times, sorted by overlap descending.
	CoarseQuery(ctx context.Context, codes []uint32, minScore float64, limit int) ([]match.Candidate, error)

	// FindByID returns a stored track, or nil when the id is unknown.
	FindByID(ctx context.Context, trackID string) (*track.Track, error)
}

package ingest

import (
	"context"

	"github.com/tuneprint/tuneprint/internal/domain/track"
)

// TrackWriter defines the storage contract for ingest operations. Uniqueness
// on the track id is enforced by the backend; a duplicate insert must return
// domain.ErrAlreadyExists.
type TrackWriter interface {
	Insert(ctx context.Context, t *track.Track) error
}

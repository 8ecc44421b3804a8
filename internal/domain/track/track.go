// Package track defines the persisted track entity.
package track

import (
	"time"

	"github.com/tuneprint/tuneprint/internal/domain/fingerprint"
)

// Track is a stored fingerprint plus its metadata. TrackID is the
// caller-supplied unique key; ID is the storage-assigned row id.
type Track struct {
	ID         string
	TrackID    string
	Version    string
	UPC        string
	ISRC       string
	Filename   string
	IngestedAt time.Time
	Print      fingerprint.Fingerprint
}

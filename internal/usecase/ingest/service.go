// Package ingest implements track fingerprint ingestion: validation, trim to
// the ingest window, and the storage write.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tuneprint/tuneprint/internal/domain"
	"github.com/tuneprint/tuneprint/internal/domain/fingerprint"
	"github.com/tuneprint/tuneprint/internal/domain/track"
)

// Config holds ingest settings.
type Config struct {
	CodecVersion string
	TrimSeconds  float64
}

// Submission is an incoming track fingerprint with its metadata.
type Submission struct {
	Code     string
	Version  string
	TrackID  string
	UPC      string
	ISRC     string
	Filename string
}

// Receipt reports a successful ingest.
type Receipt struct {
	Success bool
	TrackID string
}

// Service handles track ingestion.
type Service struct {
	tracks TrackWriter
	cfg    Config
	now    func() time.Time
}

// New creates an ingest service.
func New(tracks TrackWriter, cfg Config) *Service {
	return &Service{tracks: tracks, cfg: cfg, now: time.Now}
}

// WithClock overrides the ingest timestamp source (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ingest validates a submission, decodes and trims its fingerprint, and
// persists it. Validation failures name the offending field and never reach
// storage; storage errors propagate unchanged.
func (s *Service) Ingest(ctx context.Context, sub Submission) (Receipt, error) {
	if sub.Code == "" {
		return Receipt{}, fmt.Errorf("%w: missing \"code\" field", domain.ErrValidation)
	}
	if sub.Version != s.cfg.CodecVersion {
		return Receipt{}, fmt.Errorf(
			"%w: version %q does not match required version %q",
			domain.ErrValidation, sub.Version, s.cfg.CodecVersion,
		)
	}
	if sub.TrackID == "" {
		return Receipt{}, fmt.Errorf("%w: missing \"trackId\" field", domain.ErrValidation)
	}

	fp, err := fingerprint.Decode(sub.Code)
	if err != nil {
		return Receipt{}, err
	}
	if fp.Len() == 0 {
		return Receipt{}, domain.ErrEmptyFingerprint
	}

	t := &track.Track{
		ID:         uuid.NewString(),
		TrackID:    sub.TrackID,
		Version:    sub.Version,
		UPC:        sub.UPC,
		ISRC:       sub.ISRC,
		Filename:   sub.Filename,
		IngestedAt: s.now().UTC(),
		Print:      fp.Trim(s.cfg.TrimSeconds),
	}

	if err := s.tracks.Insert(ctx, t); err != nil {
		return Receipt{}, fmt.Errorf("insert track %q: %w", sub.TrackID, err)
	}

	return Receipt{Success: true, TrackID: sub.TrackID}, nil
}

// ItemResult is the per-item outcome of a bulk ingest, keyed by the
// caller-supplied track id.
type ItemResult struct {
	TrackID string
	Receipt Receipt
	Err     error
}

// IngestAll runs independent ingests concurrently. Every submission produces
// exactly one result carrying its track id, even on failure; concurrent
// submissions sharing a track id race at the storage layer and the loser
// surfaces as a per-item error.
func (s *Service) IngestAll(ctx context.Context, subs []Submission) []ItemResult {
	results := make([]ItemResult, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		i, sub := i, sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipt, err := s.Ingest(ctx, sub)
			results[i] = ItemResult{TrackID: sub.TrackID, Receipt: receipt, Err: err}
		}()
	}
	wg.Wait()

	return results
}

// Package query implements fingerprint identification: decode, trim, coarse
// retrieval, histogram re-ranking, and best-match classification.
package query

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tuneprint/tuneprint/internal/domain"
	"github.com/tuneprint/tuneprint/internal/domain/fingerprint"
	"github.com/tuneprint/tuneprint/internal/domain/match"
	"github.com/tuneprint/tuneprint/internal/domain/track"
)

// Config holds the scoring engine tunables.
type Config struct {
	CodecVersion      string
	MaxRows           int
	MinScorePercent   float64
	MinConfidence     float64
	BestMatchDiff     float64
	Slop              uint32
	TrimSeconds       float64
	MinCandidateCodes int
	Policy            Policy
}

// Service handles fingerprint queries against the track corpus.
type Service struct {
	tracks TrackSource
	cfg    Config
}

// New creates a query service.
func New(tracks TrackSource, cfg Config) *Service {
	return &Service{tracks: tracks, cfg: cfg}
}

// Identify finds the closest matching tracks, if any, for a transport-encoded
// fingerprint. Validation and decode failures short-circuit before any
// storage call; a clean run that finds nothing confident enough is reported
// through the outcome status, not an error.
func (s *Service) Identify(ctx context.Context, codeStr, version string) (match.Outcome, error) {
	if codeStr == "" {
		return match.Outcome{}, fmt.Errorf("%w: missing \"code\" field", domain.ErrValidation)
	}
	if version != s.cfg.CodecVersion {
		return match.Outcome{}, fmt.Errorf(
			"%w: version %q does not match required version %q",
			domain.ErrValidation, version, s.cfg.CodecVersion,
		)
	}

	fp, err := fingerprint.Decode(codeStr)
	if err != nil {
		return match.Outcome{}, err
	}
	if fp.Len() == 0 {
		return match.Outcome{}, domain.ErrEmptyFingerprint
	}

	return s.findMatches(ctx, fp.Trim(s.cfg.TrimSeconds))
}

// findMatches runs coarse retrieval and fine scoring over a trimmed, non-empty
// fingerprint.
func (s *Service) findMatches(ctx context.Context, fp fingerprint.Fingerprint) (match.Outcome, error) {
	minScore := float64(fp.Len()) * s.cfg.MinScorePercent

	candidates, err := s.tracks.CoarseQuery(ctx, fp.UniqueCodes(), minScore, s.cfg.MaxRows)
	if err != nil {
		return match.Outcome{}, fmt.Errorf("coarse query: %w", err)
	}

	if len(candidates) == 0 {
		return match.Outcome{Status: match.StatusNoDBResults, Matches: []match.Candidate{}}, nil
	}
	if candidates[0].Score < minScore {
		return match.Outcome{Status: match.StatusNoMinResults, Matches: []match.Candidate{}}, nil
	}

	// Re-rank candidates by taking time offsets into account.
	confident := make([]match.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return match.Outcome{}, err
		}
		if s.cfg.MinCandidateCodes > 0 && cand.Print.Len() < s.cfg.MinCandidateCodes {
			continue
		}
		cand.Confidence = actualScore(fp, cand.Print, s.cfg.Slop)
		if cand.Confidence >= s.cfg.MinConfidence {
			confident = append(confident, cand)
		}
	}

	if len(confident) == 0 {
		return match.Outcome{Status: match.StatusNoConfidentResults, Matches: []match.Candidate{}}, nil
	}

	sort.SliceStable(confident, func(i, j int) bool {
		return confident[i].Confidence > confident[j].Confidence
	})

	outcome := decide(s.cfg.Policy, s.cfg.BestMatchDiff, confident)

	// Clamp only after the decision so that >100 scores still win it.
	if outcome.Best != nil {
		outcome.Best.Confidence = clampConfidence(outcome.Best.Confidence)
	}
	for i := range outcome.Matches {
		outcome.Matches[i].Confidence = clampConfidence(outcome.Matches[i].Confidence)
	}

	return outcome, nil
}

// Item is one entry of a bulk query.
type Item struct {
	Code    string
	Version string
}

// ItemResult is the per-item outcome of a bulk query.
type ItemResult struct {
	Outcome match.Outcome
	Err     error
}

// IdentifyAll runs independent queries concurrently, preserving the caller's
// positional mapping: results[i] always answers items[i].
func (s *Service) IdentifyAll(ctx context.Context, items []Item) []ItemResult {
	results := make([]ItemResult, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		i, item := i, item
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := s.Identify(ctx, item.Code, item.Version)
			results[i] = ItemResult{Outcome: outcome, Err: err}
		}()
	}
	wg.Wait()

	return results
}

// Lookup returns a stored track by its caller-supplied id.
func (s *Service) Lookup(ctx context.Context, trackID string) (*track.Track, error) {
	t, err := s.tracks.FindByID(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("find track %q: %w", trackID, err)
	}
	if t == nil {
		return nil, domain.ErrTrackNotFound
	}
	return t, nil
}

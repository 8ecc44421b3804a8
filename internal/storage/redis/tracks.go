package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/tuneprint/tuneprint/internal/domain"
	"github.com/tuneprint/tuneprint/internal/domain/fingerprint"
	"github.com/tuneprint/tuneprint/internal/domain/match"
	"github.com/tuneprint/tuneprint/internal/domain/track"
)

// Hash field names for a stored track.
const (
	fieldID         = "id"
	fieldTrackID    = "track_id"
	fieldVersion    = "version"
	fieldUPC        = "upc"
	fieldISRC       = "isrc"
	fieldFilename   = "filename"
	fieldIngestedAt = "ingested_at"
	fieldCodes      = "codes"
	fieldTimes      = "times"
)

// Insert persists a track hash and fans its codes into the inverted index.
// HSETNX on the track_id field is the uniqueness guard: the loser of a
// concurrent ingest race sees domain.ErrAlreadyExists.
func (s *Store) Insert(ctx context.Context, t *track.Track) error {
	key := s.trackKey(t.TrackID)

	created, err := s.do(ctx, s.b().Hsetnx().Key(key).Field(fieldTrackID).Value(t.TrackID).Build()).AsBool()
	if err != nil {
		return fmt.Errorf("hsetnx %s: %w", key, err)
	}
	if !created {
		return domain.ErrAlreadyExists
	}

	hset := s.b().Hset().Key(key).FieldValue().
		FieldValue(fieldID, t.ID).
		FieldValue(fieldVersion, t.Version).
		FieldValue(fieldUPC, t.UPC).
		FieldValue(fieldISRC, t.ISRC).
		FieldValue(fieldFilename, t.Filename).
		FieldValue(fieldIngestedAt, t.IngestedAt.Format(time.RFC3339)).
		FieldValue(fieldCodes, joinUints(t.Print.Codes)).
		FieldValue(fieldTimes, joinUints(t.Print.Times))
	if err := s.do(ctx, hset.Build()).Error(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}

	unique := t.Print.UniqueCodes()
	cmds := make([]rueidis.Completed, len(unique))
	for i, code := range unique {
		cmds[i] = s.b().Sadd().Key(s.codeKey(code)).Member(t.TrackID).Build()
	}
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("sadd code %d: %w", unique[i], err)
		}
	}

	return nil
}

// CoarseQuery counts code overlaps through the inverted index, keeps tracks
// at or above minScore, and hydrates the top candidates.
func (s *Store) CoarseQuery(
	ctx context.Context, codes []uint32, minScore float64, limit int,
) ([]match.Candidate, error) {
	if len(codes) > s.maxQueryCodes {
		codes = codes[:s.maxQueryCodes]
	}

	cmds := make([]rueidis.Completed, len(codes))
	for i, code := range codes {
		cmds[i] = s.b().Smembers().Key(s.codeKey(code)).Build()
	}

	overlaps := make(map[string]int)
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		members, err := res.AsStrSlice()
		if err != nil {
			return nil, fmt.Errorf("smembers code %d: %w", codes[i], err)
		}
		for _, trackID := range members {
			overlaps[trackID]++
		}
	}

	type scored struct {
		trackID string
		score   int
	}
	ranked := make([]scored, 0, len(overlaps))
	for trackID, score := range overlaps {
		if float64(score) >= minScore {
			ranked = append(ranked, scored{trackID: trackID, score: score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].trackID < ranked[j].trackID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	if len(ranked) == 0 {
		return nil, nil
	}

	fetches := make([]rueidis.Completed, len(ranked))
	for i, r := range ranked {
		fetches[i] = s.b().Hgetall().Key(s.trackKey(r.trackID)).Build()
	}

	candidates := make([]match.Candidate, 0, len(ranked))
	for i, res := range s.client.DoMulti(ctx, fetches...) {
		fields, err := res.AsStrMap()
		if err != nil {
			return nil, fmt.Errorf("hgetall track %s: %w", ranked[i].trackID, err)
		}
		cand, err := candidateFromHash(fields)
		if err != nil {
			return nil, fmt.Errorf("track %s: %w", ranked[i].trackID, err)
		}
		cand.Score = float64(ranked[i].score)
		candidates = append(candidates, cand)
	}

	return candidates, nil
}

// FindByID returns a stored track, or nil when unknown.
func (s *Store) FindByID(ctx context.Context, trackID string) (*track.Track, error) {
	fields, err := s.do(ctx, s.b().Hgetall().Key(s.trackKey(trackID)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("hgetall track %s: %w", trackID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	cand, err := candidateFromHash(fields)
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", trackID, err)
	}

	return &track.Track{
		ID:         cand.ID,
		TrackID:    cand.TrackID,
		Version:    fields[fieldVersion],
		UPC:        cand.UPC,
		ISRC:       cand.ISRC,
		Filename:   cand.Filename,
		IngestedAt: cand.IngestedAt,
		Print:      cand.Print,
	}, nil
}

func candidateFromHash(fields map[string]string) (match.Candidate, error) {
	codes, err := splitUints(fields[fieldCodes])
	if err != nil {
		return match.Candidate{}, fmt.Errorf("parse codes: %w", err)
	}
	times, err := splitUints(fields[fieldTimes])
	if err != nil {
		return match.Candidate{}, fmt.Errorf("parse times: %w", err)
	}

	ingestedAt, _ := time.Parse(time.RFC3339, fields[fieldIngestedAt])

	return match.Candidate{
		ID:         fields[fieldID],
		TrackID:    fields[fieldTrackID],
		UPC:        fields[fieldUPC],
		ISRC:       fields[fieldISRC],
		Filename:   fields[fieldFilename],
		IngestedAt: ingestedAt,
		Print:      fingerprint.Fingerprint{Codes: codes, Times: times},
	}, nil
}

func joinUints(vals []uint32) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ",")
}

func splitUints(s string) ([]uint32, error) {
	if s == "" {
		return []uint32{}, nil
	}
	parts := strings.Split(s, ",")
	vals := make([]uint32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", p, err)
		}
		vals[i] = uint32(v)
	}
	return vals, nil
}

// Package sqlite implements the track store on SQLite via database/sql.
// Coarse retrieval is a single grouped overlap count over the codes table,
// the direct descendant of the relational variant of the predecessor system.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tuneprint/tuneprint/internal/domain"
	"github.com/tuneprint/tuneprint/internal/domain/fingerprint"
	"github.com/tuneprint/tuneprint/internal/domain/match"
	"github.com/tuneprint/tuneprint/internal/domain/track"
	"github.com/tuneprint/tuneprint/internal/storage"
)

// Compile-time check: Store implements storage.TrackStore.
var _ storage.TrackStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS tracks (
	track_id    TEXT PRIMARY KEY,
	id          TEXT NOT NULL,
	version     TEXT NOT NULL,
	upc         TEXT NOT NULL DEFAULT '',
	isrc        TEXT NOT NULL DEFAULT '',
	filename    TEXT NOT NULL DEFAULT '',
	ingested_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS codes (
	code     INTEGER NOT NULL,
	time     INTEGER NOT NULL,
	track_id TEXT NOT NULL REFERENCES tracks(track_id)
);
CREATE INDEX IF NOT EXISTS idx_codes_code ON codes(code);
CREATE INDEX IF NOT EXISTS idx_codes_track ON codes(track_id);
`

// Store implements storage.TrackStore on a SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if necessary creates) the database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := s.Ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Insert persists a track and its code/time rows in one transaction. The
// PRIMARY KEY on track_id is the uniqueness guard.
func (s *Store) Insert(ctx context.Context, t *track.Track) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tracks (track_id, id, version, upc, isrc, filename, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TrackID, t.ID, t.Version, t.UPC, t.ISRC, t.Filename,
		t.IngestedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert track %s: %w", t.TrackID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO codes (code, time, track_id) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare codes insert: %w", err)
	}
	defer stmt.Close()

	for i, code := range t.Print.Codes {
		if _, err = stmt.ExecContext(ctx, code, t.Print.Times[i], t.TrackID); err != nil {
			return fmt.Errorf("insert code %d: %w", code, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CoarseQuery counts code overlaps with a grouped query, then hydrates the
// surviving tracks.
func (s *Store) CoarseQuery(
	ctx context.Context, codes []uint32, minScore float64, limit int,
) ([]match.Candidate, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(codes)), ",")
	args := make([]any, 0, len(codes)+2)
	for _, c := range codes {
		args = append(args, c)
	}
	args = append(args, minScore, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT track_id, COUNT(DISTINCT code) AS score
		 FROM codes WHERE code IN (%s)
		 GROUP BY track_id HAVING score >= ?
		 ORDER BY score DESC, track_id LIMIT ?`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("overlap query: %w", err)
	}
	defer rows.Close()

	type scored struct {
		trackID string
		score   int
	}
	var ranked []scored
	for rows.Next() {
		var r scored
		if err := rows.Scan(&r.trackID, &r.score); err != nil {
			return nil, fmt.Errorf("scan overlap row: %w", err)
		}
		ranked = append(ranked, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("overlap rows: %w", err)
	}

	candidates := make([]match.Candidate, 0, len(ranked))
	for _, r := range ranked {
		t, err := s.FindByID(ctx, r.trackID)
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue
		}
		candidates = append(candidates, match.Candidate{
			ID:         t.ID,
			TrackID:    t.TrackID,
			UPC:        t.UPC,
			ISRC:       t.ISRC,
			Filename:   t.Filename,
			IngestedAt: t.IngestedAt,
			Print:      t.Print,
			Score:      float64(r.score),
		})
	}

	return candidates, nil
}

// FindByID returns a stored track, or nil when unknown.
func (s *Store) FindByID(ctx context.Context, trackID string) (*track.Track, error) {
	var t track.Track
	var ingestedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT track_id, id, version, upc, isrc, filename, ingested_at
		 FROM tracks WHERE track_id = ?`, trackID,
	).Scan(&t.TrackID, &t.ID, &t.Version, &t.UPC, &t.ISRC, &t.Filename, &ingestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select track %s: %w", trackID, err)
	}
	t.IngestedAt, _ = time.Parse(time.RFC3339, ingestedAt)

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, time FROM codes WHERE track_id = ? ORDER BY rowid`, trackID)
	if err != nil {
		return nil, fmt.Errorf("select codes %s: %w", trackID, err)
	}
	defer rows.Close()

	fp := fingerprint.Fingerprint{Codes: []uint32{}, Times: []uint32{}}
	for rows.Next() {
		var code, tm uint32
		if err := rows.Scan(&code, &tm); err != nil {
			return nil, fmt.Errorf("scan code row: %w", err)
		}
		fp.Codes = append(fp.Codes, code)
		fp.Times = append(fp.Times, tm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("code rows: %w", err)
	}
	t.Print = fp

	return &t, nil
}

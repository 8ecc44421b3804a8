// Package match defines the query-side result types: coarse candidates,
// classified outcomes, and the status taxonomy.
package match

import (
	"time"

	"github.com/tuneprint/tuneprint/internal/domain/fingerprint"
)

// Status classifies the outcome of a fingerprint query.
type Status string

// Query outcome statuses. The first three mean the query ran fine but found
// nothing confident enough; they are not errors.
const (
	StatusNoDBResults        Status = "NO_DB_RESULTS"
	StatusNoMinResults       Status = "NO_MIN_RESULTS"
	StatusNoConfidentResults Status = "NO_CONFIDENT_RESULTS"

	StatusBestMatch                Status = "BEST_MATCH"
	StatusBestMatchMultipleResults Status = "BEST_MATCH_MULTIPLE_RESULTS"
	StatusMultipleGoodResults      Status = "MULTIPLE_GOOD_RESULTS"

	StatusExactMatch                Status = "EXACT_MATCH"
	StatusExactMatchMultipleResults Status = "EXACT_MATCH_MULTIPLE_RESULTS"
)

// Candidate is a stored track fingerprint retrieved during coarse retrieval.
// Score is the raw code-overlap count supplied by storage; Confidence is
// filled in by the scoring engine. Candidates live for a single query.
type Candidate struct {
	ID         string
	TrackID    string
	UPC        string
	ISRC       string
	Filename   string
	IngestedAt time.Time
	Print      fingerprint.Fingerprint
	Score      float64
	Confidence float64
}

// Outcome is a classified query result: a status, an optional promoted best
// match, and the remaining candidates sorted by confidence descending.
type Outcome struct {
	Status  Status
	Best    *Candidate
	Matches []Candidate
}

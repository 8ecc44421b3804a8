package query

import (
	"math"

	"github.com/tuneprint/tuneprint/internal/domain/fingerprint"
)

// bucketTimes maps each candidate code to the bucketed time offsets where it
// appears. Bucketing quantizes a timestamp to floor(t/slop)*slop so that two
// recordings of the same content still collide despite small timing jitter.
func bucketTimes(fp fingerprint.Fingerprint, slop uint32) map[uint32][]uint32 {
	codesToTimes := make(map[uint32][]uint32, len(fp.Codes))
	for i, code := range fp.Codes {
		codesToTimes[code] = append(codesToTimes[code], fp.Times[i]/slop*slop)
	}
	return codesToTimes
}

// actualScore computes the drift-tolerant confidence of a candidate against
// the query. Every matching (code, time) pair votes into a histogram keyed by
// the absolute distance between the two bucketed timestamps; a true match
// concentrates its votes in one or two adjacent distance buckets while a
// false positive spreads them out. The confidence is the two largest bucket
// counts as a percentage of the query's code count, rounded to two decimals.
// Near-duplicate recordings can legitimately score above 100; the caller
// clamps only after the best-match decision is made.
func actualScore(query, candidate fingerprint.Fingerprint, slop uint32) float64 {
	codesToTimes := bucketTimes(candidate, slop)

	histogram := make(map[uint32]int)
	for i, code := range query.Codes {
		queryTime := query.Times[i] / slop * slop
		for _, candTime := range codesToTimes[code] {
			dist := queryTime - candTime
			if candTime > queryTime {
				dist = candTime - queryTime
			}
			histogram[dist]++
		}
	}

	var top, second int
	for _, count := range histogram {
		switch {
		case count > top:
			top, second = count, top
		case count > second:
			second = count
		}
	}

	return round2(float64(top+second) / float64(query.Len()) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// clampConfidence bounds a confidence into [0, 100] for display.
func clampConfidence(v float64) float64 {
	return min(max(v, 0), 100)
}

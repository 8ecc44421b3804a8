package query

import "github.com/tuneprint/tuneprint/internal/domain/match"

// Policy names a best-match decision strategy. Both policies were observed in
// production deployments of the predecessor system; which one is canonical is
// an open question, so the choice is configuration, not code.
type Policy string

const (
	// PolicyMargin promotes the top candidate when its confidence lead over
	// the runner-up is at least BestMatchDiff of its own confidence.
	PolicyMargin Policy = "margin"
	// PolicyExact promotes the top candidate only when its unclamped
	// confidence reaches 100 and strictly beats the runner-up.
	PolicyExact Policy = "exact"
)

// decide classifies a non-empty, confidence-sorted candidate list. All
// comparisons use raw, unclamped confidences.
func decide(policy Policy, bestMatchDiff float64, cands []match.Candidate) match.Outcome {
	if policy == PolicyExact {
		return decideExact(cands)
	}
	return decideMargin(bestMatchDiff, cands)
}

func decideMargin(bestMatchDiff float64, cands []match.Candidate) match.Outcome {
	if len(cands) == 1 {
		return match.Outcome{
			Status:  match.StatusBestMatch,
			Best:    &cands[0],
			Matches: cands[1:],
		}
	}

	if cands[0].Confidence-cands[1].Confidence >= cands[0].Confidence*bestMatchDiff {
		return match.Outcome{
			Status:  match.StatusBestMatchMultipleResults,
			Best:    &cands[0],
			Matches: cands[1:],
		}
	}

	return match.Outcome{Status: match.StatusMultipleGoodResults, Matches: cands}
}

func decideExact(cands []match.Candidate) match.Outcome {
	top := &cands[0]
	if top.Confidence >= 100 && (len(cands) == 1 || top.Confidence > cands[1].Confidence) {
		status := match.StatusExactMatch
		if len(cands) > 1 {
			status = match.StatusExactMatchMultipleResults
		}
		return match.Outcome{Status: status, Best: top, Matches: cands[1:]}
	}

	return match.Outcome{Status: match.StatusMultipleGoodResults, Matches: cands}
}

// Package fingerprint implements the acoustic fingerprint value type and its
// wire codec. A fingerprint is an ordered sequence of 20-bit code/time pairs;
// times are fixed-point offsets where one real second is about 43.45 units.
package fingerprint

// SecondsToTimestamp converts seconds to fingerprint time units.
const SecondsToTimestamp = 43.45

// Fingerprint is the ordered code/time sequence summarizing a recording.
// Codes[i] happened at Times[i]; both hold 20-bit unsigned values and Times
// is non-decreasing.
type Fingerprint struct {
	Codes []uint32
	Times []uint32
}

// Len returns the number of code/time pairs.
func (fp Fingerprint) Len() int { return len(fp.Codes) }

// Trim clamps the fingerprint to at most maxSeconds worth of codes measured
// from its first timestamp. The input is never mutated: the same decoded
// fingerprint is trimmed to different windows for query and ingest.
// Trim must not be called on an empty fingerprint.
func (fp Fingerprint) Trim(maxSeconds float64) Fingerprint {
	cutoff := float64(fp.Times[0]) + maxSeconds*SecondsToTimestamp

	for i, t := range fp.Times {
		if float64(t) > cutoff {
			return Fingerprint{
				Codes: append([]uint32(nil), fp.Codes[:i]...),
				Times: append([]uint32(nil), fp.Times[:i]...),
			}
		}
	}

	return Fingerprint{
		Codes: append([]uint32(nil), fp.Codes...),
		Times: append([]uint32(nil), fp.Times...),
	}
}

// UniqueCodes returns the distinct codes in first-seen order.
func (fp Fingerprint) UniqueCodes() []uint32 {
	seen := make(map[uint32]struct{}, len(fp.Codes))
	unique := make([]uint32, 0, len(fp.Codes))
	for _, c := range fp.Codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		unique = append(unique, c)
	}
	return unique
}

package fingerprint

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tuneprint/tuneprint/internal/domain"
)

// Wire format: a URL-safe base64 string wrapping a zlib-compressed ASCII
// buffer of fixed-width hex values, 5 digits each. The first half of the
// values are timestamps, the second half the matching codes, both in
// original chronological order.
const hexDigits = 5

var (
	toStd = strings.NewReplacer("-", "+", "_", "/")
	toURL = strings.NewReplacer("+", "-", "/", "_")
)

// Decode converts a transport-encoded code string into a Fingerprint.
//
// A malformed base64 or compressed stream is a hard error wrapping
// domain.ErrDecode. A buffer that decompresses fine but fails tuple parsing
// (odd tuple count, non-hex characters) yields an empty fingerprint and a
// nil error; callers detect that case via Len() == 0.
func Decode(codeStr string) (Fingerprint, error) {
	normalized := toStd.Replace(codeStr)

	enc := base64.StdEncoding
	if len(normalized)%4 != 0 {
		enc = base64.RawStdEncoding
	}
	compressed, err := enc.DecodeString(normalized)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}

	return parseHexTuples(raw), nil
}

// parseHexTuples splits the decompressed buffer into 5-hex-digit values,
// timestamps first, codes second.
func parseHexTuples(raw []byte) Fingerprint {
	empty := Fingerprint{Codes: []uint32{}, Times: []uint32{}}

	count := len(raw) / hexDigits
	if count == 0 || count%2 != 0 {
		return empty
	}
	half := count / 2

	times := make([]uint32, half)
	codes := make([]uint32, half)

	for i := 0; i < half; i++ {
		v, err := strconv.ParseUint(string(raw[i*hexDigits:(i+1)*hexDigits]), 16, 20)
		if err != nil {
			return empty
		}
		times[i] = uint32(v)
	}
	for i := half; i < count; i++ {
		v, err := strconv.ParseUint(string(raw[i*hexDigits:(i+1)*hexDigits]), 16, 20)
		if err != nil {
			return empty
		}
		codes[i-half] = uint32(v)
	}

	return Fingerprint{Codes: codes, Times: times}
}

// Encode is the structural inverse of Decode: zero-padded hex tuples, times
// then codes, zlib-compressed and URL-safe base64 encoded. Decode(Encode(fp))
// reproduces fp exactly for any non-degenerate fingerprint.
func Encode(fp Fingerprint) (string, error) {
	var ascii strings.Builder
	ascii.Grow((len(fp.Times) + len(fp.Codes)) * hexDigits)
	for _, t := range fp.Times {
		fmt.Fprintf(&ascii, "%05x", t)
	}
	for _, c := range fp.Codes {
		fmt.Fprintf(&ascii, "%05x", c)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write([]byte(ascii.String())); err != nil {
		return "", fmt.Errorf("compress code string: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress code string: %w", err)
	}

	return toURL.Replace(base64.StdEncoding.EncodeToString(compressed.Bytes())), nil
}

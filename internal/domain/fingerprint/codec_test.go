package fingerprint

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/tuneprint/tuneprint/internal/domain"
)

// compressToCodeStr builds a wire code string from a raw ASCII buffer,
// bypassing Encode so malformed tuple payloads can be constructed.
func compressToCodeStr(t *testing.T, raw string) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(raw)); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("compress: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestRoundTrip(t *testing.T) {
	fp := Fingerprint{
		Codes: []uint32{0x00001, 0xabcde, 0xfffff, 42, 42},
		Times: []uint32{0, 17, 1024, 0xfffff, 0xfffff},
	}

	codeStr, err := Encode(fp)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(codeStr)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(got.Codes) != len(fp.Codes) {
		t.Fatalf("expected %d codes, got %d", len(fp.Codes), len(got.Codes))
	}
	for i := range fp.Codes {
		if got.Codes[i] != fp.Codes[i] || got.Times[i] != fp.Times[i] {
			t.Errorf("pair %d: got (%d,%d), want (%d,%d)",
				i, got.Codes[i], got.Times[i], fp.Codes[i], fp.Times[i])
		}
	}
}

func TestRoundTrip_URLSafeSubstitution(t *testing.T) {
	// Enough varied pairs that the base64 output contains +/ in standard form.
	fp := Fingerprint{}
	for i := uint32(0); i < 200; i++ {
		fp.Codes = append(fp.Codes, (i*7919)%0x100000)
		fp.Times = append(fp.Times, i*43)
	}

	codeStr, err := Encode(fp)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, c := range codeStr {
		if c == '+' || c == '/' {
			t.Fatalf("encoded string contains non-URL-safe character %q", c)
		}
	}

	got, err := Decode(codeStr)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Len() != fp.Len() {
		t.Fatalf("expected %d pairs, got %d", fp.Len(), got.Len())
	}
}

func TestDecode_InvalidBase64(t *testing.T) {
	_, err := Decode("!!! not base64 !!!")
	if !errors.Is(err, domain.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestDecode_InvalidCompressedStream(t *testing.T) {
	// Valid base64, but the payload is not a zlib stream.
	codeStr := base64.StdEncoding.EncodeToString([]byte("plain bytes"))

	_, err := Decode(codeStr)
	if !errors.Is(err, domain.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestDecode_NonHexTuples(t *testing.T) {
	// Decompresses fine, but the tuples are not hex: soft failure, empty result.
	codeStr := compressToCodeStr(t, "zzzzzyyyyy")

	fp, err := Decode(codeStr)
	if err != nil {
		t.Fatalf("expected soft failure, got error %v", err)
	}
	if fp.Len() != 0 {
		t.Fatalf("expected empty fingerprint, got %d codes", fp.Len())
	}
}

func TestDecode_OddTupleCount(t *testing.T) {
	codeStr := compressToCodeStr(t, "00001")

	fp, err := Decode(codeStr)
	if err != nil {
		t.Fatalf("expected soft failure, got error %v", err)
	}
	if fp.Len() != 0 {
		t.Fatalf("expected empty fingerprint, got %d codes", fp.Len())
	}
}

func TestDecode_IgnoresTrailingRemainder(t *testing.T) {
	// 13 bytes: two full tuples plus a 3-byte remainder that must be dropped.
	codeStr := compressToCodeStr(t, "00011"+"00abc"+"xyz")

	fp, err := Decode(codeStr)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if fp.Len() != 1 {
		t.Fatalf("expected 1 pair, got %d", fp.Len())
	}
	if fp.Times[0] != 0x11 || fp.Codes[0] != 0xabc {
		t.Errorf("got (code=%#x, time=%#x), want (code=0xabc, time=0x11)", fp.Codes[0], fp.Times[0])
	}
}

func TestDecode_UppercaseHex(t *testing.T) {
	codeStr := compressToCodeStr(t, "000FF"+"ABCDE")

	fp, err := Decode(codeStr)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if fp.Len() != 1 || fp.Times[0] != 0xff || fp.Codes[0] != 0xabcde {
		t.Fatalf("unexpected result: %+v", fp)
	}
}

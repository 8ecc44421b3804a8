package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tuneprint/tuneprint/internal/domain"
	"github.com/tuneprint/tuneprint/internal/domain/fingerprint"
	"github.com/tuneprint/tuneprint/internal/domain/match"
	"github.com/tuneprint/tuneprint/internal/domain/track"
	healthuc "github.com/tuneprint/tuneprint/internal/usecase/health"
	ingestuc "github.com/tuneprint/tuneprint/internal/usecase/ingest"
	queryuc "github.com/tuneprint/tuneprint/internal/usecase/query"
)

type mockStore struct {
	candidates []match.Candidate
	tracks     map[string]*track.Track
	inserted   []*track.Track
	insertErr  error
	pingErr    error
}

func (m *mockStore) CoarseQuery(
	_ context.Context, _ []uint32, _ float64, _ int,
) ([]match.Candidate, error) {
	return m.candidates, nil
}

func (m *mockStore) FindByID(_ context.Context, trackID string) (*track.Track, error) {
	return m.tracks[trackID], nil
}

func (m *mockStore) Insert(_ context.Context, t *track.Track) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, t)
	return nil
}

func (m *mockStore) Ping(_ context.Context) error { return m.pingErr }

func newTestRouter(t *testing.T, store *mockStore) chi.Router {
	t.Helper()

	querySvc := queryuc.New(store, queryuc.Config{
		CodecVersion:    "4.12",
		MaxRows:         100,
		MinScorePercent: 0.05,
		MinConfidence:   25,
		BestMatchDiff:   0.25,
		Slop:            2,
		TrimSeconds:     180,
		Policy:          queryuc.PolicyMargin,
	})
	ingestSvc := ingestuc.New(store, ingestuc.Config{
		CodecVersion: "4.12",
		TrimSeconds:  4 * 60 * 60,
	}).WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})
	healthSvc := healthuc.New(store)

	server := NewServer(querySvc, ingestSvc, healthSvc, zap.NewNop())
	r := chi.NewRouter()
	server.Routes(r)
	return r
}

func encodeTestPrint(t *testing.T, fp fingerprint.Fingerprint) string {
	t.Helper()
	code, err := fingerprint.Encode(fp)
	if err != nil {
		t.Fatalf("encode fingerprint: %v", err)
	}
	return code
}

func testPrint() fingerprint.Fingerprint {
	codes := make([]uint32, 30)
	times := make([]uint32, 30)
	for i := range codes {
		codes[i] = uint32(1000 + i)
		times[i] = uint32(i * 40)
	}
	return fingerprint.Fingerprint{Codes: codes, Times: times}
}

func postJSON(t *testing.T, r chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(buf))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestQuery_BestMatch(t *testing.T) {
	fp := testPrint()
	store := &mockStore{
		candidates: []match.Candidate{
			{ID: "row-1", TrackID: "trk-1", Filename: "song.mp3", Print: fp, Score: 30},
		},
	}
	r := newTestRouter(t, store)

	rr := postJSON(t, r, "/query", queryRequest{Code: encodeTestPrint(t, fp), Version: "4.12"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp queryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != string(match.StatusBestMatch) {
		t.Errorf("expected BEST_MATCH, got %s", resp.Status)
	}
	if resp.BestMatch == nil || resp.BestMatch.TrackID != "trk-1" {
		t.Fatalf("expected best match trk-1, got %+v", resp.BestMatch)
	}
	if resp.BestMatch.Confidence != 100 {
		t.Errorf("expected confidence 100, got %f", resp.BestMatch.Confidence)
	}
	if resp.Matches == nil {
		t.Error("expected matches to be an array, got null")
	}
}

func TestQuery_MissingCode(t *testing.T) {
	r := newTestRouter(t, &mockStore{})

	rr := postJSON(t, r, "/query", queryRequest{Version: "4.12"})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Code != "validation_failed" {
		t.Errorf("expected validation_failed, got %s", resp.Code)
	}
}

func TestQuery_VersionMismatch(t *testing.T) {
	r := newTestRouter(t, &mockStore{})

	rr := postJSON(t, r, "/query", queryRequest{Code: "abc", Version: "3.15"})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestQuery_MalformedCode(t *testing.T) {
	r := newTestRouter(t, &mockStore{})

	rr := postJSON(t, r, "/query", queryRequest{Code: "!!!not-base64!!!", Version: "4.12"})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Code != "decode_failed" {
		t.Errorf("expected decode_failed, got %s", resp.Code)
	}
}

func TestQuery_InvalidBody(t *testing.T) {
	r := newTestRouter(t, &mockStore{})

	req := httptest.NewRequest("POST", "/query", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestQueryBatch_PositionalResults(t *testing.T) {
	fp := testPrint()
	store := &mockStore{
		candidates: []match.Candidate{
			{ID: "row-1", TrackID: "trk-1", Print: fp, Score: 30},
		},
	}
	r := newTestRouter(t, store)

	rr := postJSON(t, r, "/query/batch", []queryRequest{
		{Code: encodeTestPrint(t, fp), Version: "4.12"},
		{Version: "4.12"}, // missing code
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var results []json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &results); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	var ok queryResponse
	if err := json.Unmarshal(results[0], &ok); err != nil {
		t.Fatalf("unmarshal first result: %v", err)
	}
	if ok.Status != string(match.StatusBestMatch) {
		t.Errorf("expected BEST_MATCH in first slot, got %s", ok.Status)
	}

	var failed map[string]errorResponse
	if err := json.Unmarshal(results[1], &failed); err != nil {
		t.Fatalf("unmarshal second result: %v", err)
	}
	if failed["error"].Code != "validation_failed" {
		t.Errorf("expected validation_failed in second slot, got %+v", failed)
	}
}

func TestQueryBatch_Empty(t *testing.T) {
	r := newTestRouter(t, &mockStore{})

	rr := postJSON(t, r, "/query/batch", []queryRequest{})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestIngest_Success(t *testing.T) {
	store := &mockStore{}
	r := newTestRouter(t, store)

	rr := postJSON(t, r, "/ingest", ingestRequest{
		Code:     encodeTestPrint(t, testPrint()),
		Version:  "4.12",
		TrackID:  "trk-9",
		Filename: "song.mp3",
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ingestResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Success || resp.TrackID != "trk-9" {
		t.Errorf("expected success for trk-9, got %+v", resp)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 inserted track, got %d", len(store.inserted))
	}
	if store.inserted[0].ID == "" {
		t.Error("expected generated row id")
	}
}

func TestIngest_Duplicate(t *testing.T) {
	store := &mockStore{insertErr: domain.ErrAlreadyExists}
	r := newTestRouter(t, store)

	rr := postJSON(t, r, "/ingest", ingestRequest{
		Code:    encodeTestPrint(t, testPrint()),
		Version: "4.12",
		TrackID: "trk-9",
	})

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Code != "already_exists" {
		t.Errorf("expected already_exists, got %s", resp.Code)
	}
}

func TestIngest_StorageFailure(t *testing.T) {
	store := &mockStore{insertErr: errors.New("connection reset")}
	r := newTestRouter(t, store)

	rr := postJSON(t, r, "/ingest", ingestRequest{
		Code:    encodeTestPrint(t, testPrint()),
		Version: "4.12",
		TrackID: "trk-9",
	})

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestIngestBatch_MissingTrackID(t *testing.T) {
	r := newTestRouter(t, &mockStore{})

	rr := postJSON(t, r, "/ingest/batch", []ingestRequest{
		{Code: "a", Version: "4.12", TrackID: "trk-1"},
		{Code: "b", Version: "4.12"}, // no track_id
	})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Message != "One or more fingerprints is missing a track_id" {
		t.Errorf("unexpected message %q", resp.Message)
	}
}

func TestIngestBatch_KeyedResults(t *testing.T) {
	store := &mockStore{}
	r := newTestRouter(t, store)
	code := encodeTestPrint(t, testPrint())

	rr := postJSON(t, r, "/ingest/batch", []ingestRequest{
		{Code: code, Version: "4.12", TrackID: "trk-1"},
		{Code: "!!!bad!!!", Version: "4.12", TrackID: "trk-2"},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var results map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &results); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	var ok ingestResponse
	if err := json.Unmarshal(results["trk-1"], &ok); err != nil {
		t.Fatalf("unmarshal trk-1 result: %v", err)
	}
	if !ok.Success {
		t.Error("expected trk-1 to succeed")
	}

	var failed map[string]errorResponse
	if err := json.Unmarshal(results["trk-2"], &failed); err != nil {
		t.Fatalf("unmarshal trk-2 result: %v", err)
	}
	if failed["error"].Code != "decode_failed" {
		t.Errorf("expected decode_failed for trk-2, got %+v", failed)
	}
}

func TestGetTrack_Found(t *testing.T) {
	fp := testPrint()
	store := &mockStore{tracks: map[string]*track.Track{
		"trk-1": {
			ID:         "row-1",
			TrackID:    "trk-1",
			Version:    "4.12",
			Filename:   "song.mp3",
			IngestedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Print:      fp,
		},
	}}
	r := newTestRouter(t, store)

	req := httptest.NewRequest("GET", "/tracks/trk-1", http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp trackResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.TrackID != "trk-1" || resp.NumCodes != fp.Len() {
		t.Errorf("unexpected track response %+v", resp)
	}
}

func TestGetTrack_NotFound(t *testing.T) {
	r := newTestRouter(t, &mockStore{tracks: map[string]*track.Track{}})

	req := httptest.NewRequest("GET", "/tracks/nope", http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestHealth_OK(t *testing.T) {
	r := newTestRouter(t, &mockStore{})

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestHealth_Degraded(t *testing.T) {
	r := newTestRouter(t, &mockStore{pingErr: errors.New("connection refused")})

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

// Package chi exposes the HTTP API: fingerprint queries, track ingest, their
// batch variants, track lookup, health, and metrics.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tuneprint/tuneprint/internal/domain"
	"github.com/tuneprint/tuneprint/internal/domain/match"
	"github.com/tuneprint/tuneprint/internal/domain/track"
	"github.com/tuneprint/tuneprint/internal/metrics"
	healthuc "github.com/tuneprint/tuneprint/internal/usecase/health"
	ingestuc "github.com/tuneprint/tuneprint/internal/usecase/ingest"
	queryuc "github.com/tuneprint/tuneprint/internal/usecase/query"
)

const maxBatchSize = 100

// Server wires the use case services into HTTP handlers.
type Server struct {
	query  *queryuc.Service
	ingest *ingestuc.Service
	health *healthuc.Service
	logger *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(
	query *queryuc.Service,
	ingest *ingestuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	return &Server{query: query, ingest: ingest, health: health, logger: logger}
}

// Routes registers all handlers on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/query", s.Query)
	r.Post("/query/batch", s.QueryBatch)
	r.Post("/ingest", s.Ingest)
	r.Post("/ingest/batch", s.IngestBatch)
	r.Get("/tracks/{trackID}", s.GetTrack)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

type queryRequest struct {
	Code    string `json:"code"`
	Version string `json:"version"`
}

type ingestRequest struct {
	Code     string `json:"code"`
	Version  string `json:"version"`
	TrackID  string `json:"track_id"`
	UPC      string `json:"upc"`
	ISRC     string `json:"isrc"`
	Filename string `json:"filename"`
}

type matchResult struct {
	ID         string    `json:"id"`
	TrackID    string    `json:"track_id"`
	Confidence float64   `json:"confidence"`
	UPC        string    `json:"upc,omitempty"`
	ISRC       string    `json:"isrc,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

type queryResponse struct {
	Status    string        `json:"debug_status"`
	BestMatch *matchResult  `json:"best_match"`
	Matches   []matchResult `json:"matches"`
}

type ingestResponse struct {
	Success bool   `json:"success"`
	TrackID string `json:"track_id"`
}

type trackResponse struct {
	ID         string    `json:"id"`
	TrackID    string    `json:"track_id"`
	Version    string    `json:"version"`
	UPC        string    `json:"upc,omitempty"`
	ISRC       string    `json:"isrc,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
	NumCodes   int       `json:"num_codes"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Query handles POST /query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	start := time.Now()
	outcome, err := s.query.Identify(r.Context(), req.Code, req.Version)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	metrics.QueryOutcomesTotal.WithLabelValues(string(outcome.Status)).Inc()
	metrics.QueryDuration.WithLabelValues(string(outcome.Status)).Observe(time.Since(start).Seconds())
	metrics.QueryCandidatesReturned.Observe(float64(matchCount(outcome)))

	writeJSON(w, http.StatusOK, outcomeToResponse(outcome))
}

// QueryBatch handles POST /query/batch. The response is a positional array:
// element i answers query i, as either a query response or an error object.
// The batch itself always answers 200; failures are per-item.
func (s *Server) QueryBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []queryRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if len(reqs) == 0 || len(reqs) > maxBatchSize {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed",
			"query count must be between 1 and 100")
		return
	}

	items := make([]queryuc.Item, len(reqs))
	for i, req := range reqs {
		items[i] = queryuc.Item{Code: req.Code, Version: req.Version}
	}

	results := s.query.IdentifyAll(r.Context(), items)

	out := make([]any, len(results))
	for i, res := range results {
		if res.Err != nil {
			code, _, msg := classifyDomainError(res.Err)
			if code == "internal_error" {
				s.logger.Error("batch query item failed", zap.Int("index", i), zap.Error(res.Err))
				msg = "internal error"
			}
			out[i] = map[string]errorResponse{"error": {Code: code, Message: msg}}
			continue
		}
		metrics.QueryOutcomesTotal.WithLabelValues(string(res.Outcome.Status)).Inc()
		out[i] = outcomeToResponse(res.Outcome)
	}

	writeJSON(w, http.StatusOK, out)
}

// Ingest handles POST /ingest.
func (s *Server) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	receipt, err := s.ingest.Ingest(r.Context(), submissionFromRequest(req))
	if err != nil {
		metrics.IngestsTotal.WithLabelValues(ingestResultLabel(err)).Inc()
		s.handleDomainError(w, err)
		return
	}

	metrics.IngestsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, ingestResponse{Success: receipt.Success, TrackID: receipt.TrackID})
}

// IngestBatch handles POST /ingest/batch. Results are keyed by track id, so
// every submission must carry one; a single missing track id rejects the whole
// request. Per-item failures otherwise ride inside a 200 response.
func (s *Server) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if len(reqs) == 0 || len(reqs) > maxBatchSize {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed",
			"submission count must be between 1 and 100")
		return
	}
	for _, req := range reqs {
		if req.TrackID == "" {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed",
				"One or more fingerprints is missing a track_id")
			return
		}
	}

	subs := make([]ingestuc.Submission, len(reqs))
	for i, req := range reqs {
		subs[i] = submissionFromRequest(req)
	}

	results := s.ingest.IngestAll(r.Context(), subs)

	out := make(map[string]any, len(results))
	for _, res := range results {
		if res.Err != nil {
			metrics.IngestsTotal.WithLabelValues(ingestResultLabel(res.Err)).Inc()
			code, _, msg := classifyDomainError(res.Err)
			if code == "internal_error" {
				s.logger.Error("batch ingest item failed",
					zap.String("track_id", res.TrackID), zap.Error(res.Err))
				msg = "internal error"
			}
			out[res.TrackID] = map[string]errorResponse{"error": {Code: code, Message: msg}}
			continue
		}
		metrics.IngestsTotal.WithLabelValues("ok").Inc()
		out[res.TrackID] = ingestResponse{Success: true, TrackID: res.TrackID}
	}

	writeJSON(w, http.StatusOK, out)
}

// GetTrack handles GET /tracks/{trackID}.
func (s *Server) GetTrack(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")

	t, err := s.query.Lookup(r.Context(), trackID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trackToResponse(t))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func submissionFromRequest(req ingestRequest) ingestuc.Submission {
	return ingestuc.Submission{
		Code:     req.Code,
		Version:  req.Version,
		TrackID:  req.TrackID,
		UPC:      req.UPC,
		ISRC:     req.ISRC,
		Filename: req.Filename,
	}
}

func matchCount(o match.Outcome) int {
	n := len(o.Matches)
	if o.Best != nil {
		n++
	}
	return n
}

func outcomeToResponse(o match.Outcome) queryResponse {
	resp := queryResponse{
		Status:  string(o.Status),
		Matches: make([]matchResult, len(o.Matches)),
	}
	if o.Best != nil {
		best := candidateToResult(*o.Best)
		resp.BestMatch = &best
	}
	for i, m := range o.Matches {
		resp.Matches[i] = candidateToResult(m)
	}
	return resp
}

func candidateToResult(c match.Candidate) matchResult {
	return matchResult{
		ID:         c.ID,
		TrackID:    c.TrackID,
		Confidence: c.Confidence,
		UPC:        c.UPC,
		ISRC:       c.ISRC,
		Filename:   c.Filename,
		IngestedAt: c.IngestedAt,
	}
}

func trackToResponse(t *track.Track) trackResponse {
	return trackResponse{
		ID:         t.ID,
		TrackID:    t.TrackID,
		Version:    t.Version,
		UPC:        t.UPC,
		ISRC:       t.ISRC,
		Filename:   t.Filename,
		IngestedAt: t.IngestedAt,
		NumCodes:   t.Print.Len(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// classifyDomainError maps a sentinel error to an error code, HTTP status,
// and client-safe message.
func classifyDomainError(err error) (code string, status int, msg string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation_failed", http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrDecode):
		return "decode_failed", http.StatusUnprocessableEntity, domain.ErrDecode.Error()
	case errors.Is(err, domain.ErrEmptyFingerprint):
		return "empty_fingerprint", http.StatusUnprocessableEntity, domain.ErrEmptyFingerprint.Error()
	case errors.Is(err, domain.ErrAlreadyExists):
		return "already_exists", http.StatusConflict, domain.ErrAlreadyExists.Error()
	case errors.Is(err, domain.ErrTrackNotFound):
		return "track_not_found", http.StatusNotFound, domain.ErrTrackNotFound.Error()
	default:
		return "internal_error", http.StatusInternalServerError, "internal error"
	}
}

func ingestResultLabel(err error) string {
	if errors.Is(err, domain.ErrAlreadyExists) {
		return "duplicate"
	}
	return "error"
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	code, status, msg := classifyDomainError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("internal error", zap.Error(err))
	} else {
		s.logger.Warn("domain error", zap.Error(err))
	}
	writeError(w, status, code, msg)
}

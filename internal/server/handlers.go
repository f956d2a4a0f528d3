package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/storage"
	"github.com/xtxerr/metricstore/internal/storage/backpressure"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

const contentTypeProtobuf = "application/x-protobuf"

// routes configures all HTTP routes.
func (s *Server) routes() {
	s.router.Use(s.instrument)

	api := s.router.PathPrefix("/v1").Subrouter()

	// Records
	api.HandleFunc("/buckets/{bucket}/records", s.handleWrite).Methods(http.MethodPost)
	api.HandleFunc("/buckets/{bucket}/records", s.handleRead).Methods(http.MethodGet)

	// Day maintenance
	api.HandleFunc("/buckets/{bucket}/compress", s.handleCompress).Methods(http.MethodPost)
	api.HandleFunc("/buckets/{bucket}/expand", s.handleExpand).Methods(http.MethodPost)
	api.HandleFunc("/buckets/{bucket}/export", s.handleExport).Methods(http.MethodPost)
	api.HandleFunc("/buckets/{bucket}/digest", s.handleDigest).Methods(http.MethodGet)

	// Metadata and stats
	api.HandleFunc("/buckets", s.handleBuckets).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// =============================================================================
// Middleware
// =============================================================================

// statusRecorder captures the response status.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument blocks clients with too many rejected requests, counts
// rejections and records request metrics per route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r.RemoteAddr)
		if s.rejects.IsBlocked(ip) {
			log.Warn("blocked due to too many rejected requests", "remote", r.RemoteAddr)
			respondErrorString(w, http.StatusTooManyRequests, "too many rejected requests")
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status >= 400 && rec.status < 500 {
			s.rejects.RecordFailure(ip)
		}

		if s.metrics != nil {
			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tmpl, err := cur.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			s.metrics.RecordHTTPRequest(r.Method, route, rec.status, time.Since(start))
		}
	})
}

// =============================================================================
// Responses
// =============================================================================

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteResponse reports the outcome of a write request.
type WriteResponse struct {
	Written int    `json:"written"`
	Error   string `json:"error,omitempty"`
}

// RecordResponse is one line of a read response.
type RecordResponse struct {
	Timestamp time.Time    `json:"timestamp"`
	Payload   types.Record `json:"payload"`
}

// ExportResponse reports an export.
type ExportResponse struct {
	Path string `json:"path"`
	Rows int64  `json:"rows"`
}

// DigestResponse reports the digest of a day.
type DigestResponse struct {
	Day    string `json:"day"`
	Digest string `json:"digest"`
}

// StatsResponse combines store and write admission statistics.
type StatsResponse struct {
	Store        storage.StoreStats           `json:"store"`
	Backpressure backpressure.ControllerStats `json:"backpressure"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Running bool   `json:"running"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.Error("request failed", "error", err)
	}
	respondErrorString(w, status, err.Error())
}

func respondErrorString(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.IsValidation(err):
		return http.StatusBadRequest
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// Handlers
// =============================================================================

// handleWrite stores an NDJSON, JSON array or protobuf ListValue body.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bucket"]

	if s.pressure.Check() >= backpressure.LevelCritical {
		s.pressure.RecordRejection()
		if s.metrics != nil {
			s.metrics.HTTPWritesRejected.Inc()
		}
		retry := int(s.pressure.RetryAfter().Round(time.Second) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		respondErrorString(w, http.StatusServiceUnavailable, "write load too high, retry later")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize))
	if err != nil {
		respondError(w, err)
		return
	}
	release := s.inflight.Acquire(int64(len(data)))
	defer release()
	var recs []types.Record
	if isProtobuf(r.Header.Get("Content-Type")) {
		recs, err = decodeProtoRecords(data)
	} else {
		recs, err = decodeRecords(data)
	}
	if err != nil {
		respondError(w, err)
		return
	}

	n, err := s.store.WriteBatch(name, recs)
	if s.metrics != nil && n > 0 {
		s.metrics.HTTPRecordsWritten.WithLabelValues(name).Add(float64(n))
	}
	if err != nil {
		respondJSON(w, statusFor(err), WriteResponse{Written: n, Error: err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, WriteResponse{Written: n})
}

// decodeRecords parses a JSON array of records or one record per line.
func decodeRecords(data []byte) ([]types.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.NewInvalidRecord("empty body")
	}

	if data[0] == '[' {
		recs, err := types.DecodeRecords(data)
		if err != nil {
			return nil, errors.NewInvalidRecord("decode body: " + err.Error())
		}
		return recs, nil
	}

	var recs []types.Record
	for i, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		rec, err := types.DecodeRecord(line)
		if err != nil {
			return nil, errors.NewInvalidRecord(fmt.Sprintf("decode line %d: %v", i+1, err))
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func isProtobuf(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mediaType) == contentTypeProtobuf
}

// decodeProtoRecords parses a google.protobuf.ListValue whose elements are
// Structs, one per record.
func decodeProtoRecords(data []byte) ([]types.Record, error) {
	var list structpb.ListValue
	if err := proto.Unmarshal(data, &list); err != nil {
		return nil, errors.NewInvalidRecord("decode body: " + err.Error())
	}
	if len(list.Values) == 0 {
		return nil, errors.NewInvalidRecord("empty body")
	}

	recs := make([]types.Record, 0, len(list.Values))
	for i, v := range list.Values {
		st := v.GetStructValue()
		if st == nil {
			return nil, errors.NewInvalidRecord(fmt.Sprintf("element %d is not a struct", i))
		}
		recs = append(recs, st.AsMap())
	}
	return recs, nil
}

// handleRead streams the records in [from, to) as NDJSON.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bucket"]

	b, err := s.store.Bucket(name)
	if err != nil {
		respondError(w, err)
		return
	}
	loc := b.Data().Loc()

	from, err := types.ParseTime("from", r.URL.Query().Get("from"), loc)
	if err != nil {
		respondError(w, err)
		return
	}
	to, err := types.ParseTime("to", r.URL.Query().Get("to"), loc)
	if err != nil {
		respondError(w, err)
		return
	}
	if !from.Before(to) {
		respondError(w, errors.NewValidation("range", "from must be before to"))
		return
	}

	// Headers go out with the first record, so an error before that can
	// still become a proper status.
	var enc *json.Encoder
	err = s.store.Read(name, from, to, func(m types.StoredMetric) error {
		if enc == nil {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			enc = json.NewEncoder(w)
		}
		return enc.Encode(RecordResponse{Timestamp: m.Timestamp, Payload: m.Payload})
	})
	switch {
	case err != nil && enc == nil:
		respondError(w, err)
	case err != nil:
		log.Warn("read aborted", "bucket", name, "error", err)
	case enc == nil:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}

// handleCompress compresses one day, or every day before a cutoff.
func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bucket"]

	if v := r.URL.Query().Get("before"); v != "" {
		cutoff, err := s.parseBucketDay(name, v, "before")
		if err != nil {
			respondError(w, err)
			return
		}
		if err := s.store.CompressBefore(name, cutoff); err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	day, err := s.parseBucketDay(name, r.URL.Query().Get("day"), "day")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.store.Compress(name, day); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExpand expands one day.
func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bucket"]

	day, err := s.parseBucketDay(name, r.URL.Query().Get("day"), "day")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.store.Expand(name, day); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExport writes one day to a parquet file.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bucket"]

	day, err := s.parseBucketDay(name, r.URL.Query().Get("day"), "day")
	if err != nil {
		respondError(w, err)
		return
	}
	path, rows, err := s.store.Export(r.Context(), name, day)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ExportResponse{Path: path, Rows: rows})
}

// handleDigest returns the content digest of one day.
func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bucket"]

	v := r.URL.Query().Get("day")
	day, err := s.parseBucketDay(name, v, "day")
	if err != nil {
		respondError(w, err)
		return
	}
	sum, err := s.store.Digest(name, day)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DigestResponse{Day: v, Digest: strconv.FormatUint(sum, 16)})
}

func (s *Server) handleBuckets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.store.BucketNames())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatsResponse{
		Store:        s.store.Stats(),
		Backpressure: s.pressure.Stats(),
	})
}

// handleHealth returns service health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Running: s.store.IsRunning(),
	})
}

// =============================================================================
// Parameters
// =============================================================================

// parseBucketDay parses a YYYY-MM-DD day in the bucket's location.
func (s *Server) parseBucketDay(name, v, field string) (time.Time, error) {
	b, err := s.store.Bucket(name)
	if err != nil {
		return time.Time{}, err
	}
	return types.ParseDay(field, v, b.Data().Loc())
}

// Package api exposes batch creation and cleanup over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/planesync/planesync/pkg/engine"
	"github.com/planesync/planesync/pkg/stores"
	"github.com/planesync/planesync/pkg/telemetry"
	"github.com/planesync/planesync/pkg/template"
)

const (
	defaultMaxBodyBytes = 1 << 20
	defaultListLimit    = 50
	maxListLimit        = 500
)

// Runner executes batches. *engine.Executor implements it.
type Runner interface {
	RunCreation(ctx context.Context, tpl *template.BatchTemplate) (*stores.SyncBatch, error)
	RunCleanup(ctx context.Context, batchID string, opts ...engine.CleanupOption) (*stores.SyncBatch, error)
}

// Reader is the read side of the ledger used by the inspection routes.
type Reader interface {
	GetBatch(ctx context.Context, id string) (*stores.SyncBatch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*stores.SyncBatch, error)
	ListResources(ctx context.Context, batchID string, order stores.Order) ([]*stores.CreatedResource, error)
	GetEvents(ctx context.Context, filter stores.EventFilter) ([]*stores.Event, error)
	HealthCheck(ctx context.Context) error
}

// TemplateParser turns a request body into a validated template.
type TemplateParser interface {
	Parse(ctx context.Context, source string, content []byte, format template.Format) (*template.BatchTemplate, error)
}

// ServerConfig holds the server's collaborators.
type ServerConfig struct {
	Runner    Runner
	Store     Reader
	Templates TemplateParser
	Telemetry *telemetry.Telemetry

	// MaxBodyBytes caps template uploads. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Server handles the planesync HTTP API.
type Server struct {
	runner     Runner
	store      Reader
	templates  TemplateParser
	tel        *telemetry.Telemetry
	maxBody    int64
	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer creates a server with all routes registered.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		runner:    cfg.Runner,
		store:     cfg.Store,
		templates: cfg.Templates,
		tel:       cfg.Telemetry,
		maxBody:   cfg.MaxBodyBytes,
		mux:       http.NewServeMux(),
	}
	if s.tel == nil {
		s.tel = telemetry.Nop()
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}

	s.mux.HandleFunc("POST /api/v1/batches", s.handleCreateBatch)
	s.mux.HandleFunc("GET /api/v1/batches", s.handleListBatches)
	s.mux.HandleFunc("GET /api/v1/batches/{id}", s.handleGetBatch)
	s.mux.HandleFunc("GET /api/v1/batches/{id}/resources", s.handleListResources)
	s.mux.HandleFunc("GET /api/v1/batches/{id}/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/v1/batches/{id}/cleanup", s.handleCleanup)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.tel.Metrics.Handler())

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Creation runs synchronously and may take minutes for large batches.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler with request logging applied.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// Start listens on addr until Shutdown is called. Start after Shutdown
// returns nil without serving.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for running batches.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string                   `json:"error"`
	Batch      *stores.SyncBatch        `json:"batch,omitempty"`
	Problems   []template.Problem       `json:"problems,omitempty"`
	Violations []engine.PolicyViolation `json:"violations,omitempty"`
}

// BatchDetail is a batch with its remaining ledger rows.
type BatchDetail struct {
	Batch     *stores.SyncBatch         `json:"batch"`
	Resources []*stores.CreatedResource `json:"resources"`
}

// handleCreateBatch handles POST /api/v1/batches. The body is a template in
// YAML (default), JSON, CUE or Starlark, chosen by ?format= or Content-Type.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	format, err := requestFormat(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "template too large"})
			return
		}
		s.writeError(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}

	tpl, err := s.templates.Parse(ctx, "request", body, format)
	if err != nil {
		resp := ErrorResponse{Error: err.Error()}
		var verr *template.ValidationError
		if errors.As(err, &verr) {
			resp.Problems = verr.Problems
		}
		s.writeError(w, http.StatusBadRequest, resp)
		return
	}

	batch, err := s.runner.RunCreation(ctx, tpl)
	if err != nil {
		resp := ErrorResponse{Error: err.Error(), Batch: batch}
		var pe *engine.PolicyError
		switch {
		case errors.As(err, &pe):
			resp.Violations = pe.Violations
			s.writeError(w, http.StatusUnprocessableEntity, resp)
		case errors.Is(err, engine.ErrNoWorkspace):
			s.writeError(w, http.StatusBadRequest, resp)
		case batch != nil:
			// The batch ran and failed remotely; its ID is needed for cleanup.
			s.writeError(w, http.StatusBadGateway, resp)
		default:
			s.writeError(w, http.StatusInternalServerError, resp)
		}
		return
	}

	w.Header().Set("Location", "/api/v1/batches/"+batch.ID)
	s.writeJSON(w, http.StatusCreated, batch)
}

// requestFormat picks the template format for a creation request.
func requestFormat(r *http.Request) (template.Format, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		return template.ParseFormat(f)
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return template.FormatYAML, nil
	}
	switch mediaType {
	case "application/json":
		return template.FormatJSON, nil
	case "application/cue", "text/x-cue":
		return template.FormatCUE, nil
	case "text/x-starlark", "text/x-python":
		return template.FormatStarlark, nil
	default:
		return template.FormatYAML, nil
	}
}

// handleListBatches handles GET /api/v1/batches?limit=&offset=.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit < 1 || limit > maxListLimit {
		s.writeError(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("limit must be between 1 and %d", maxListLimit)})
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, ErrorResponse{Error: "offset must be a non-negative integer"})
		return
	}

	batches, err := s.store.ListBatches(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if batches == nil {
		batches = []*stores.SyncBatch{}
	}
	s.writeJSON(w, http.StatusOK, batches)
}

// handleGetBatch handles GET /api/v1/batches/{id}.
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}
	rows, err := s.store.ListResources(r.Context(), batch.ID, stores.OrderCreation)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if rows == nil {
		rows = []*stores.CreatedResource{}
	}
	s.writeJSON(w, http.StatusOK, BatchDetail{Batch: batch, Resources: rows})
}

// handleListResources handles GET /api/v1/batches/{id}/resources. Pass
// ?order=reverse for cleanup order.
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}
	order := stores.OrderCreation
	if r.URL.Query().Get("order") == "reverse" {
		order = stores.OrderReverse
	}
	rows, err := s.store.ListResources(r.Context(), batch.ID, order)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if rows == nil {
		rows = []*stores.CreatedResource{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// handleListEvents handles GET /api/v1/batches/{id}/events.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}
	events, err := s.store.GetEvents(r.Context(), stores.EventFilter{BatchID: &batch.ID})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if events == nil {
		events = []*stores.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

// handleCleanup handles POST /api/v1/batches/{id}/cleanup?force=true.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var opts []engine.CleanupOption
	if force, _ := strconv.ParseBool(r.URL.Query().Get("force")); force {
		opts = append(opts, engine.WithForce())
	}

	batch, err := s.runner.RunCleanup(r.Context(), id, opts...)
	switch {
	case errors.Is(err, engine.ErrBatchNotFound):
		s.writeError(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrBatchRunning):
		s.writeError(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Batch: batch})
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Batch: batch})
	default:
		s.writeJSON(w, http.StatusOK, batch)
	}
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// lookupBatch loads the {id} batch, writing 404 when it does not exist.
func (s *Server) lookupBatch(w http.ResponseWriter, r *http.Request) (*stores.SyncBatch, bool) {
	id := r.PathValue("id")
	batch, err := s.store.GetBatch(r.Context(), id)
	if errors.Is(err, stores.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("batch %s not found", id)})
		return nil, false
	}
	if err != nil {
		s.internalError(w, r, err)
		return nil, false
	}
	return batch, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	telemetry.FromContext(r.Context()).WithError(err).Error("request failed")
	s.writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func (s *Server) writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.tel.Logger.WithError(err).Warn("failed to write response")
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests tags each request with an ID, puts a request logger in its
// context and logs the outcome.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		logger := s.tel.Logger.WithField("request_id", requestID)
		ctx := logger.WithContext(r.Context())

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("request handled")
	})
}

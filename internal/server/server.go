// Package server exposes the sync engine over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jkoenig/syncwell/internal/db"
	"github.com/jkoenig/syncwell/internal/metrics"
	"github.com/jkoenig/syncwell/internal/models"
	"github.com/jkoenig/syncwell/internal/service"
)

const shutdownTimeout = 10 * time.Second

// Server hosts the orchestrator, runner, and query surfaces.
type Server struct {
	orch      *service.Orchestrator
	runner    *service.Runner
	status    *service.StatusService
	accounts  *service.AccountService
	collector *metrics.Collector
	logger    *slog.Logger
	http      *http.Server
}

// New creates the HTTP server on the given port.
func New(port int, orch *service.Orchestrator, runner *service.Runner, status *service.StatusService, accounts *service.AccountService, collector *metrics.Collector, logger *slog.Logger) *Server {
	s := &Server{
		orch:      orch,
		runner:    runner,
		status:    status,
		accounts:  accounts,
		collector: collector,
		logger:    logger,
	}
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: LoggingMiddleware(logger)(s.Routes()),
	}
	return s
}

// Routes builds the API handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sync", s.handleStartSync)
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/batches", s.handleListBatches)
	mux.HandleFunc("GET /api/batches/{id}", s.handleGetBatch)
	mux.HandleFunc("GET /api/batches/{id}/errors", s.handleBatchErrors)
	mux.HandleFunc("POST /api/batches/{id}/retry", s.handleRetry)
	mux.HandleFunc("GET /api/connections", s.handleListConnections)
	mux.HandleFunc("POST /api/connections", s.handleUpsertConnection)
	mux.HandleFunc("GET /api/preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /api/preferences", s.handlePutPreferences)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

type startSyncRequest struct {
	UserID   string          `json:"user_id"`
	Provider models.Provider `json:"provider"`
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	var req startSyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	batch, err := s.orch.StartSync(r.Context(), req.UserID, req.Provider)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"batch_id": models.MustRecordIDString(batch.ID),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ran, err := s.runner.RunPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": ran})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, errBadRequest("user query parameter required"))
		return
	}

	view, err := s.status.GetStatus(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, errBadRequest("user query parameter required"))
		return
	}

	var prov *models.Provider
	if p := models.Provider(r.URL.Query().Get("provider")); p != "" {
		if !p.Valid() {
			writeError(w, fmt.Errorf("%w: %s", service.ErrInvalidProvider, p))
			return
		}
		prov = &p
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	views, err := s.status.ListBatches(r.Context(), userID, prov, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.status.GetBatchStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type errorSummaryResponse struct {
	BatchID string                    `json:"batch_id"`
	State   models.BatchState         `json:"state"`
	Count   int                       `json:"count"`
	Reasons map[models.ReasonCode]int `json:"reasons"`
}

func (s *Server) handleBatchErrors(w http.ResponseWriter, r *http.Request) {
	summary, state, err := s.orch.GetErrorSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errorSummaryResponse{
		BatchID: summary.BatchID,
		State:   state,
		Count:   summary.Count,
		Reasons: summary.Reasons,
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	batch, err := s.orch.RetryFailed(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"batch_id":   models.MustRecordIDString(batch.ID),
		"from":       batch.FromKind,
		"item_count": len(batch.ItemScope),
	})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, errBadRequest("user query parameter required"))
		return
	}

	conns, err := s.accounts.ListConnections(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

type connectionRequest struct {
	UserID    string          `json:"user_id"`
	Provider  models.Provider `json:"provider"`
	Scopes    []string        `json:"scopes"`
	Connected *bool           `json:"connected,omitempty"`
}

func (s *Server) handleUpsertConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var err error
	if req.Connected != nil && !*req.Connected {
		err = s.accounts.Disconnect(r.Context(), req.UserID, req.Provider)
	} else {
		err = s.accounts.Connect(r.Context(), req.UserID, req.Provider, req.Scopes)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	prov := models.Provider(r.URL.Query().Get("provider"))
	if userID == "" {
		writeError(w, errBadRequest("user query parameter required"))
		return
	}

	prefs, err := s.accounts.GetPreferences(r.Context(), userID, prov)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs models.Preferences
	if err := decodeJSON(r, &prefs); err != nil {
		writeError(w, err)
		return
	}

	if err := s.accounts.UpdatePreferences(r.Context(), prefs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type badRequestError string

func (e badRequestError) Error() string { return string(e) }

func errBadRequest(msg string) error { return badRequestError(msg) }

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var badReq badRequestError

	switch {
	case errors.Is(err, service.ErrAlreadySyncing),
		errors.Is(err, service.ErrPreferencesLocked),
		errors.Is(err, service.ErrBatchActive):
		status = http.StatusConflict
	case errors.Is(err, service.ErrNotConnected):
		status = http.StatusPreconditionFailed
	case errors.Is(err, service.ErrInvalidProvider),
		errors.Is(err, service.ErrNothingToRetry),
		errors.As(err, &badReq):
		status = http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

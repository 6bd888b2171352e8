// File: internal/infra/web/server.go
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/usecase"
)

// Server is the read-only operational surface: health, metrics, run
// snapshots, and dead-letter inspection/replay. It deliberately exposes no
// submission endpoints.
type Server struct {
	progressUC usecase.ProgressUseCase
	replayUC   usecase.ReplayUseCase
	srv        *http.Server
	log        *zerolog.Logger
}

func NewServer(port int, progressUC usecase.ProgressUseCase, replayUC usecase.ReplayUseCase, logger *zerolog.Logger) *Server {
	webLog := logger.With().Str("component", "OpsServer").Logger()
	s := &Server{
		progressUC: progressUC,
		replayUC:   replayUC,
		log:        &webLog,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/runs/{runID}", s.handleRunSnapshot)
	r.Post("/runs/{runID}/reconcile", s.handleRunReconcile)
	r.Get("/deadletters", s.handleDeadLetters)
	r.Post("/deadletters/{taskID}/replay", s.handleReplay)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("ops server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleRunSnapshot(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	rep, err := s.progressUC.Snapshot(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRunReconcile(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	rep, err := s.progressUC.Reconcile(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	recs, err := s.replayUC.ListUnresolved(r.Context(), 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	type row struct {
		TaskID     string    `json:"task_id"`
		Kind       string    `json:"kind"`
		Queue      string    `json:"queue"`
		LastError  string    `json:"last_error"`
		RetryCount int       `json:"retry_count"`
		CreatedAt  time.Time `json:"created_at"`
	}
	out := make([]row, 0, len(recs))
	for _, rec := range recs {
		out = append(out, row{
			TaskID:     rec.TaskID,
			Kind:       string(rec.Kind),
			Queue:      rec.Queue,
			LastError:  rec.LastError,
			RetryCount: rec.RetryCount,
			CreatedAt:  rec.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.replayUC.ReplayOne(r.Context(), taskID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "replayed"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrRunNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrAlreadyCompleted):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error().Err(err).Msg("ops request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

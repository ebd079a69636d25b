package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/store"
)

type runResponse struct {
	ID               string     `json:"id"`
	Query            string     `json:"query"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Status           string     `json:"status"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	LastOffset       int64      `json:"last_offset"`
	RecordsProcessed int64      `json:"records_processed"`
	ProtocolsFound   int64      `json:"protocols_found"`
	LastUpdate       time.Time  `json:"last_update"`
}

func toRunResponse(run store.Run) runResponse {
	return runResponse{
		ID:               run.ID.String(),
		Query:            run.Query,
		StartedAt:        run.StartedAt,
		FinishedAt:       run.FinishedAt,
		Status:           string(run.Status),
		ErrorMessage:     run.ErrorMessage,
		LastOffset:       run.LastOffset,
		RecordsProcessed: run.RecordsProcessed,
		ProtocolsFound:   run.ProtocolsFound,
		LastUpdate:       run.LastUpdate,
	}
}

// currentRun reports the in-process run's live snapshot.
func (s *Server) currentRun(w http.ResponseWriter, _ *http.Request) {
	if s.snapshot == nil {
		s.writeError(w, http.StatusNotFound, "no active run")
		return
	}
	snap := s.snapshot()
	if snap.RunID == "" {
		s.writeError(w, http.StatusNotFound, "no active run")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err), zap.Stringer("run_id", runID))
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	s.writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	status, err := parseStatus(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := parseIntOrDefault(r.URL.Query().Get("limit"), 50)
	offset := parseIntOrDefault(r.URL.Query().Get("offset"), 0)

	runs, err := s.runs.ListRuns(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func parseStatus(raw string) (*store.RunStatus, error) {
	if raw == "" {
		return nil, nil
	}
	switch status := store.RunStatus(raw); status {
	case store.RunRunning, store.RunSuccess, store.RunError:
		return &status, nil
	default:
		return nil, errors.New("status must be running, success, or error")
	}
}

func parseIntOrDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/zeusync/atar/internal/core/arcore"
	"github.com/zeusync/atar/internal/core/events/bus"
	"github.com/zeusync/atar/internal/core/input"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/task"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.core.State())
}

// BusStatus is the body of GET /bus. Metrics stay zero while nothing observes the bus.
type BusStatus struct {
	Metrics bus.EventBusMetrics `json:"metrics"`
	Topics  []bus.TopicInfo     `json:"topics"`
}

func (s *Server) handleBus(w http.ResponseWriter, _ *http.Request) {
	topics := s.bus.GetTopics()
	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })
	s.writeJSON(w, http.StatusOK, BusStatus{Metrics: s.bus.GetMetrics(), Topics: topics})
}

// handleControl serves POST /control/{command}. The body is optional and carries
// the remaining fields of the control event; the command comes from the path.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	cmd, err := arcore.ParseCommand(chi.URLParam(r, "command"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	var ctl arcore.Control
	if err := json.NewDecoder(r.Body).Decode(&ctl); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	ctl.Command = cmd

	if err := s.core.HandleControl(r.Context(), ctl); err != nil {
		s.writeJSON(w, controlStatus(err), errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func controlStatus(err error) int {
	switch {
	case errors.Is(err, task.ErrUnknownTask), errors.Is(err, input.ErrInvalidTool), errors.Is(err, arcore.ErrInvalidControl):
		return http.StatusBadRequest
	case errors.Is(err, arcore.ErrNotRunning), errors.Is(err, arcore.ErrClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Response encode failed", log.Error(err))
	}
}

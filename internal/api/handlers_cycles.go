package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/jordanhubbard/venture/internal/orchestrator"
	"github.com/jordanhubbard/venture/pkg/models"
)

// StartCycleRequest is the request body for manually starting a cycle. The
// strategy, when present, bypasses the decision engine for this one run.
type StartCycleRequest struct {
	Strategy *models.Strategy `json:"strategy,omitempty"`
}

// handleTenantCycle handles POST (start) and DELETE (cancel)
// /api/v1/tenants/{id}/cycle
func (s *Server) handleTenantCycle(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPost:
		s.handleStartCycle(w, r, id)

	case http.MethodDelete:
		if !s.app.GetScheduler().CancelCycle(id) {
			s.respondError(w, http.StatusNotFound, "no running cycle")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"id":        id,
			"cancelled": true,
		})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleStartCycle(w http.ResponseWriter, r *http.Request, id string) {
	var req StartCycleRequest
	if r.ContentLength > 0 {
		if err := s.parseJSON(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if req.Strategy != nil {
		if req.Strategy.Name == "" {
			s.respondError(w, http.StatusBadRequest, "override strategy needs a name")
			return
		}
		if req.Strategy.Kind != "" && !req.Strategy.Kind.Valid() {
			s.respondError(w, http.StatusBadRequest, "unknown strategy kind: "+string(req.Strategy.Kind))
			return
		}
	}

	// The cycle runs on a background context: a dropped admin connection
	// must not cancel half-deployed work. The cycle deadline still bounds it.
	rec, err := s.app.GetScheduler().TriggerCycle(context.Background(), id, req.Strategy)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrCycleRunning):
			s.respondError(w, http.StatusConflict, "cycle already running")
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusOK, rec)
}

// handleTenantCycles handles GET /api/v1/tenants/{id}/cycles[/latest|/{cycleID}]
func (s *Server) handleTenantCycles(w http.ResponseWriter, r *http.Request, id, sub string) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	switch sub {
	case "":
		limit := queryInt(r, "limit", 20)
		cycles, err := s.app.GetDatabase().ListCycles(id, limit)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, cycles)

	case "latest":
		latest, err := s.app.GetDatabase().LatestCycle(id)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if latest == nil {
			s.respondError(w, http.StatusNotFound, "no cycles yet")
			return
		}
		s.respondJSON(w, http.StatusOK, latest)

	default:
		cycle, err := s.app.GetDatabase().GetCycle(sub)
		if err != nil || cycle == nil || cycle.TenantID != id {
			s.respondError(w, http.StatusNotFound, "Cycle not found")
			return
		}
		s.respondJSON(w, http.StatusOK, cycle)
	}
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

package api

import (
	"net/http"

	"github.com/jordanhubbard/venture/internal/eventbus"
	"github.com/jordanhubbard/venture/pkg/models"
)

// ScopeKeyRequest is the request body addressing one strategy cache entry
type ScopeKeyRequest struct {
	TenantID string              `json:"tenant_id,omitempty"`
	Niche    string              `json:"niche"`
	Channel  models.Channel      `json:"channel"`
	Kind     models.StrategyKind `json:"kind"`
	Global   bool                `json:"global,omitempty"`
}

func (req ScopeKeyRequest) key() models.ScopeKey {
	return models.ScopeKey{
		TenantID: req.TenantID,
		Niche:    req.Niche,
		Channel:  req.Channel,
		Kind:     req.Kind,
		Global:   req.Global,
	}
}

func (s *Server) parseScopeKey(w http.ResponseWriter, r *http.Request) (models.ScopeKey, bool) {
	var req ScopeKeyRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return models.ScopeKey{}, false
	}
	if req.Niche == "" || req.Channel == "" || req.Kind == "" {
		s.respondError(w, http.StatusBadRequest, "niche, channel, and kind are required")
		return models.ScopeKey{}, false
	}
	if !req.Kind.Valid() {
		s.respondError(w, http.StatusBadRequest, "unknown strategy kind: "+string(req.Kind))
		return models.ScopeKey{}, false
	}
	if !req.Global && req.TenantID == "" {
		s.respondError(w, http.StatusBadRequest, "tenant_id is required for non-global keys")
		return models.ScopeKey{}, false
	}
	return req.key(), true
}

// handleTenantStrategies handles GET /api/v1/tenants/{id}/strategies
func (s *Server) handleTenantStrategies(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if _, err := s.app.GetDatabase().GetTenant(id); err != nil {
		s.respondError(w, http.StatusNotFound, "Tenant not found")
		return
	}

	entries, err := s.app.GetCache().List(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, entries)
}

// handleStrategies handles GET /api/v1/strategies?tenant_id=xxx
func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Empty tenant_id lists the global-scope entries only.
	entries, err := s.app.GetCache().List(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, entries)
}

// handleStrategyRebuild handles POST /api/v1/strategies/rebuild. The entry
// is replayed from the experience ledger, replacing whatever the index held.
func (s *Server) handleStrategyRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	key, ok := s.parseScopeKey(w, r)
	if !ok {
		return
	}

	entry, err := s.app.GetCache().RebuildEntry(r.Context(), key)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.app.GetEventBus().Publish(&eventbus.Event{
		Type:     eventbus.EventTypeStrategyRebuilt,
		Source:   "api",
		TenantID: key.TenantID,
		Data:     map[string]interface{}{"key": key.String()},
	})

	s.respondJSON(w, http.StatusOK, entry)
}

// handleStrategyEvict handles POST /api/v1/strategies/evict. Eviction is
// logical; the ledger keeps every experience behind the entry.
func (s *Server) handleStrategyEvict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	key, ok := s.parseScopeKey(w, r)
	if !ok {
		return
	}

	if err := s.app.GetCache().Evict(r.Context(), key); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.app.GetEventBus().Publish(&eventbus.Event{
		Type:     eventbus.EventTypeStrategyEvicted,
		Source:   "api",
		TenantID: key.TenantID,
		Data:     map[string]interface{}{"key": key.String()},
	})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"key":     key.String(),
		"evicted": true,
	})
}

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/venture/internal/auth"
	"github.com/jordanhubbard/venture/internal/eventbus"
	"github.com/jordanhubbard/venture/pkg/models"
)

// CreateTenantRequest is the request body for creating a tenant
type CreateTenantRequest struct {
	ID       string               `json:"id,omitempty"`
	Name     string               `json:"name"`
	Niche    string               `json:"niche"`
	Keywords []string             `json:"keywords,omitempty"`
	Persona  models.Persona       `json:"persona,omitempty"`
	Plan     models.Plan          `json:"plan,omitempty"`
	Policy   *models.TenantPolicy `json:"policy,omitempty"`
}

// UpdateTenantRequest is the request body for updating a tenant. Pointer
// fields distinguish "leave unchanged" from explicit zero values.
type UpdateTenantRequest struct {
	Name      *string              `json:"name,omitempty"`
	Niche     *string              `json:"niche,omitempty"`
	Keywords  []string             `json:"keywords,omitempty"`
	Persona   *models.Persona      `json:"persona,omitempty"`
	Plan      *models.Plan         `json:"plan,omitempty"`
	Status    *models.TenantStatus `json:"status,omitempty"`
	Autopilot *bool                `json:"autopilot,omitempty"`
	Policy    *models.TenantPolicy `json:"policy,omitempty"`
}

// handleTenants handles GET (list) and POST (create) /api/v1/tenants
func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tenants, err := s.app.GetDatabase().ListTenants()
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// Tenant-scoped accounts only see their own tenants.
		if claims := auth.ClaimsFromContext(r.Context()); claims != nil && len(claims.TenantIDs) > 0 {
			visible := make([]*models.Tenant, 0, len(tenants))
			for _, tn := range tenants {
				if claims.CanAccessTenant(tn.ID) {
					visible = append(visible, tn)
				}
			}
			tenants = visible
		}
		s.respondJSON(w, http.StatusOK, tenants)

	case http.MethodPost:
		s.handleCreateTenant(w, r)

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Niche) == "" {
		s.respondError(w, http.StatusBadRequest, "name and niche are required")
		return
	}
	if req.Persona == "" {
		req.Persona = models.PersonaCoach
	}
	if !req.Persona.Valid() {
		s.respondError(w, http.StatusBadRequest, "unknown persona: "+string(req.Persona))
		return
	}
	if req.Plan == "" {
		req.Plan = models.PlanStarter
	}
	if !req.Plan.Valid() {
		s.respondError(w, http.StatusBadRequest, "unknown plan: "+string(req.Plan))
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	if existing, err := s.app.GetDatabase().GetTenant(id); err == nil && existing != nil {
		s.respondError(w, http.StatusConflict, "tenant already exists: "+id)
		return
	}

	tenant := &models.Tenant{
		ID:               id,
		Name:             req.Name,
		Niche:            req.Niche,
		Keywords:         req.Keywords,
		Persona:          req.Persona,
		Plan:             req.Plan,
		Status:           models.TenantStatusActive,
		AutopilotEnabled: false,
		Policy:           s.defaultPolicy(req.Policy),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := s.app.GetDatabase().SaveTenant(tenant); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.app.GetEventBus().Publish(&eventbus.Event{
		Type:     eventbus.EventTypeTenantCreated,
		Source:   "api",
		TenantID: tenant.ID,
		Data:     map[string]interface{}{"name": tenant.Name, "niche": tenant.Niche},
	})

	s.respondJSON(w, http.StatusCreated, tenant)
}

// defaultPolicy fills an absent or partial policy from the configured
// reinvestment defaults. Normalize still backstops anything left at zero.
func (s *Server) defaultPolicy(p *models.TenantPolicy) models.TenantPolicy {
	policy := models.TenantPolicy{}
	if p != nil {
		policy = *p
	}
	if policy.ReinvestThreshold <= 0 {
		policy.ReinvestThreshold = s.config.Reinvest.DefaultThreshold
	}
	if policy.ReinvestRate <= 0 {
		policy.ReinvestRate = s.config.Reinvest.DefaultRate
	}
	if policy.MaxTestBudget <= 0 {
		policy.MaxTestBudget = s.config.Reinvest.MaxTestBudget
	}
	if policy.WindowDays <= 0 {
		policy.WindowDays = s.config.Reinvest.WindowDays
	}
	return policy.Normalize()
}

// handleTenant routes /api/v1/tenants/{id} and its subresources
func (s *Server) handleTenant(w http.ResponseWriter, r *http.Request) {
	id, action, sub := splitTenantPath(r.URL.Path)
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "tenant id is required")
		return
	}

	// Tenant-scoped accounts are confined here, before any subresource runs.
	// Requests without claims (auth disabled) pass through.
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil && !claims.CanAccessTenant(id) {
		s.respondError(w, http.StatusForbidden, "Tenant access denied")
		return
	}

	switch action {
	case "":
		s.handleTenantItem(w, r, id)
	case "status":
		s.handleTenantStatus(w, r, id)
	case "autopilot":
		s.handleTenantAutopilot(w, r, id)
	case "policy":
		s.handleTenantPolicy(w, r, id)
	case "cycle":
		s.handleTenantCycle(w, r, id)
	case "cycles":
		s.handleTenantCycles(w, r, id, sub)
	case "kpis":
		s.handleTenantKPIs(w, r, id)
	case "strategies":
		s.handleTenantStrategies(w, r, id)
	case "events":
		s.handleTenantEvents(w, r, id)
	case "directives":
		s.handleTenantDirectives(w, r, id)
	case "profit":
		s.handleTenantProfit(w, r, id)
	default:
		s.respondError(w, http.StatusNotFound, "Unknown action")
	}
}

// handleTenantItem handles GET/PUT/DELETE /api/v1/tenants/{id}
func (s *Server) handleTenantItem(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		tenant, err := s.app.GetDatabase().GetTenant(id)
		if err != nil {
			s.respondError(w, http.StatusNotFound, "Tenant not found")
			return
		}
		s.respondJSON(w, http.StatusOK, tenant)

	case http.MethodPut, http.MethodPatch:
		s.handleUpdateTenant(w, r, id)

	case http.MethodDelete:
		// Archive, never hard-delete: the ledger and cycle history stay.
		tenant, err := s.app.GetDatabase().GetTenant(id)
		if err != nil {
			s.respondError(w, http.StatusNotFound, "Tenant not found")
			return
		}
		tenant.Status = models.TenantStatusArchived
		tenant.AutopilotEnabled = false
		tenant.UpdatedAt = time.Now()
		if err := s.app.GetDatabase().SaveTenant(tenant); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.app.GetScheduler().Unwatch(id)
		s.publishTenantUpdated(tenant)
		s.respondJSON(w, http.StatusOK, tenant)

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleUpdateTenant(w http.ResponseWriter, r *http.Request, id string) {
	tenant, err := s.app.GetDatabase().GetTenant(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Tenant not found")
		return
	}

	var req UpdateTenantRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.Niche != nil {
		tenant.Niche = *req.Niche
	}
	if req.Keywords != nil {
		tenant.Keywords = req.Keywords
	}
	if req.Persona != nil {
		if !req.Persona.Valid() {
			s.respondError(w, http.StatusBadRequest, "unknown persona: "+string(*req.Persona))
			return
		}
		tenant.Persona = *req.Persona
	}
	if req.Plan != nil {
		if !req.Plan.Valid() {
			s.respondError(w, http.StatusBadRequest, "unknown plan: "+string(*req.Plan))
			return
		}
		tenant.Plan = *req.Plan
	}
	if req.Status != nil {
		switch *req.Status {
		case models.TenantStatusActive, models.TenantStatusPaused, models.TenantStatusArchived:
			tenant.Status = *req.Status
		default:
			s.respondError(w, http.StatusBadRequest, "unknown status: "+string(*req.Status))
			return
		}
	}
	if req.Autopilot != nil {
		tenant.AutopilotEnabled = *req.Autopilot
	}
	if req.Policy != nil {
		tenant.Policy = req.Policy.Normalize()
	}
	tenant.UpdatedAt = time.Now()

	if err := s.app.GetDatabase().SaveTenant(tenant); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.resyncWatch(tenant)
	s.publishTenantUpdated(tenant)
	s.respondJSON(w, http.StatusOK, tenant)
}

// handleTenantStatus handles GET /api/v1/tenants/{id}/status
func (s *Server) handleTenantStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	tenant, err := s.app.GetDatabase().GetTenant(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Tenant not found")
		return
	}

	latest, err := s.app.GetDatabase().LatestCycle(id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := map[string]interface{}{
		"id":        tenant.ID,
		"name":      tenant.Name,
		"status":    tenant.Status,
		"autopilot": tenant.AutopilotEnabled,
	}
	if latest != nil {
		status["cycle"] = map[string]interface{}{
			"id":          latest.ID,
			"phase":       latest.Phase,
			"status":      latest.Status,
			"strategy":    latest.Strategy,
			"mode":        latest.Mode,
			"error":       latest.Error,
			"channels":    latest.Channels,
			"started_at":  latest.StartedAt,
			"finished_at": latest.FinishedAt,
		}
		status["running"] = latest.Status == models.CycleStatusRunning
	} else {
		status["running"] = false
	}

	s.respondJSON(w, http.StatusOK, status)
}

// handleTenantAutopilot handles PUT /api/v1/tenants/{id}/autopilot
func (s *Server) handleTenantAutopilot(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tenant, err := s.app.GetDatabase().GetTenant(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Tenant not found")
		return
	}
	if tenant.Status == models.TenantStatusArchived && req.Enabled {
		s.respondError(w, http.StatusConflict, "tenant is archived")
		return
	}

	if err := s.app.GetDatabase().SetAutopilot(id, req.Enabled); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tenant.AutopilotEnabled = req.Enabled

	s.resyncWatch(tenant)
	s.publishTenantUpdated(tenant)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":        id,
		"autopilot": req.Enabled,
	})
}

// handleTenantPolicy handles GET/PUT /api/v1/tenants/{id}/policy
func (s *Server) handleTenantPolicy(w http.ResponseWriter, r *http.Request, id string) {
	tenant, err := s.app.GetDatabase().GetTenant(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Tenant not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, tenant.Policy)

	case http.MethodPut:
		var policy models.TenantPolicy
		if err := s.parseJSON(r, &policy); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		tenant.Policy = policy.Normalize()
		tenant.UpdatedAt = time.Now()
		if err := s.app.GetDatabase().SaveTenant(tenant); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// A running cycle keeps its snapshot; the new policy applies from
		// the next tick.
		s.resyncWatch(tenant)
		s.publishTenantUpdated(tenant)
		s.respondJSON(w, http.StatusOK, tenant.Policy)

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// resyncWatch aligns the scheduler with a tenant's current status and
// autopilot flag.
func (s *Server) resyncWatch(tenant *models.Tenant) {
	if tenant.Status == models.TenantStatusActive && tenant.AutopilotEnabled {
		s.app.GetScheduler().Rewatch(tenant)
	} else {
		s.app.GetScheduler().Unwatch(tenant.ID)
	}
}

func (s *Server) publishTenantUpdated(tenant *models.Tenant) {
	s.app.GetEventBus().Publish(&eventbus.Event{
		Type:     eventbus.EventTypeTenantUpdated,
		Source:   "api",
		TenantID: tenant.ID,
		Data: map[string]interface{}{
			"status":    string(tenant.Status),
			"autopilot": tenant.AutopilotEnabled,
		},
	})
}

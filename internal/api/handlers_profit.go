package api

import (
	"net/http"
	"time"
)

// handleTenantKPIs handles GET /api/v1/tenants/{id}/kpis?window=30
func (s *Server) handleTenantKPIs(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if _, err := s.app.GetDatabase().GetTenant(id); err != nil {
		s.respondError(w, http.StatusNotFound, "Tenant not found")
		return
	}

	window := queryInt(r, "window", s.config.Reinvest.WindowDays)
	report, err := s.app.GetDatabase().BuildKPIReport(id, window)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, report)
}

// handleTenantProfit handles GET /api/v1/tenants/{id}/profit?window=30&limit=50
func (s *Server) handleTenantProfit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if _, err := s.app.GetDatabase().GetTenant(id); err != nil {
		s.respondError(w, http.StatusNotFound, "Tenant not found")
		return
	}

	db := s.app.GetDatabase()
	window := queryInt(r, "window", s.config.Reinvest.WindowDays)
	now := time.Now()
	start := now.AddDate(0, 0, -window)

	total, err := db.TotalRevenue(id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	windowNet, _, err := db.WindowProfit(id, start, now)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	bySource, err := db.WindowProfitBySource(id, start, now)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries, err := db.ListProfitLogs(id, queryInt(r, "limit", 50))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":      id,
		"total_revenue":  total,
		"window_days":    window,
		"window_revenue": windowNet,
		"by_source":      bySource,
		"entries":        entries,
	})
}

// handleTenantDirectives handles GET /api/v1/tenants/{id}/directives?limit=20
func (s *Server) handleTenantDirectives(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if _, err := s.app.GetDatabase().GetTenant(id); err != nil {
		s.respondError(w, http.StatusNotFound, "Tenant not found")
		return
	}

	directives, err := s.app.GetDatabase().ListDirectives(id, queryInt(r, "limit", 20))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, directives)
}

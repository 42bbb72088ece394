package api

import (
	"net/http"
	"time"

	"github.com/jordanhubbard/venture/pkg/models"
)

// handleSystemStatus handles GET /api/v1/system/status
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	tenants, err := s.app.GetDatabase().ListTenants()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var active, autopilot int
	for _, t := range tenants {
		if t.Status == models.TenantStatusActive {
			active++
		}
		if t.AutopilotEnabled {
			autopilot++
		}
	}

	status := map[string]interface{}{
		"status":            "running",
		"uptime_seconds":    int64(time.Since(s.app.StartedAt()).Seconds()),
		"scheduler_holder":  s.app.GetScheduler().Holder(),
		"tenants_total":     len(tenants),
		"tenants_active":    active,
		"tenants_autopilot": autopilot,
		"cache":             s.app.GetCache().Stats(r.Context()),
		"bus_subscribers":   s.app.GetEventBus().SubscriberCount(),
	}

	if mb := s.app.GetMessageBus(); mb != nil {
		nats := map[string]interface{}{"enabled": true}
		if err := mb.Health(); err != nil {
			nats["healthy"] = false
			nats["error"] = err.Error()
		} else {
			nats["healthy"] = true
		}
		for k, v := range mb.Stats() {
			nats[k] = v
		}
		status["nats"] = nats
	} else {
		status["nats"] = map[string]interface{}{"enabled": false}
	}

	s.respondJSON(w, http.StatusOK, status)
}

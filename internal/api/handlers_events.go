package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jordanhubbard/venture/internal/eventbus"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventFilter builds a subscriber filter from the request's query params.
func eventFilter(r *http.Request) func(*eventbus.Event) bool {
	tenantID := r.URL.Query().Get("tenant_id")
	eventType := r.URL.Query().Get("type")
	return func(event *eventbus.Event) bool {
		if tenantID != "" && event.TenantID != tenantID {
			return false
		}
		if eventType != "" && string(event.Type) != eventType {
			return false
		}
		return true
	}
}

// handleGetEvents handles GET /api/v1/events?tenant_id=xxx&type=xxx&limit=100
// Served from the in-memory ring; the durable audit trail lives under
// /api/v1/tenants/{id}/events.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	events := s.app.GetEventBus().GetRecentEvents(
		queryInt(r, "limit", 100),
		r.URL.Query().Get("tenant_id"),
		r.URL.Query().Get("type"),
	)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// handleTenantEvents handles GET /api/v1/tenants/{id}/events?limit=100&cycle_id=xxx
func (s *Server) handleTenantEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if _, err := s.app.GetDatabase().GetTenant(id); err != nil {
		s.respondError(w, http.StatusNotFound, "Tenant not found")
		return
	}

	if cycleID := r.URL.Query().Get("cycle_id"); cycleID != "" {
		events, err := s.app.GetDatabase().ListEventsByCycle(cycleID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, events)
		return
	}

	events, err := s.app.GetDatabase().ListEvents(id, queryInt(r, "limit", 100))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, events)
}

// handleEventStream handles SSE endpoint for real-time event updates
// GET /api/v1/events/stream?tenant_id=xxx&type=xxx
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	bus := s.app.GetEventBus()
	subscriberID := fmt.Sprintf("sse-%d", time.Now().UnixNano())
	subscriber := bus.Subscribe(subscriberID, eventFilter(r))
	defer bus.Unsubscribe(subscriberID)

	// Send initial connection event
	fmt.Fprintf(w, "event: connected\n")
	fmt.Fprintf(w, "data: {\"message\": \"Connected to event stream\"}\n\n")
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-subscriber.Channel:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\n", event.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// handleEventWebsocket handles GET /api/v1/events/ws?tenant_id=xxx&type=xxx
func (s *Server) handleEventWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	bus := s.app.GetEventBus()
	subscriberID := fmt.Sprintf("ws-%d", time.Now().UnixNano())
	subscriber := bus.Subscribe(subscriberID, eventFilter(r))
	defer bus.Unsubscribe(subscriberID)

	// Reader goroutine: the client sends nothing meaningful, but reading is
	// what surfaces close frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-subscriber.Channel:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-keepalive.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleGetEventStats returns statistics about events
// GET /api/v1/events/stats
func (s *Server) handleGetEventStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	bus := s.app.GetEventBus()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "active",
		"subscribers": bus.SubscriberCount(),
		"recent":      len(bus.GetRecentEvents(0, "", "")),
	})
}

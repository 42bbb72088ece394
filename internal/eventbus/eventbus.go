package eventbus

import (
	"fmt"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeCycleStarted   EventType = "cycle.started"
	EventTypeCyclePhase     EventType = "cycle.phase"
	EventTypeCycleCompleted EventType = "cycle.completed"
	EventTypeCycleDegraded  EventType = "cycle.degraded"
	EventTypeCycleFailed    EventType = "cycle.failed"
	EventTypeCycleCancelled EventType = "cycle.cancelled"
	EventTypeCycleSkipped   EventType = "cycle.skipped"
	EventTypeCycleConflict  EventType = "cycle.conflict"

	EventTypeTaskDispatched EventType = "task.dispatched"
	EventTypeTaskRetried    EventType = "task.retried"
	EventTypeTaskCompleted  EventType = "task.completed"
	EventTypeTaskFailed     EventType = "task.failed"

	EventTypeDecisionMade     EventType = "decision.made"
	EventTypeDecisionOverride EventType = "decision.override"

	EventTypeProfitRecorded    EventType = "profit.recorded"
	EventTypeReinvestDirective EventType = "reinvest.directive"
	EventTypeStrategyEvicted   EventType = "strategy.evicted"
	EventTypeStrategyRebuilt   EventType = "strategy.rebuilt"

	EventTypeTenantCreated EventType = "tenant.created"
	EventTypeTenantUpdated EventType = "tenant.updated"

	EventTypeConfigUpdated EventType = "config.updated"
	EventTypeLogMessage    EventType = "log.message"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"` // Component that generated the event
	Data      map[string]interface{} `json:"data"`   // Event payload
	TenantID  string                 `json:"tenant_id,omitempty"`
	CycleID   string                 `json:"cycle_id,omitempty"`
}

// Subscriber represents an event subscriber
type Subscriber struct {
	ID      string
	Channel chan *Event
	Filter  func(*Event) bool // Optional filter function
}

// EventBus provides in-process pub/sub for orchestration events. Delivery
// is best-effort; durable facts live in the database, the bus only feeds
// live surfaces (SSE, websockets, the NATS bridge, metrics).
type EventBus struct {
	subscribers map[string]*Subscriber
	mu          sync.RWMutex
	done        chan struct{}
	buffer      chan *Event

	// Ring buffer for recent event history (ephemeral, lost on restart)
	recentEvents []*Event
	recentIdx    int
	recentCount  int
}

// NewEventBus creates a new event bus with the given publish buffer size.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	eb := &EventBus{
		subscribers:  make(map[string]*Subscriber),
		done:         make(chan struct{}),
		buffer:       make(chan *Event, bufferSize),
		recentEvents: make([]*Event, 1000),
	}

	go eb.processEvents()

	return eb
}

// Publish publishes an event to all subscribers
func (eb *EventBus) Publish(event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = fmt.Sprintf("%s-%d", event.Type, time.Now().UnixNano())
	}

	// Add to buffer for async processing
	select {
	case eb.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer is full")
	}
}

// Subscribe creates a new subscription to events
func (eb *EventBus) Subscribe(subscriberID string, filter func(*Event) bool) *Subscriber {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if sub, exists := eb.subscribers[subscriberID]; exists {
		return sub
	}

	sub := &Subscriber{
		ID:      subscriberID,
		Channel: make(chan *Event, 100), // Buffered channel for subscriber
		Filter:  filter,
	}

	eb.subscribers[subscriberID] = sub
	return sub
}

// Unsubscribe removes a subscriber
func (eb *EventBus) Unsubscribe(subscriberID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if sub, exists := eb.subscribers[subscriberID]; exists {
		close(sub.Channel)
		delete(eb.subscribers, subscriberID)
	}
}

// processEvents processes events from the buffer and distributes to subscribers
func (eb *EventBus) processEvents() {
	for {
		select {
		case <-eb.done:
			return
		case event, ok := <-eb.buffer:
			if !ok || event == nil {
				return
			}
			eb.distributeEvent(event)
		}
	}
}

// distributeEvent sends event to all matching subscribers
func (eb *EventBus) distributeEvent(event *Event) {
	// Store in ring buffer for history queries
	eb.mu.Lock()
	eb.recentEvents[eb.recentIdx] = event
	eb.recentIdx = (eb.recentIdx + 1) % len(eb.recentEvents)
	if eb.recentCount < len(eb.recentEvents) {
		eb.recentCount++
	}
	eb.mu.Unlock()

	eb.mu.RLock()
	subs := make([]*Subscriber, 0, len(eb.subscribers))
	for _, sub := range eb.subscribers {
		subs = append(subs, sub)
	}
	eb.mu.RUnlock()

	for _, sub := range subs {
		if sub.Filter != nil && !sub.Filter(event) {
			continue
		}

		// Non-blocking send to subscriber
		select {
		case sub.Channel <- event:
		default:
			// Subscriber channel is full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// GetRecentEvents returns recent events from the ring buffer, filtered by
// optional tenantID and eventType. Results are returned newest-first, up
// to limit.
func (eb *EventBus) GetRecentEvents(limit int, tenantID, eventType string) []*Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if limit <= 0 || limit > eb.recentCount {
		limit = eb.recentCount
	}

	result := make([]*Event, 0, limit)
	// Walk backwards from most recent
	for i := 0; i < eb.recentCount && len(result) < limit; i++ {
		idx := (eb.recentIdx - 1 - i + len(eb.recentEvents)) % len(eb.recentEvents)
		ev := eb.recentEvents[idx]
		if ev == nil {
			continue
		}
		if tenantID != "" && ev.TenantID != tenantID {
			continue
		}
		if eventType != "" && string(ev.Type) != eventType {
			continue
		}
		result = append(result, ev)
	}
	return result
}

// Close shuts down the event bus
func (eb *EventBus) Close() {
	close(eb.done)

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, sub := range eb.subscribers {
		close(sub.Channel)
	}
	eb.subscribers = make(map[string]*Subscriber)
}

// PublishCycleEvent publishes a cycle lifecycle event
func (eb *EventBus) PublishCycleEvent(eventType EventType, tenantID, cycleID string, data map[string]interface{}) error {
	return eb.Publish(&Event{
		Type:     eventType,
		Source:   "orchestrator",
		TenantID: tenantID,
		CycleID:  cycleID,
		Data:     data,
	})
}

// PublishTaskEvent publishes a task dispatch event
func (eb *EventBus) PublishTaskEvent(eventType EventType, tenantID, cycleID, channel string, data map[string]interface{}) error {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["channel"] = channel

	return eb.Publish(&Event{
		Type:     eventType,
		Source:   "dispatcher",
		TenantID: tenantID,
		CycleID:  cycleID,
		Data:     data,
	})
}

// PublishLogMessage publishes a log message event
func (eb *EventBus) PublishLogMessage(level, message, source, tenantID string) error {
	return eb.Publish(&Event{
		Type:     EventTypeLogMessage,
		Source:   source,
		TenantID: tenantID,
		Data: map[string]interface{}{
			"level":   level,
			"message": message,
		},
	})
}

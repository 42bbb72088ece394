package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// EventEnvelope is the wire form of one bus event on the NATS mirror.
// Origin names the emitting process so bridges can suppress their own
// echoes.
type EventEnvelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	CycleID   string                 `json:"cycle_id,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Origin    string                 `json:"origin"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Config selects the NATS cluster and stream for the mirror.
type Config struct {
	URL        string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName string        // JetStream stream name (default: "VENTURE")
	Timeout    time.Duration // Connection timeout
}

// Mirror publishes orchestration events onto NATS with JetStream backing.
// The in-process bus stays the source of truth for live surfaces; the
// mirror exists so sibling scheduler processes and external consumers see
// every tenant's cycles regardless of which node ran them. External
// consumers replay from the stream; the inbound side of the bridge rides a
// plain subscription, since the database already holds the durable record.
type Mirror struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	inbound    *nats.Subscription
	streamName string
	url        string
}

// Connect dials NATS and ensures the mirror stream exists.
func Connect(cfg Config) (*Mirror, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "VENTURE"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[MessageBus] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[MessageBus] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	m := &Mirror{
		conn:       nc,
		js:         js,
		streamName: cfg.StreamName,
		url:        cfg.URL,
	}

	if err := m.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("[MessageBus] Connected to NATS at %s (stream %s)", cfg.URL, cfg.StreamName)
	return m, nil
}

// ensureStream creates or updates the JetStream stream. Retention must be
// LimitsPolicy so any number of consumers can read the same subjects; a
// WorkQueue stream from an old deployment is deleted and recreated, since
// retention cannot be changed in place.
func (m *Mirror) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      m.streamName,
		Subjects:  []string{"venture.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	info, err := m.js.StreamInfo(m.streamName)
	switch {
	case err != nil:
		if _, err := m.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("[MessageBus] Created JetStream stream %s", m.streamName)
	case info.Config.Retention != nats.LimitsPolicy:
		if err := m.js.DeleteStream(m.streamName); err != nil {
			return fmt.Errorf("failed to delete legacy stream: %w", err)
		}
		if _, err := m.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to recreate stream: %w", err)
		}
		log.Printf("[MessageBus] Recreated JetStream stream %s with Limits retention", m.streamName)
	default:
		if _, err := m.js.UpdateStream(streamConfig); err != nil {
			return fmt.Errorf("failed to update stream: %w", err)
		}
	}

	return nil
}

// MirrorEvent publishes one envelope to its tenant-scoped subject.
func (m *Mirror) MirrorEvent(ctx context.Context, env *EventEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := subjectFor(env.Type, env.TenantID)
	if _, err := m.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", subject, err)
	}
	return nil
}

// SubscribeAll delivers every mirrored event, including this process's own,
// to the handler. One subscription per mirror; the bridge filters echoes by
// origin.
func (m *Mirror) SubscribeAll(handler func(*EventEnvelope)) error {
	if m.inbound != nil {
		return fmt.Errorf("already subscribed")
	}
	sub, err := m.conn.Subscribe("venture.>", func(msg *nats.Msg) {
		var env EventEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("[MessageBus] Failed to unmarshal event: %v", err)
			return
		}
		handler(&env)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to venture.>: %w", err)
	}
	m.inbound = sub
	return nil
}

// Close drops the inbound subscription and the connection.
func (m *Mirror) Close() error {
	if m.inbound != nil {
		_ = m.inbound.Unsubscribe()
		m.inbound = nil
	}
	m.conn.Close()
	log.Printf("[MessageBus] Closed NATS connection")
	return nil
}

// Health reports whether the connection and the stream are usable.
func (m *Mirror) Health() error {
	if m.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !m.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := m.js.StreamInfo(m.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", m.streamName, err)
	}
	return nil
}

// Stats returns connection and stream counters for the status endpoint.
func (m *Mirror) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"url":       m.url,
		"stream":    m.streamName,
		"connected": m.conn.IsConnected(),
	}
	if info, err := m.js.StreamInfo(m.streamName); err == nil {
		stats["stream_messages"] = info.State.Msgs
		stats["stream_bytes"] = info.State.Bytes
		stats["stream_consumers"] = info.State.Consumers
	}
	return stats
}

// subjectFor maps an event type to its tenant-scoped subject:
// venture.<family>.<tenant>. Events with no tenant land under "system".
func subjectFor(eventType, tenantID string) string {
	family := eventFamily(eventType)
	tenant := subjectToken(tenantID)
	if tenant == "" {
		tenant = "system"
	}
	return fmt.Sprintf("venture.%s.%s", family, tenant)
}

// eventFamily returns the leading segment of a dotted event type:
// "cycle.started" -> "cycle".
func eventFamily(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		return eventType[:i]
	}
	if eventType == "" {
		return "event"
	}
	return eventType
}

// subjectToken makes an identifier safe to embed in a NATS subject.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '-'
		}
		return r
	}, s)
}

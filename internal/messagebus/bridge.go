package messagebus

import (
	"context"
	"log"
	"sync"

	"github.com/jordanhubbard/venture/internal/eventbus"
)

// EventMirror is the outbound side of the bridge, satisfied by Mirror.
// Tests substitute a capture.
type EventMirror interface {
	MirrorEvent(ctx context.Context, env *EventEnvelope) error
}

var _ EventMirror = (*Mirror)(nil)

const bridgeSubscriberID = "nats-mirror-out"

// Bridge connects the in-process event bus to the NATS mirror. Local
// orchestration events flow out so every process and external consumer
// sees them; remote events flow in so this process's live streams cover
// tenants scheduled elsewhere. Origin tagging breaks echo loops.
type Bridge struct {
	mirror EventMirror
	nats   *Mirror
	bus    *eventbus.EventBus
	origin string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// NewBridge creates a bridge identified by origin, typically
// "venture-<hostname>".
func NewBridge(mb *Mirror, bus *eventbus.EventBus, origin string) *Bridge {
	return &Bridge{mirror: mb, nats: mb, bus: bus, origin: origin}
}

// Start begins mirroring in both directions.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	b.mirrorOutbound(ctx)
	if b.nats != nil {
		if err := b.injectInbound(); err != nil {
			return err
		}
	}

	log.Printf("[Bridge] Mirroring events to NATS (origin %s)", b.origin)
	return nil
}

// mirrorOutbound forwards mirrored families from the local bus to NATS.
func (b *Bridge) mirrorOutbound(ctx context.Context) {
	sub := b.bus.Subscribe(bridgeSubscriberID, mirrored)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Channel:
				if !ok {
					return
				}
				// Events injected from NATS carry their origin; never
				// bounce them back out.
				if event.Data != nil {
					if _, remote := event.Data["origin"]; remote {
						continue
					}
				}
				env := &EventEnvelope{
					ID:        event.ID,
					Type:      string(event.Type),
					TenantID:  event.TenantID,
					CycleID:   event.CycleID,
					Source:    event.Source,
					Origin:    b.origin,
					Data:      event.Data,
					Timestamp: event.Timestamp,
				}
				if err := b.mirror.MirrorEvent(ctx, env); err != nil {
					log.Printf("[Bridge] Failed to mirror %s to NATS: %v", event.Type, err)
				}
			}
		}
	}()
}

// injectInbound republishes remote events on the local bus.
func (b *Bridge) injectInbound() error {
	return b.nats.SubscribeAll(func(env *EventEnvelope) {
		if env.Origin == b.origin {
			return
		}
		data := env.Data
		if data == nil {
			data = make(map[string]interface{})
		}
		data["origin"] = env.Origin

		event := &eventbus.Event{
			ID:        env.ID,
			Type:      eventbus.EventType(env.Type),
			TenantID:  env.TenantID,
			CycleID:   env.CycleID,
			Source:    "nats:" + env.Source,
			Data:      data,
			Timestamp: env.Timestamp,
		}
		if err := b.bus.Publish(event); err != nil {
			log.Printf("[Bridge] Failed to inject remote %s event: %v", env.Type, err)
		}
	})
}

// Close shuts down the bridge
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	b.started = false
	if b.bus != nil {
		b.bus.Unsubscribe(bridgeSubscriberID)
	}
	log.Printf("[Bridge] Closed")
}

// mirrored selects the event families worth sharing between processes.
// Log chatter and process-local config notices stay local.
func mirrored(event *eventbus.Event) bool {
	switch eventFamily(string(event.Type)) {
	case "cycle", "task", "decision", "profit", "reinvest", "strategy", "tenant":
		return true
	default:
		return false
	}
}

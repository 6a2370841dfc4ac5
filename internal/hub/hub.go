// Package hub fans alert lifecycle events out to every connected stream
// subscriber.
//
// Delivery is at-least-once per currently-connected subscriber: there is no
// backlog or replay for subscribers that connect later or were disconnected
// when an event was published. Each subscriber owns a bounded queue; a
// subscriber whose queue overflows is disconnected so that publishing never
// blocks on a slow consumer.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doggobot/sentry/internal/metrics"
)

// Event types pushed through the hub. Command events come from the external
// command-resolver collaborator and pass through unchanged.
const (
	TypeConnected = "connected"
	TypeAlert     = "alert"
	TypeAck       = "ack"
	TypeHeartbeat = "heartbeat"
	TypeCommand   = "command"
)

const (
	// DefaultQueueCap bounds each subscriber's outbound queue.
	DefaultQueueCap = 64
	// DefaultHeartbeat keeps idle connections alive through proxies and lets
	// subscribers detect a dead publisher.
	DefaultHeartbeat = 15 * time.Second
)

// ErrClosed is returned by Subscribe after the hub shuts down.
var ErrClosed = errors.New("hub is closed")

// Event is one broadcast message. Seq is the global ingress order: any two
// subscribers connected across both of two events observe them in the same
// relative order.
type Event struct {
	Seq  uint64
	Type string
	Data map[string]any
}

// MarshalJSON flattens Data into the top-level object, matching the wire shape
// consumed by the dashboard: {"type": ..., "seq": ..., <data fields>}.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+2)
	for k, v := range e.Data {
		out[k] = v
	}
	out["type"] = e.Type
	out["seq"] = e.Seq
	return json.Marshal(out)
}

// Subscription is one connected subscriber's receive side. C is closed when
// the subscriber is disconnected, whether by Unsubscribe, queue overflow, or
// hub shutdown.
type Subscription struct {
	ID string
	C  <-chan Event
}

type subscriber struct {
	id string
	ch chan Event
}

// Hub broadcasts events to all connected subscribers.
type Hub struct {
	log      *slog.Logger
	queueCap int
	interval time.Duration

	mu     sync.Mutex
	subs   map[string]*subscriber
	seq    uint64
	closed bool
}

// Options tunes hub behavior; zero values take the defaults above.
type Options struct {
	QueueCap  int
	Heartbeat time.Duration
}

// New creates a hub. Call Run to start the heartbeat.
func New(log *slog.Logger, opts Options) *Hub {
	if opts.QueueCap <= 0 {
		opts.QueueCap = DefaultQueueCap
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	return &Hub{
		log:      log,
		queueCap: opts.QueueCap,
		interval: opts.Heartbeat,
		subs:     make(map[string]*subscriber),
	}
}

// Subscribe registers a new subscriber and delivers a connected greeting as
// its first event.
func (h *Hub) Subscribe() (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	sub := &subscriber{
		id: uuid.NewString(),
		ch: make(chan Event, h.queueCap),
	}
	h.subs[sub.id] = sub
	metrics.Subscribers.Set(float64(len(h.subs)))

	// The greeting takes its own sequence number so a subscriber never sees
	// the same seq twice. Queue capacity is at least 1, so it never drops.
	h.seq++
	sub.ch <- Event{
		Seq:  h.seq,
		Type: TypeConnected,
		Data: map[string]any{"timestamp": time.Now().Unix()},
	}

	h.log.Debug("subscriber connected", "id", sub.id, "total", len(h.subs))
	return &Subscription{ID: sub.id, C: sub.ch}, nil
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are
// ignored, so disconnect paths can race safely.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id, "closed")
}

func (h *Hub) removeLocked(id, reason string) {
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
	metrics.Subscribers.Set(float64(len(h.subs)))
	h.log.Debug("subscriber disconnected", "id", id, "reason", reason)
}

// Publish assigns the event the next global sequence number and enqueues it to
// every subscriber connected at this instant. A subscriber whose queue is full
// is disconnected and its queued events are dropped; Publish itself never
// blocks. Returns the assigned sequence number, or 0 if the hub is closed.
func (h *Hub) Publish(typ string, data map[string]any) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0
	}

	h.seq++
	ev := Event{Seq: h.seq, Type: typ, Data: data}

	var evicted []string
	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			evicted = append(evicted, id)
		}
	}

	for _, id := range evicted {
		metrics.EventsDropped.Add(float64(len(h.subs[id].ch)))
		metrics.SubscribersEvicted.Inc()
		h.removeLocked(id, "queue overflow")
		h.log.Warn("slow subscriber evicted", "id", id, "seq", ev.Seq)
	}

	return ev.Seq
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Run pushes heartbeat events on the configured interval until ctx is
// cancelled, then closes the hub.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Close()
			return ctx.Err()
		case <-ticker.C:
			h.Publish(TypeHeartbeat, map[string]any{"timestamp": time.Now().Unix()})
		}
	}
}

// Close disconnects all subscribers and rejects further activity. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for id := range h.subs {
		h.removeLocked(id, "hub shutdown")
	}
}

// Package events carries registry and tenant state changes to subscribers
// (NATS for other services, the realtime hub for browsers).
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeRegistered    = "registered"
	TypeUnregistered  = "unregistered"
	TypeUpdated       = "updated"
	TypeStatusChanged = "status_changed"
	TypeImported      = "imported"
	TypeHeartbeatLost = "heartbeat_lost"
)

// Event is a state change on one record.
type Event struct {
	Type      string         `json:"type"`
	Resource  string         `json:"resource"`
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New builds an event stamped with the current time.
func New(resource, typ, id string, data map[string]any) Event {
	return Event{
		Type:      typ,
		Resource:  resource,
		ID:        id,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ForTenant returns a copy of e scoped to tenantID.
func (e Event) ForTenant(tenantID string) Event {
	e.TenantID = tenantID
	return e
}

// Publisher delivers events. Publish never blocks on slow consumers and
// never fails the caller; delivery problems are logged by the implementation.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi fans an event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Recorder keeps published events in memory. Tests use it to assert on
// emitted events.
type Recorder struct {
	ch chan Event
}

// NewRecorder creates a recorder buffering up to size events.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	select {
	case r.ch <- e:
	default:
	}
}

// Events drains and returns everything recorded so far.
func (r *Recorder) Events() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

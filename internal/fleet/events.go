package fleet

import (
	"context"

	"github.com/proxyfleet/dispatcher/internal/core/domain"
	"github.com/proxyfleet/dispatcher/pkg/eventbus"
)

// LifecycleEventType identifies the kind of change carried by a
// LifecycleEvent.
type LifecycleEventType int

const (
	NodeConnected LifecycleEventType = iota
	NodeDisconnected
	CircuitTransitioned
)

func (t LifecycleEventType) String() string {
	switch t {
	case NodeConnected:
		return "node_connected"
	case NodeDisconnected:
		return "node_disconnected"
	case CircuitTransitioned:
		return "circuit_transitioned"
	default:
		return "unknown"
	}
}

// LifecycleEvent is published whenever a node's connectivity or circuit
// state changes. The spec treats health-check reconciliation as an
// external collaborator; this is the feed it subscribes to instead of
// polling getStats() on a timer.
type LifecycleEvent struct {
	Type   LifecycleEventType
	NodeID int
	From   domain.CircuitState
	To     domain.CircuitState
}

// Subscribe returns a channel of lifecycle events and an unsubscribe
// function. The channel closes when ctx is cancelled.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan LifecycleEvent, func()) {
	return d.events.Subscribe(ctx)
}

func newEventBus() *eventbus.EventBus[LifecycleEvent] {
	return eventbus.New[LifecycleEvent]()
}

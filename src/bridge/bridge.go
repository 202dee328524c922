package bridge

import "github.com/pulsedate/realtime/src/types"

// Bridge relays group events between server instances, the moral
// equivalent of a channel layer spanning processes.
type Bridge interface {
	// Publish sends an event to all other instances via the bridge.
	Publish(ev types.Event) error

	// Start begins listening for events from other instances.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// BroadcastTarget is implemented by the Hub to receive events from the bridge.
type BroadcastTarget interface {
	BroadcastLocal(ev types.Event)
}

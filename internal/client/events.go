package client

import "github.com/openvacs/vacs/internal/protocol"

// EventKind discriminates client lifecycle events.
type EventKind int

const (
	// EventConnected fires when the session reaches Ready.
	EventConnected EventKind = iota
	// EventDisconnected fires when the session leaves Ready; Reason names
	// why. It fires once per connection, whether or not a reconnect
	// follows.
	EventDisconnected
	// EventMessage carries a server message delivered while Ready.
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is delivered on the client's event channel. Message is set for
// EventMessage; Reason is set for EventDisconnected.
type Event struct {
	Kind    EventKind
	Message *protocol.Message
	Reason  string
}

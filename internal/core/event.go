package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventVisitors delivers the full list of visitors currently online.
	EventVisitors EventKind = iota
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Visitors []Identity
}

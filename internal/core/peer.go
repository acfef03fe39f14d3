package core

import "time"

// PeerUpdateKind tags messages exchanged between instances over the relay.
type PeerUpdateKind string

const (
	// PeerSnapshot carries an instance's full local visitor list.
	PeerSnapshot PeerUpdateKind = "snapshot"
	// PeerHello announces a freshly started instance; peers answer with a snapshot.
	PeerHello PeerUpdateKind = "hello"
	// PeerBye announces a graceful shutdown.
	PeerBye PeerUpdateKind = "bye"
)

// PeerUpdate is the unit of cross-instance presence propagation.
// Seq increases with every local registry mutation of the sending instance.
type PeerUpdate struct {
	Instance string
	Seq      uint64
	Kind     PeerUpdateKind
	Visitors []Identity
	SentAt   time.Time
}

// peerView is the last known visitor list of a remote instance.
// It never mixes with the local registry.
type peerView struct {
	seq      uint64
	visitors []Identity
	seenAt   time.Time
}

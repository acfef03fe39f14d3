package core

import "strings"

// Registry maps live connection ids to the identity they announced.
// It is not safe for concurrent use; the owning Hub serializes access.
type Registry struct {
	entries map[string]Identity
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Identity)}
}

// Join inserts or replaces the entry for id. Identities without an IP are
// rejected and leave the registry untouched.
func (r *Registry) Join(id string, identity Identity) bool {
	if id == "" || !identity.Valid() {
		return false
	}
	identity = identity.clone()
	identity.IP = strings.TrimSpace(identity.IP)
	r.entries[id] = identity
	return true
}

// Leave removes the entry for id. Returns true if an entry was removed.
func (r *Registry) Leave(id string) bool {
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Snapshot returns a copy of all identities in no particular order.
func (r *Registry) Snapshot() []Identity {
	out := make([]Identity, 0, len(r.entries))
	for _, identity := range r.entries {
		out = append(out, identity.clone())
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.entries)
}

package relay

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/vovakirdan/studio-presence/internal/core"
)

// codecVersion is bumped on incompatible wire changes; other versions are dropped.
const codecVersion = 1

type wireUpdate struct {
	V        int           `json:"v"`
	Instance string        `json:"instance"`
	Seq      uint64        `json:"seq"`
	Kind     string        `json:"kind"`
	Visitors []wireVisitor `json:"visitors,omitempty"`
	SentAt   time.Time     `json:"sent_at"`
}

type wireVisitor struct {
	IP          string      `json:"ip"`
	Location    *string     `json:"location,omitempty"`
	Coordinates *[2]float64 `json:"coordinates,omitempty"`
}

// Encode serializes an update for the bus.
func Encode(u core.PeerUpdate) ([]byte, error) {
	w := wireUpdate{
		V:        codecVersion,
		Instance: u.Instance,
		Seq:      u.Seq,
		Kind:     string(u.Kind),
		SentAt:   u.SentAt,
	}
	for _, identity := range u.Visitors {
		v := wireVisitor{IP: identity.IP, Location: identity.Location}
		if identity.Coordinates != nil {
			coords := [2]float64(*identity.Coordinates)
			v.Coordinates = &coords
		}
		w.Visitors = append(w.Visitors, v)
	}
	return json.Marshal(w)
}

// Decode parses a bus payload.
func Decode(data []byte) (core.PeerUpdate, error) {
	var w wireUpdate
	if err := json.Unmarshal(data, &w); err != nil {
		return core.PeerUpdate{}, fmt.Errorf("decode update: %w", err)
	}
	if w.V != codecVersion {
		return core.PeerUpdate{}, fmt.Errorf("decode update: unsupported version %d", w.V)
	}
	if w.Instance == "" {
		return core.PeerUpdate{}, fmt.Errorf("decode update: missing instance")
	}

	u := core.PeerUpdate{
		Instance: w.Instance,
		Seq:      w.Seq,
		Kind:     core.PeerUpdateKind(w.Kind),
		SentAt:   w.SentAt,
		Visitors: make([]core.Identity, 0, len(w.Visitors)),
	}
	for _, v := range w.Visitors {
		identity := core.Identity{IP: v.IP, Location: v.Location}
		if v.Coordinates != nil {
			coords := core.Coordinates(*v.Coordinates)
			identity.Coordinates = &coords
		}
		u.Visitors = append(u.Visitors, identity)
	}
	return u, nil
}

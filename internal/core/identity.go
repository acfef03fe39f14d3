package core

import "strings"

// Coordinates is a latitude/longitude pair.
type Coordinates [2]float64

// Identity is what a viewer announces about itself shortly after connecting.
type Identity struct {
	IP          string
	Location    *string
	Coordinates *Coordinates
}

// Valid reports whether the identity carries an address and can be registered.
func (i Identity) Valid() bool {
	return strings.TrimSpace(i.IP) != ""
}

func (i Identity) clone() Identity {
	out := Identity{IP: i.IP}
	if i.Location != nil {
		loc := *i.Location
		out.Location = &loc
	}
	if i.Coordinates != nil {
		coords := *i.Coordinates
		out.Coordinates = &coords
	}
	return out
}

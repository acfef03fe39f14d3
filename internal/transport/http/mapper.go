package http

import (
	"encoding/json"

	"github.com/vovakirdan/studio-presence/internal/core"
	"github.com/vovakirdan/studio-presence/internal/proto"
)

// inboundToIdentity decodes a client frame. A non-nil error means the frame is
// malformed and should be dropped; a protocol error is reported back to the client.
func inboundToIdentity(inbound proto.Inbound) (core.Identity, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return core.Identity{}, nil, err
		}
		identity := core.Identity{IP: join.IP, Location: join.Location}
		if join.Coordinates != nil {
			coords := core.Coordinates(*join.Coordinates)
			identity.Coordinates = &coords
		}
		return identity, nil, nil
	default:
		return core.Identity{}, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "unknown message type"}, nil
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventVisitors:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventVisitors,
			Data:  visitorsFromIdentities(event.Visitors),
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func visitorsFromIdentities(list []core.Identity) []proto.Visitor {
	out := make([]proto.Visitor, 0, len(list))
	for _, identity := range list {
		v := proto.Visitor{IP: identity.IP, Location: identity.Location}
		if identity.Coordinates != nil {
			coords := [2]float64(*identity.Coordinates)
			v.Coordinates = &coords
		}
		out = append(out, v)
	}
	return out
}

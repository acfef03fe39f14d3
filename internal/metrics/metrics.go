// Package metrics exposes Prometheus collectors for the presence service.
//
// Collectors are package-level and registered on the default registry via
// promauto; /metrics serves them through promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Presence metrics.
var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_connections_active",
			Help: "Number of websocket sessions registered with this instance",
		},
	)

	VisitorsLocal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_visitors_local",
			Help: "Number of announced visitors connected to this instance",
		},
	)

	VisitorsVisible = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_visitors_visible",
			Help: "Number of visitors in the broadcast list (local plus relayed peers)",
		},
	)

	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_broadcasts_total",
			Help: "Total visitor list fan-outs",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_events_dropped_total",
			Help: "Pending events discarded because a session buffer was full",
		},
	)

	JoinsIgnored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_joins_ignored_total",
			Help: "Join announcements dropped without touching the registry",
		},
		[]string{"reason"}, // missing_ip, unregistered, malformed, rate_limited
	)
)

// Relay metrics.
var (
	RelayMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connected",
			Help: "1 when the cross-instance relay is connected, 0 when running local-only",
		},
	)

	RelayPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_published_total",
			Help: "Relay messages published by kind",
		},
		[]string{"kind"},
	)

	RelayReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_received_total",
			Help: "Relay messages received from peers by kind",
		},
		[]string{"kind"},
	)

	RelayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Relay failures by operation",
		},
		[]string{"op"}, // publish, decode, subscribe
	)

	RelayPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_peers",
			Help: "Number of peer instances currently contributing visitors",
		},
	)
)

// Collaborator metrics.
var (
	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geo_lookups_total",
			Help: "Geolocation lookups by result",
		},
		[]string{"result"}, // ok, error, circuit_open
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	ContactMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contact_messages_total",
			Help: "Contact form submissions by result",
		},
		[]string{"result"},
	)
)

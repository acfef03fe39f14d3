package store

import (
	"context"
	"time"
)

// Visit is one viewer session as seen by a single instance.
type Visit struct {
	ConnectionID string
	InstanceID   string
	IP           string
	Location     *string
	Coordinates  *[2]float64
	JoinedAt     time.Time
}

// LocationCount is one row of the top-locations breakdown.
type LocationCount struct {
	Location string `json:"location"`
	Visits   int64  `json:"visits"`
}

// VisitStats summarizes visits since a point in time.
type VisitStats struct {
	Since             time.Time       `json:"since"`
	TotalVisits       int64           `json:"total_visits"`
	UniqueIPs         int64           `json:"unique_ips"`
	AvgSessionSeconds float64         `json:"avg_session_seconds"`
	TopLocations      []LocationCount `json:"top_locations"`
}

// VisitStore persists the visit log behind the admin dashboard.
type VisitStore interface {
	// RecordJoin stores a join. A repeated join on the same connection replaces its identity.
	RecordJoin(ctx context.Context, v Visit) error

	// RecordLeave marks the connection's visit as finished. Unknown connections are ignored.
	RecordLeave(ctx context.Context, connectionID string, at time.Time) error

	// Stats aggregates visits joined at or after since, with at most top locations.
	Stats(ctx context.Context, since time.Time, top int) (*VisitStats, error)

	// Close closes the underlying database connection.
	Close() error
}

// Nop discards everything. Used when the visit log is disabled.
type Nop struct{}

func (Nop) RecordJoin(context.Context, Visit) error             { return nil }
func (Nop) RecordLeave(context.Context, string, time.Time) error { return nil }
func (Nop) Close() error                                         { return nil }

func (Nop) Stats(_ context.Context, since time.Time, _ int) (*VisitStats, error) {
	return &VisitStats{Since: since, TopLocations: []LocationCount{}}, nil
}

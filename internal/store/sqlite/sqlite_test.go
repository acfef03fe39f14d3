package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vovakirdan/studio-presence/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewWithSetup(":memory:", ApplySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestStatsAggregatesVisits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	visits := []store.Visit{
		{ConnectionID: "c1", InstanceID: "i1", IP: "1.1.1.1", Location: strPtr("Oslo, Norway"), JoinedAt: base},
		{ConnectionID: "c2", InstanceID: "i1", IP: "1.1.1.1", Location: strPtr("Oslo, Norway"), JoinedAt: base.Add(time.Minute)},
		{ConnectionID: "c3", InstanceID: "i2", IP: "2.2.2.2", Location: strPtr("Lima, Peru"), JoinedAt: base.Add(2 * time.Minute)},
		{ConnectionID: "c4", InstanceID: "i2", IP: "3.3.3.3", JoinedAt: base.Add(3 * time.Minute)},
		// Before the window.
		{ConnectionID: "old", InstanceID: "i1", IP: "9.9.9.9", Location: strPtr("Lima, Peru"), JoinedAt: base.Add(-48 * time.Hour)},
	}
	for _, v := range visits {
		if err := s.RecordJoin(ctx, v); err != nil {
			t.Fatalf("record join %s: %v", v.ConnectionID, err)
		}
	}
	if err := s.RecordLeave(ctx, "c1", base.Add(30*time.Second)); err != nil {
		t.Fatalf("record leave: %v", err)
	}
	if err := s.RecordLeave(ctx, "c3", base.Add(3*time.Minute+30*time.Second)); err != nil {
		t.Fatalf("record leave: %v", err)
	}

	stats, err := s.Stats(ctx, base.Add(-time.Hour), 5)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.TotalVisits != 4 {
		t.Errorf("expected 4 visits, got %d", stats.TotalVisits)
	}
	if stats.UniqueIPs != 3 {
		t.Errorf("expected 3 unique ips, got %d", stats.UniqueIPs)
	}
	// c1 lasted 30s, c3 lasted 90s.
	if stats.AvgSessionSeconds != 60 {
		t.Errorf("expected 60s average, got %v", stats.AvgSessionSeconds)
	}
	if len(stats.TopLocations) != 2 || stats.TopLocations[0].Location != "Oslo, Norway" || stats.TopLocations[0].Visits != 2 {
		t.Errorf("unexpected top locations: %+v", stats.TopLocations)
	}
}

func TestRejoinReplacesIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.RecordJoin(ctx, store.Visit{ConnectionID: "c1", InstanceID: "i1", IP: "1.1.1.1", JoinedAt: now}); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := s.RecordJoin(ctx, store.Visit{ConnectionID: "c1", InstanceID: "i1", IP: "1.1.1.1", Location: strPtr("Oslo, Norway"), Coordinates: &[2]float64{59.9, 10.7}, JoinedAt: now}); err != nil {
		t.Fatalf("second join: %v", err)
	}

	stats, err := s.Stats(ctx, now.Add(-time.Minute), 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalVisits != 1 {
		t.Fatalf("rejoin should not add a visit, got %d", stats.TotalVisits)
	}
	if len(stats.TopLocations) != 1 || stats.TopLocations[0].Location != "Oslo, Norway" {
		t.Fatalf("identity not replaced: %+v", stats.TopLocations)
	}
}

func TestRecordLeaveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	if err := s.RecordJoin(ctx, store.Visit{ConnectionID: "c1", InstanceID: "i1", IP: "1.1.1.1", JoinedAt: base}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.RecordLeave(ctx, "c1", base.Add(10*time.Second)); err != nil {
		t.Fatalf("leave: %v", err)
	}
	// The second leave must not stretch the session.
	if err := s.RecordLeave(ctx, "c1", base.Add(time.Hour)); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	if err := s.RecordLeave(ctx, "unknown", base); err != nil {
		t.Fatalf("leave unknown: %v", err)
	}

	stats, err := s.Stats(ctx, base.Add(-time.Minute), 0)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.AvgSessionSeconds != 10 {
		t.Fatalf("expected 10s session, got %v", stats.AvgSessionSeconds)
	}
	if stats.TopLocations == nil {
		t.Fatalf("top locations must encode as an empty list")
	}
}

func TestNewCreatesSchemaOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visits.db")

	s, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.RecordJoin(context.Background(), store.Visit{ConnectionID: "c1", InstanceID: "i1", IP: "1.1.1.1"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening an existing database keeps its rows.
	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	stats, err := s.Stats(context.Background(), time.Now().Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalVisits != 1 {
		t.Fatalf("expected persisted visit, got %d", stats.TotalVisits)
	}
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/studio-presence/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS visits (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id TEXT    NOT NULL UNIQUE,
	instance_id   TEXT    NOT NULL,
	ip            TEXT    NOT NULL,
	location      TEXT,
	latitude      REAL,
	longitude     REAL,
	joined_at     INTEGER NOT NULL,
	left_at       INTEGER
);

CREATE INDEX IF NOT EXISTS idx_visits_joined ON visits(joined_at);
`

// SQLiteStore implements store.VisitStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.VisitStore = (*SQLiteStore)(nil)

// New opens the database at dbPath and creates the schema if needed.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ApplySchema creates the visit log tables.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordJoin inserts the visit or replaces the identity of an open one.
func (s *SQLiteStore) RecordJoin(ctx context.Context, v store.Visit) error {
	query := `
		INSERT INTO visits (connection_id, instance_id, ip, location, latitude, longitude, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(connection_id) DO UPDATE SET
			ip = excluded.ip,
			location = excluded.location,
			latitude = excluded.latitude,
			longitude = excluded.longitude
	`
	var lat, lon sql.NullFloat64
	if v.Coordinates != nil {
		lat = sql.NullFloat64{Float64: v.Coordinates[0], Valid: true}
		lon = sql.NullFloat64{Float64: v.Coordinates[1], Valid: true}
	}
	var location sql.NullString
	if v.Location != nil {
		location = sql.NullString{String: *v.Location, Valid: true}
	}

	joinedAt := v.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		v.ConnectionID, v.InstanceID, v.IP, location, lat, lon, joinedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

// RecordLeave closes the open visit for connectionID.
func (s *SQLiteStore) RecordLeave(ctx context.Context, connectionID string, at time.Time) error {
	query := `
		UPDATE visits SET left_at = ?
		WHERE connection_id = ? AND left_at IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, at.UnixMilli(), connectionID); err != nil {
		return fmt.Errorf("update visit: %w", err)
	}
	return nil
}

// Stats aggregates the visit log.
func (s *SQLiteStore) Stats(ctx context.Context, since time.Time, top int) (*store.VisitStats, error) {
	stats := &store.VisitStats{Since: since, TopLocations: []store.LocationCount{}}
	sinceMs := since.UnixMilli()

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT ip)
		FROM visits
		WHERE joined_at >= ?
	`, sinceMs).Scan(&stats.TotalVisits, &stats.UniqueIPs)
	if err != nil {
		return nil, fmt.Errorf("count visits: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(left_at - joined_at), 0) / 1000.0
		FROM visits
		WHERE joined_at >= ? AND left_at IS NOT NULL
	`, sinceMs).Scan(&stats.AvgSessionSeconds)
	if err != nil {
		return nil, fmt.Errorf("average session: %w", err)
	}

	if top <= 0 {
		return stats, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT location, COUNT(*) AS n
		FROM visits
		WHERE joined_at >= ? AND location IS NOT NULL AND location != ''
		GROUP BY location
		ORDER BY n DESC, location ASC
		LIMIT ?
	`, sinceMs, top)
	if err != nil {
		return nil, fmt.Errorf("query top locations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lc store.LocationCount
		if err := rows.Scan(&lc.Location, &lc.Visits); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		stats.TopLocations = append(stats.TopLocations, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}

	return stats, nil
}

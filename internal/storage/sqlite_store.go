package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/ambulance-dispatch/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS dispatches (
	request_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	vehicle_id TEXT NOT NULL DEFAULT '',
	origin_lat REAL NOT NULL,
	origin_lon REAL NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dispatches_session ON dispatches(session_id);
`

// SQLiteStore keeps dispatch history in a local SQLite file. Timestamps are
// stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at path (":memory:" for a throwaway one)
// and creates the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}
	// a single connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verify sqlite connection to %q: %w", path, err)
	}
	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) SaveDispatch(ctx context.Context, r *models.DispatchRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO dispatches(request_id, session_id, vehicle_id, origin_lat, origin_lon, status, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?)`,
		r.RequestID, r.SessionID, r.VehicleID, r.Origin.Lat, r.Origin.Lon, r.Status, r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save dispatch %s: %w", r.RequestID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateDispatch(ctx context.Context, r *models.DispatchRecord) error {
	res, err := s.db.ExecContext(ctx, `UPDATE dispatches SET vehicle_id=?, status=?, updated_at=? WHERE request_id=?`, r.VehicleID, r.Status, r.UpdatedAt.UnixMilli(), r.RequestID)
	if err != nil {
		return fmt.Errorf("update dispatch %s: %w", r.RequestID, err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) GetDispatch(ctx context.Context, requestID string) (*models.DispatchRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT request_id, session_id, vehicle_id, origin_lat, origin_lon, status, created_at, updated_at FROM dispatches WHERE request_id=?`, requestID)
	r, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dispatch %s: %w", requestID, err)
	}
	return &r, nil
}

func (s *SQLiteStore) ListDispatches(ctx context.Context, sessionID string) ([]models.DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT request_id, session_id, vehicle_id, origin_lat, origin_lon, status, created_at, updated_at FROM dispatches WHERE session_id=? ORDER BY created_at, request_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer rows.Close()
	var out []models.DispatchRecord
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("list dispatches: scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(sc scanner) (models.DispatchRecord, error) {
	var r models.DispatchRecord
	var created, updated int64
	if err := sc.Scan(&r.RequestID, &r.SessionID, &r.VehicleID, &r.Origin.Lat, &r.Origin.Lon, &r.Status, &created, &updated); err != nil {
		return r, err
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	return r, nil
}

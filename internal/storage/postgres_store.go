package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ambulance-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) SaveDispatch(ctx context.Context, r *models.DispatchRecord) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO dispatches(request_id, session_id, vehicle_id, origin_lat, origin_lon, status, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.RequestID, r.SessionID, r.VehicleID, r.Origin.Lat, r.Origin.Lon, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save dispatch %s: %w", r.RequestID, err)
	}
	return nil
}

func (p *PostgresStore) UpdateDispatch(ctx context.Context, r *models.DispatchRecord) error {
	res, err := p.db.ExecContext(ctx, `UPDATE dispatches SET vehicle_id=$1, status=$2, updated_at=$3 WHERE request_id=$4`, r.VehicleID, r.Status, r.UpdatedAt, r.RequestID)
	if err != nil {
		return fmt.Errorf("update dispatch %s: %w", r.RequestID, err)
	}
	return requireRow(res)
}

func (p *PostgresStore) GetDispatch(ctx context.Context, requestID string) (*models.DispatchRecord, error) {
	row := p.db.QueryRowContext(ctx, `SELECT request_id, session_id, vehicle_id, origin_lat, origin_lon, status, created_at, updated_at FROM dispatches WHERE request_id=$1`, requestID)
	var r models.DispatchRecord
	err := row.Scan(&r.RequestID, &r.SessionID, &r.VehicleID, &r.Origin.Lat, &r.Origin.Lon, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dispatch %s: %w", requestID, err)
	}
	return &r, nil
}

func (p *PostgresStore) ListDispatches(ctx context.Context, sessionID string) ([]models.DispatchRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT request_id, session_id, vehicle_id, origin_lat, origin_lon, status, created_at, updated_at FROM dispatches WHERE session_id=$1 ORDER BY created_at, request_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer rows.Close()
	var out []models.DispatchRecord
	for rows.Next() {
		var r models.DispatchRecord
		if err := rows.Scan(&r.RequestID, &r.SessionID, &r.VehicleID, &r.Origin.Lat, &r.Origin.Lon, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list dispatches: scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

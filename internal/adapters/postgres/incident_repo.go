package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// IncidentRepo implements ports.IncidentRepository. An incident is open while
// its closed_at column is null; at most one open incident exists per trip key.
type IncidentRepo struct {
	db *DB
}

func NewIncidentRepo(db *DB) *IncidentRepo {
	return &IncidentRepo{db: db}
}

func (r *IncidentRepo) Open(ctx context.Context, tripKey string, offlineSince time.Time) (string, error) {
	var id string
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO offline_incidents (trip_key, offline_since, opened_at)
		VALUES ($1, $2, now())
		RETURNING id
	`, tripKey, offlineSince).Scan(&id)
	return id, err
}

func (r *IncidentRepo) Close(ctx context.Context, incidentID string, closedAt time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE offline_incidents SET closed_at = $2 WHERE id = $1 AND closed_at IS NULL
	`, incidentID, closedAt)
	return err
}

// OpenIncidentID returns the id of the open incident for a trip key, or ""
// when none is open.
func (r *IncidentRepo) OpenIncidentID(ctx context.Context, tripKey string) (string, error) {
	var id string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id FROM offline_incidents
		WHERE trip_key = $1 AND closed_at IS NULL
		ORDER BY opened_at DESC
		LIMIT 1
	`, tripKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

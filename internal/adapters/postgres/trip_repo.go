package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rcondori/haultrack/internal/core/domain"
)

func nilIfZeroTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// TripRepo implements ports.TripRepository. Snapshots are upserted whole as
// jsonb; points and events are append-only audit tables.
type TripRepo struct {
	db *DB
}

func NewTripRepo(db *DB) *TripRepo {
	return &TripRepo{db: db}
}

func (r *TripRepo) SaveSnapshot(ctx context.Context, snap *domain.TripSnapshot) error {
	checkpoints, err := json.Marshal(snap.Checkpoints)
	if err != nil {
		return fmt.Errorf("marshal checkpoints: %w", err)
	}
	metrics, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	var lat, lon interface{}
	if snap.CurrentLocation != nil {
		lat = snap.CurrentLocation.Location.Lat
		lon = snap.CurrentLocation.Location.Lon
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO trips (trip_key, connectivity, last_sync_at, progress, completed,
		                   current_location, checkpoints, metrics, history_size, updated_at)
		VALUES ($1, $2, $3, $4, $5,
		        CASE WHEN $6::float8 IS NULL THEN NULL
		             ELSE ST_SetSRID(ST_MakePoint($7, $6), 4326)::geography END,
		        $8, $9, $10, now())
		ON CONFLICT (trip_key) DO UPDATE
		SET connectivity = EXCLUDED.connectivity,
		    last_sync_at = EXCLUDED.last_sync_at,
		    progress = EXCLUDED.progress,
		    completed = EXCLUDED.completed,
		    current_location = EXCLUDED.current_location,
		    checkpoints = EXCLUDED.checkpoints,
		    metrics = EXCLUDED.metrics,
		    history_size = EXCLUDED.history_size,
		    updated_at = now()
	`, snap.TripKey, string(snap.Connectivity), nilIfZeroTime(snap.LastSyncAt), snap.Progress, snap.Completed,
		lat, lon, checkpoints, metrics, snap.HistorySize)
	return err
}

// AppendPoints inserts history points using pgx.Batch. The (trip_key, time)
// conflict target makes replays of the same point a no-op, matching the
// engine's merge-by-timestamp semantics.
func (r *TripRepo) AppendPoints(ctx context.Context, tripKey string, points []domain.HistoricalPoint) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO trip_points (trip_key, time, location, speed_kmh, heading_deg,
			                         precision_meters, altitude_meters, captured_offline, gap_before, trip_status)
			VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (trip_key, time) DO UPDATE
			SET gap_before = EXCLUDED.gap_before, trip_status = EXCLUDED.trip_status
		`, tripKey, p.Timestamp, p.Location.Lon, p.Location.Lat, p.SpeedKmh, p.HeadingDeg,
			p.PrecisionMeters, p.AltitudeMeters, p.CapturedOffline, p.GapBefore, p.TripStatus)
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range points {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

func (r *TripRepo) AppendEvents(ctx context.Context, events []domain.StateEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}

		var lat, lon interface{}
		if ev.Position != nil {
			lat = ev.Position.Lat
			lon = ev.Position.Lon
		}

		batch.Queue(`
			INSERT INTO trip_events (trip_key, event_type, time, location, payload)
			VALUES ($1, $2, $3,
			        CASE WHEN $4::float8 IS NULL THEN NULL
			             ELSE ST_SetSRID(ST_MakePoint($5, $4), 4326)::geography END,
			        $6)
		`, ev.TripKey, string(ev.Type), ev.Timestamp, lat, lon, payload)
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

// History pages through persisted points in chronological order and returns
// the total count alongside the page.
func (r *TripRepo) History(ctx context.Context, tripKey string, offset, limit int) ([]domain.HistoricalPoint, int, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var total int
	if err := r.db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM trip_points WHERE trip_key = $1`, tripKey,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT time,
		       ST_Y(location::geometry) as lat,
		       ST_X(location::geometry) as lon,
		       speed_kmh, heading_deg, precision_meters, altitude_meters,
		       captured_offline, gap_before, COALESCE(trip_status, '')
		FROM trip_points
		WHERE trip_key = $1
		ORDER BY time
		OFFSET $2 LIMIT $3
	`, tripKey, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var points []domain.HistoricalPoint
	for rows.Next() {
		var p domain.HistoricalPoint
		if err := rows.Scan(
			&p.Timestamp, &p.Location.Lat, &p.Location.Lon,
			&p.SpeedKmh, &p.HeadingDeg, &p.PrecisionMeters, &p.AltitudeMeters,
			&p.CapturedOffline, &p.GapBefore, &p.TripStatus,
		); err != nil {
			return nil, 0, err
		}
		points = append(points, p)
	}
	return points, total, rows.Err()
}

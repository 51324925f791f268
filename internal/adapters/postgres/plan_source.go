package postgres

import (
	"context"

	"github.com/rcondori/haultrack/internal/core/domain"
)

// PlanSource implements ports.CheckpointPlanSource against the assignment
// catalog. Checkpoint coordinates are PostGIS geography columns maintained by
// the dispatch back office.
type PlanSource struct {
	db *DB
}

func NewPlanSource(db *DB) *PlanSource {
	return &PlanSource{db: db}
}

// Plan returns the ordered checkpoint list for a trip key. Checkpoints whose
// location was never surveyed are omitted rather than failing the whole plan;
// a degenerate itinerary still lets telemetry accumulate.
func (s *PlanSource) Plan(ctx context.Context, tripKey string) ([]domain.Checkpoint, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT c.checkpoint_type, c.name,
		       ST_Y(c.location::geometry) as lat,
		       ST_X(c.location::geometry) as lon,
		       c.radius_meters, c.sequence_order, c.required
		FROM assignments a
		JOIN assignment_checkpoints c ON c.assignment_id = a.id
		WHERE a.trip_key = $1
		  AND c.location IS NOT NULL
		ORDER BY c.sequence_order
	`, tripKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plan []domain.Checkpoint
	for rows.Next() {
		var cp domain.Checkpoint
		var cpType string
		if err := rows.Scan(
			&cpType, &cp.Name,
			&cp.Position.Lat, &cp.Position.Lon,
			&cp.RadiusMeters, &cp.SequenceOrder, &cp.Required,
		); err != nil {
			return nil, err
		}
		cp.Type = domain.CheckpointType(cpType)
		cp.Status = domain.CheckpointPending
		plan = append(plan, cp)
	}
	return plan, rows.Err()
}

package ports

import (
	"context"
	"time"

	"github.com/rcondori/haultrack/internal/core/domain"
)

// TripRepository is the write-behind audit store. The in-memory engine is
// authoritative; persistence happens after a mutation commits and its failure
// is logged, never propagated back into the state transition.
type TripRepository interface {
	SaveSnapshot(ctx context.Context, snap *domain.TripSnapshot) error
	AppendPoints(ctx context.Context, tripKey string, points []domain.HistoricalPoint) error
	AppendEvents(ctx context.Context, events []domain.StateEvent) error
	History(ctx context.Context, tripKey string, offset, limit int) ([]domain.HistoricalPoint, int, error)
}

// CheckpointPlanSource supplies the ordered checkpoint list for an assignment.
// Checkpoints with missing coordinates are omitted by the implementation; a
// degenerate plan with fewer than four stops is acceptable.
type CheckpointPlanSource interface {
	Plan(ctx context.Context, tripKey string) ([]domain.Checkpoint, error)
}

// IncidentRepository persists offline-escalation incidents opened by the
// watchdog workflow.
type IncidentRepository interface {
	Open(ctx context.Context, tripKey string, offlineSince time.Time) (string, error)
	Close(ctx context.Context, incidentID string, closedAt time.Time) error
	OpenIncidentID(ctx context.Context, tripKey string) (string, error)
}

package usecases

import (
	"fmt"
	"time"

	"github.com/rcondori/haultrack/internal/core/domain"
	"github.com/rcondori/haultrack/internal/pkg/geospatial"
)

// applyArrival moves a checkpoint pending → at_point. Re-registering arrival
// on a checkpoint that is already at_point is a no-op, not an error (operators
// may confirm twice on flaky links); the returned event is nil in that case.
//
// When a position is supplied it must lie within radius × tolerance of the
// checkpoint. The tolerance is looser than the automatic geofence so a manual
// confirmation near, but not exactly inside, the zone is accepted.
func applyArrival(t *domain.Trip, ct domain.CheckpointType, pos *domain.GeoPoint, tolerance float64, now time.Time) (*domain.StateEvent, error) {
	if t.Completed() {
		return nil, fmt.Errorf("%w: trip already completed", domain.ErrInvalidTransition)
	}

	cp := t.Checkpoint(ct)
	if cp == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCheckpointNotFound, ct)
	}

	switch cp.Status {
	case domain.CheckpointCompleted:
		return nil, fmt.Errorf("%w: checkpoint %s already completed", domain.ErrInvalidTransition, ct)
	case domain.CheckpointAtPoint:
		if cp.ArrivalTime != nil {
			return nil, nil
		}
	}

	if pos != nil {
		allowed := cp.RadiusMeters * tolerance
		dist := geospatial.DistanceMeters(pos.Lat, pos.Lon, cp.Position.Lat, cp.Position.Lon)
		if dist > allowed {
			return nil, fmt.Errorf("%w: %.0fm from %s (max %.0fm)",
				domain.ErrTooFarFromCheckpoint, dist, ct, allowed)
		}
	}

	arrived := now
	cp.ArrivalTime = &arrived
	cp.Status = domain.CheckpointAtPoint

	event := &domain.StateEvent{
		TripKey:   t.Key,
		Type:      domain.EventCheckpointArrival,
		Timestamp: now,
		Payload: domain.CheckpointEventPayload{
			CheckpointType: cp.Type,
			CheckpointName: cp.Name,
			SequenceOrder:  cp.SequenceOrder,
		},
	}
	if pos != nil {
		event.Position = pos
	}
	return event, nil
}

// applyDeparture moves a checkpoint at_point → completed. Completing the last
// required checkpoint also closes the trip: TripEndTime is stamped and a
// trip_completed event is appended after the departure event.
func applyDeparture(t *domain.Trip, ct domain.CheckpointType, now time.Time) ([]domain.StateEvent, error) {
	if t.Completed() {
		return nil, fmt.Errorf("%w: trip already completed", domain.ErrInvalidTransition)
	}

	cp := t.Checkpoint(ct)
	if cp == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCheckpointNotFound, ct)
	}

	if cp.Status == domain.CheckpointCompleted {
		return nil, fmt.Errorf("%w: checkpoint %s already completed", domain.ErrInvalidTransition, ct)
	}
	if cp.ArrivalTime == nil {
		return nil, fmt.Errorf("%w: must register arrival before departure", domain.ErrInvalidTransition)
	}

	departed := now
	cp.DepartureTime = &departed
	cp.Status = domain.CheckpointCompleted

	events := []domain.StateEvent{{
		TripKey:   t.Key,
		Type:      domain.EventCheckpointDeparture,
		Timestamp: now,
		Payload: domain.CheckpointEventPayload{
			CheckpointType: cp.Type,
			CheckpointName: cp.Name,
			SequenceOrder:  cp.SequenceOrder,
		},
	}}

	if t.Completed() {
		t.Metrics.TripEndTime = &departed

		var duration float64
		if t.Metrics.TripStartTime != nil {
			duration = departed.Sub(*t.Metrics.TripStartTime).Seconds()
		}
		events = append(events, domain.StateEvent{
			TripKey:   t.Key,
			Type:      domain.EventTripCompleted,
			Timestamp: now,
			Payload: domain.TripCompletedPayload{
				DistanceKm:      t.Metrics.DistanceKm,
				DurationSeconds: duration,
			},
		})
	}

	return events, nil
}

package usecases

import (
	"sort"

	"github.com/rcondori/haultrack/internal/core/domain"
	"github.com/rcondori/haultrack/internal/pkg/geospatial"
)

// EvaluateGeofence determines checkpoint zone membership for a position and
// the actions it makes eligible.
//
// Every non-completed checkpoint is tested, not just the next expected one:
// operators legitimately approach checkpoints out of nominal order in degraded
// conditions. When zones overlap, the first matching checkpoint in list order
// wins. The nearest pending checkpoint (first non-terminal by sequence order)
// is reported separately for progress display and never gates a transition.
func EvaluateGeofence(pos domain.GeoPoint, checkpoints []domain.Checkpoint) *domain.GeofenceStatus {
	status := &domain.GeofenceStatus{}

	for i := range checkpoints {
		cp := &checkpoints[i]
		if cp.Status == domain.CheckpointCompleted {
			continue
		}
		if !inZone(pos, cp) {
			continue
		}

		status.InsideZone = true
		status.MatchedType = cp.Type
		status.MatchedName = cp.Name
		status.CanRegisterArrival = cp.Status == domain.CheckpointPending || cp.ArrivalTime == nil
		status.CanRegisterDeparture = cp.Status == domain.CheckpointAtPoint &&
			cp.ArrivalTime != nil && cp.DepartureTime == nil
		break
	}

	status.NearestPending = nearestPending(pos, checkpoints)
	return status
}

// inZone runs a bounding-box pre-filter before the exact haversine test.
func inZone(pos domain.GeoPoint, cp *domain.Checkpoint) bool {
	minLat, minLon, maxLat, maxLon := geospatial.BoundingBox(cp.Position.Lat, cp.Position.Lon, cp.RadiusMeters)
	if pos.Lat < minLat || pos.Lat > maxLat || pos.Lon < minLon || pos.Lon > maxLon {
		return false
	}
	return geospatial.WithinRadius(pos.Lat, pos.Lon, cp.Position.Lat, cp.Position.Lon, cp.RadiusMeters)
}

func nearestPending(pos domain.GeoPoint, checkpoints []domain.Checkpoint) *domain.NearestPending {
	ordered := make([]*domain.Checkpoint, 0, len(checkpoints))
	for i := range checkpoints {
		if checkpoints[i].Status != domain.CheckpointCompleted {
			ordered = append(ordered, &checkpoints[i])
		}
	}
	if len(ordered) == 0 {
		return nil
	}

	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].SequenceOrder < ordered[j].SequenceOrder
	})

	cp := ordered[0]
	return &domain.NearestPending{
		Type:          cp.Type,
		Name:          cp.Name,
		SequenceOrder: cp.SequenceOrder,
		DistanceKm: geospatial.DistanceKm(
			pos.Lat, pos.Lon,
			cp.Position.Lat, cp.Position.Lon,
		),
	}
}

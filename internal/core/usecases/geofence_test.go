package usecases

import (
	"math"
	"testing"
	"time"

	"github.com/rcondori/haultrack/internal/core/domain"
	"github.com/rcondori/haultrack/internal/pkg/geospatial"
)

func testPlan() []domain.Checkpoint {
	return []domain.Checkpoint{
		{
			Type: domain.CheckpointOrigin, Name: "Bocamina San Miguel",
			Position: domain.GeoPoint{Lat: -19.5836, Lon: -65.7531},
			RadiusMeters: 300, SequenceOrder: 1, Required: true,
			Status: domain.CheckpointPending,
		},
		{
			Type: domain.CheckpointWeighbridgeCoop, Name: "Balanza Cooperativa Unificada",
			Position: domain.GeoPoint{Lat: -19.5702, Lon: -65.7558},
			RadiusMeters: 150, SequenceOrder: 2, Required: true,
			Status: domain.CheckpointPending,
		},
		{
			Type: domain.CheckpointWeighbridgeDest, Name: "Balanza Ingenio",
			Position: domain.GeoPoint{Lat: -19.5489, Lon: -65.7612},
			RadiusMeters: 150, SequenceOrder: 3, Required: true,
			Status: domain.CheckpointPending,
		},
		{
			Type: domain.CheckpointWarehouseDestination, Name: "Almacén Ingenio",
			Position: domain.GeoPoint{Lat: -19.5471, Lon: -65.7630},
			RadiusMeters: 200, SequenceOrder: 4, Required: true,
			Status: domain.CheckpointPending,
		},
	}
}

// latOffset returns the latitude displacement, in degrees, that moves a point
// the given number of meters along a meridian.
func latOffset(meters float64) float64 {
	return meters / 6371000.0 * 180 / math.Pi
}

func TestEvaluateGeofence_InsideZone(t *testing.T) {
	plan := testPlan()
	origin := plan[0].Position

	status := EvaluateGeofence(origin, plan)
	if !status.InsideZone {
		t.Fatal("center of the origin zone must be inside")
	}
	if status.MatchedType != domain.CheckpointOrigin {
		t.Errorf("matched %s, want origin", status.MatchedType)
	}
	if !status.CanRegisterArrival {
		t.Error("pending checkpoint must allow arrival")
	}
	if status.CanRegisterDeparture {
		t.Error("departure requires a prior arrival")
	}
}

// A point exactly on the radius boundary is inside; 0.1 m further is out.
func TestEvaluateGeofence_RadiusBoundary(t *testing.T) {
	center := domain.GeoPoint{Lat: -19.5702, Lon: -65.7558}

	onBoundary := domain.GeoPoint{Lat: center.Lat + latOffset(1000), Lon: center.Lon}
	exact := geospatial.DistanceMeters(onBoundary.Lat, onBoundary.Lon, center.Lat, center.Lon)
	if math.Abs(exact-1000) > 0.001 {
		t.Fatalf("test point landed %f m away, want 1000", exact)
	}

	plan := []domain.Checkpoint{{
		Type: domain.CheckpointWeighbridgeCoop, Name: "Balanza",
		Position: center, RadiusMeters: exact,
		SequenceOrder: 1, Status: domain.CheckpointPending,
	}}
	if !EvaluateGeofence(onBoundary, plan).InsideZone {
		t.Error("point exactly on the boundary must be inside")
	}

	beyond := domain.GeoPoint{Lat: center.Lat + latOffset(1000.1), Lon: center.Lon}
	plan[0].RadiusMeters = 1000
	if EvaluateGeofence(beyond, plan).InsideZone {
		t.Error("point 1000.1 m out must be outside a 1000 m zone")
	}
}

func TestEvaluateGeofence_CompletedZoneIgnored(t *testing.T) {
	plan := testPlan()
	plan[0].Status = domain.CheckpointCompleted

	status := EvaluateGeofence(plan[0].Position, plan)
	if status.InsideZone {
		t.Error("a completed checkpoint's zone must not match")
	}
}

// When zones overlap, the first matching checkpoint in list order wins.
func TestEvaluateGeofence_OverlappingZonesFirstMatchWins(t *testing.T) {
	shared := domain.GeoPoint{Lat: -19.5471, Lon: -65.7630}
	plan := []domain.Checkpoint{
		{
			Type: domain.CheckpointWeighbridgeDest, Name: "Balanza Ingenio",
			Position: shared, RadiusMeters: 500,
			SequenceOrder: 3, Status: domain.CheckpointPending,
		},
		{
			Type: domain.CheckpointWarehouseDestination, Name: "Almacén Ingenio",
			Position: shared, RadiusMeters: 500,
			SequenceOrder: 4, Status: domain.CheckpointPending,
		},
	}

	status := EvaluateGeofence(shared, plan)
	if status.MatchedType != domain.CheckpointWeighbridgeDest {
		t.Errorf("matched %s, want first listed checkpoint", status.MatchedType)
	}
}

func TestEvaluateGeofence_DepartureEligibility(t *testing.T) {
	plan := testPlan()
	arrived := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	plan[0].Status = domain.CheckpointAtPoint
	plan[0].ArrivalTime = &arrived

	status := EvaluateGeofence(plan[0].Position, plan)
	if !status.CanRegisterDeparture {
		t.Error("arrived checkpoint must allow departure")
	}
}

func TestEvaluateGeofence_NearestPending(t *testing.T) {
	plan := testPlan()
	plan[0].Status = domain.CheckpointCompleted

	// Halfway to the cooperative weighbridge, well outside every zone.
	pos := domain.GeoPoint{Lat: -19.5769, Lon: -65.7545}
	status := EvaluateGeofence(pos, plan)

	if status.InsideZone {
		t.Fatal("position should be outside all zones")
	}
	np := status.NearestPending
	if np == nil {
		t.Fatal("nearest pending missing")
	}
	if np.Type != domain.CheckpointWeighbridgeCoop {
		t.Errorf("nearest pending = %s, want cooperative weighbridge", np.Type)
	}
	if np.DistanceKm <= 0 || np.DistanceKm > 2 {
		t.Errorf("implausible distance %f km", np.DistanceKm)
	}
}

func TestEvaluateGeofence_AllCompleted(t *testing.T) {
	plan := testPlan()
	for i := range plan {
		plan[i].Status = domain.CheckpointCompleted
	}

	status := EvaluateGeofence(plan[0].Position, plan)
	if status.InsideZone || status.NearestPending != nil {
		t.Error("a finished itinerary has no active zones")
	}
}

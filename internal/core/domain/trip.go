package domain

import (
	"time"
)

// CheckpointType identifies one of the fixed stops of a haul itinerary.
type CheckpointType string

const (
	CheckpointOrigin               CheckpointType = "origin"
	CheckpointWeighbridgeCoop      CheckpointType = "weighbridge_cooperative"
	CheckpointWeighbridgeDest      CheckpointType = "weighbridge_destination"
	CheckpointWarehouseDestination CheckpointType = "warehouse_destination"
)

// CheckpointStatus is the per-checkpoint state machine:
// pending → at_point → completed. Completed is terminal.
type CheckpointStatus string

const (
	CheckpointPending   CheckpointStatus = "pending"
	CheckpointAtPoint   CheckpointStatus = "at_point"
	CheckpointCompleted CheckpointStatus = "completed"
)

// Connectivity is derived from the age of the last confirmed sync,
// recomputed on every read.
type Connectivity string

const (
	ConnectivityOnline  Connectivity = "online"
	ConnectivityOffline Connectivity = "offline"
)

// Checkpoint is a geofenced stop the haul must pass through.
type Checkpoint struct {
	Type          CheckpointType   `json:"type"`
	Name          string           `json:"name"`
	Position      GeoPoint         `json:"position"`
	RadiusMeters  float64          `json:"radius_meters"`
	SequenceOrder int              `json:"sequence_order"`
	Required      bool             `json:"required"`
	Status        CheckpointStatus `json:"status"`
	ArrivalTime   *time.Time       `json:"arrival_time,omitempty"`
	DepartureTime *time.Time       `json:"departure_time,omitempty"`
}

// Position is a single GPS telemetry sample.
type Position struct {
	Location        GeoPoint  `json:"location"`
	Timestamp       time.Time `json:"timestamp"`
	PrecisionMeters float64   `json:"precision_meters,omitempty"`
	SpeedKmh        float64   `json:"speed_kmh"`
	HeadingDeg      float64   `json:"heading_deg"`
	AltitudeMeters  float64   `json:"altitude_meters,omitempty"`
}

// HistoricalPoint is a position sample that has been folded into the trip history.
type HistoricalPoint struct {
	Position
	CapturedOffline bool `json:"captured_offline"`
	// GapBefore marks that the interval since the preceding sample exceeded
	// the offline threshold; the path across it is unknown.
	GapBefore  bool   `json:"gap_before"`
	TripStatus string `json:"trip_status"`
}

// TripMetrics are derived from the trip history. The cached value must always
// equal a full recompute over the ordered history.
type TripMetrics struct {
	DistanceKm         float64    `json:"distance_km"`
	TimeMovingSeconds  float64    `json:"time_moving_seconds"`
	TimeStoppedSeconds float64    `json:"time_stopped_seconds"`
	MaxSpeedKmh        float64    `json:"max_speed_kmh"`
	AvgSpeedKmh        float64    `json:"avg_speed_kmh"`
	TripStartTime      *time.Time `json:"trip_start_time,omitempty"`
	TripEndTime        *time.Time `json:"trip_end_time,omitempty"`
}

// Trip is the aggregate root: the tracked lifecycle of one vehicle executing
// one haul assignment. Mutation must be serialized per trip key.
type Trip struct {
	Key             string            `json:"key"`
	CurrentLocation *Position         `json:"current_location,omitempty"`
	LastSyncAt      time.Time         `json:"last_sync_at"`
	Checkpoints     []Checkpoint      `json:"checkpoints"`
	History         []HistoricalPoint `json:"history"`
	Metrics         TripMetrics       `json:"metrics"`
	Events          []StateEvent      `json:"events"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Checkpoint returns the checkpoint of the given type, or nil.
func (t *Trip) Checkpoint(ct CheckpointType) *Checkpoint {
	for i := range t.Checkpoints {
		if t.Checkpoints[i].Type == ct {
			return &t.Checkpoints[i]
		}
	}
	return nil
}

// Completed reports whether every required checkpoint has been completed.
// A trip with no required checkpoints is never considered complete.
func (t *Trip) Completed() bool {
	required := 0
	for i := range t.Checkpoints {
		if !t.Checkpoints[i].Required {
			continue
		}
		required++
		if t.Checkpoints[i].Status != CheckpointCompleted {
			return false
		}
	}
	return required > 0
}

// ProgressLabel describes the checkpoint progress at a moment in time, used to
// tag history points for later grouping.
func (t *Trip) ProgressLabel() string {
	for i := range t.Checkpoints {
		cp := &t.Checkpoints[i]
		switch cp.Status {
		case CheckpointAtPoint:
			return "at_" + string(cp.Type)
		case CheckpointPending:
			return "en_route_to_" + string(cp.Type)
		}
	}
	if len(t.Checkpoints) == 0 {
		return "untracked"
	}
	return "completed"
}

// GeofenceStatus reports zone membership and eligible actions for a position.
type GeofenceStatus struct {
	InsideZone           bool            `json:"inside_zone"`
	MatchedType          CheckpointType  `json:"matched_type,omitempty"`
	MatchedName          string          `json:"matched_name,omitempty"`
	CanRegisterArrival   bool            `json:"can_register_arrival"`
	CanRegisterDeparture bool            `json:"can_register_departure"`
	NearestPending       *NearestPending `json:"nearest_pending,omitempty"`
}

// NearestPending is informational progress data: the first non-terminal
// checkpoint by sequence order and the distance to it.
type NearestPending struct {
	Type          CheckpointType `json:"type"`
	Name          string         `json:"name"`
	SequenceOrder int            `json:"sequence_order"`
	DistanceKm    float64        `json:"distance_km"`
}

// TripSnapshot is the consistent public read model of a trip.
type TripSnapshot struct {
	TripKey         string          `json:"trip_key"`
	CurrentLocation *Position       `json:"current_location,omitempty"`
	Connectivity    Connectivity    `json:"connectivity"`
	LastSyncAt      time.Time       `json:"last_sync_at"`
	Checkpoints     []Checkpoint    `json:"checkpoints"`
	Metrics         TripMetrics     `json:"metrics"`
	Progress        string          `json:"progress"`
	HistorySize     int             `json:"history_size"`
	Geofence        *GeofenceStatus `json:"geofence,omitempty"`
	Completed       bool            `json:"completed"`
}

// SyncReport summarizes an offline batch reconciliation.
type SyncReport struct {
	TripKey  string   `json:"trip_key"`
	Synced   int      `json:"synced"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
	SyncedAt time.Time `json:"synced_at"`
}

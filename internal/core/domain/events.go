package domain

import "time"

// StateEventType tags the kind of a trip state event.
type StateEventType string

const (
	EventLocationUpdate        StateEventType = "location_update"
	EventCheckpointArrival     StateEventType = "checkpoint_arrival"
	EventCheckpointDeparture   StateEventType = "checkpoint_departure"
	EventCommunicationLoss     StateEventType = "communication_loss"
	EventCommunicationRestored StateEventType = "communication_restored"
	EventTripCompleted         StateEventType = "trip_completed"
)

// StateEvent is one entry of a trip's append-only audit trail. Payload holds
// the typed per-kind payload struct below, never a free-form map.
type StateEvent struct {
	TripKey   string         `json:"trip_key"`
	Type      StateEventType `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Position  *GeoPoint      `json:"position,omitempty"`
	Payload   any            `json:"payload,omitempty"`
}

// LocationUpdatePayload accompanies location_update events.
type LocationUpdatePayload struct {
	SpeedKmh        float64 `json:"speed_kmh"`
	HeadingDeg      float64 `json:"heading_deg"`
	CapturedOffline bool    `json:"captured_offline,omitempty"`
}

// CheckpointEventPayload accompanies checkpoint_arrival and
// checkpoint_departure events.
type CheckpointEventPayload struct {
	CheckpointType CheckpointType `json:"checkpoint_type"`
	CheckpointName string         `json:"checkpoint_name"`
	SequenceOrder  int            `json:"sequence_order"`
}

// CommunicationLossPayload accompanies communication_loss events.
type CommunicationLossPayload struct {
	GapSeconds float64 `json:"gap_seconds"`
}

// CommunicationRestoredPayload accompanies communication_restored events.
type CommunicationRestoredPayload struct {
	OfflineSeconds  float64 `json:"offline_seconds"`
	RecoveredPoints int     `json:"recovered_points"`
}

// TripCompletedPayload accompanies trip_completed events.
type TripCompletedPayload struct {
	DistanceKm      float64 `json:"distance_km"`
	DurationSeconds float64 `json:"duration_seconds"`
}

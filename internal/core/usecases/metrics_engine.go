package usecases

import (
	"github.com/rcondori/haultrack/internal/core/domain"
	"github.com/rcondori/haultrack/internal/pkg/geospatial"
)

// ComputeMetrics derives trip metrics by folding over consecutive pairs of a
// chronologically sorted point sequence. Pairs spanning a flagged
// communication gap contribute zero distance and zero time: the path across
// an unobserved interval is unknown and must not be approximated as a
// straight line.
//
// The fold is deterministic and idempotent; offline reconciliation relies on
// that by always recomputing from the full history instead of patching
// incrementally. TripEndTime is owned by the checkpoint state machine and is
// left unset here.
func ComputeMetrics(points []domain.HistoricalPoint, movingThresholdKmh float64) domain.TripMetrics {
	var m domain.TripMetrics
	if len(points) == 0 {
		return m
	}

	start := points[0].Timestamp
	m.TripStartTime = &start
	m.MaxSpeedKmh = points[0].SpeedKmh

	for i := 1; i < len(points); i++ {
		prev, curr := &points[i-1], &points[i]
		advanceMetrics(&m, prev, curr, movingThresholdKmh)
	}

	finalizeAverage(&m)
	return m
}

// advanceMetrics applies one fold step for the pair (prev, curr). It is the
// incremental path used by live ingestion and must agree with ComputeMetrics
// replayed over the same sequence.
func advanceMetrics(m *domain.TripMetrics, prev, curr *domain.HistoricalPoint, movingThresholdKmh float64) {
	if curr.SpeedKmh > m.MaxSpeedKmh {
		m.MaxSpeedKmh = curr.SpeedKmh
	}

	if curr.GapBefore {
		return
	}

	m.DistanceKm += geospatial.DistanceKm(
		prev.Location.Lat, prev.Location.Lon,
		curr.Location.Lat, curr.Location.Lon,
	)

	elapsed := curr.Timestamp.Sub(prev.Timestamp).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	if curr.SpeedKmh > movingThresholdKmh {
		m.TimeMovingSeconds += elapsed
	} else {
		m.TimeStoppedSeconds += elapsed
	}
}

// finalizeAverage recomputes the derived average speed.
func finalizeAverage(m *domain.TripMetrics) {
	if m.TimeMovingSeconds > 0 {
		m.AvgSpeedKmh = m.DistanceKm / m.TimeMovingSeconds * 3600
	} else {
		m.AvgSpeedKmh = 0
	}
}

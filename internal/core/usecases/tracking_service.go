package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/rcondori/haultrack/internal/core/domain"
	"github.com/rcondori/haultrack/internal/core/ports"
	"github.com/rcondori/haultrack/internal/pkg/geospatial"
)

// TrackingConfig carries the tunables of the trip engine. Zero values are
// replaced with the operational defaults used across the fleet.
type TrackingConfig struct {
	// OfflineThreshold is the silence after which a unit is considered
	// offline and a gap is recorded between consecutive points.
	OfflineThreshold time.Duration

	// MovingSpeedKmh separates moving time from stopped time.
	MovingSpeedKmh float64

	// ArrivalToleranceFactor widens the checkpoint radius for manual
	// arrival confirmations.
	ArrivalToleranceFactor float64
}

func (c TrackingConfig) withDefaults() TrackingConfig {
	if c.OfflineThreshold <= 0 {
		c.OfflineThreshold = 40 * time.Second
	}
	if c.MovingSpeedKmh <= 0 {
		c.MovingSpeedKmh = 1.0
	}
	if c.ArrivalToleranceFactor <= 0 {
		c.ArrivalToleranceFactor = 1.5
	}
	return c
}

// TrackingService is the single writer for trip state. Every mutation of a
// trip — live pings, offline batches, checkpoint transitions — goes through
// here and is serialized per trip key, so state stays deterministic no matter
// how updates interleave across trips.
//
// Persistence and event fanout are write-behind: the in-memory trip is the
// authority, and repository or publisher failures are logged and absorbed,
// never surfaced to the caller and never rolled back.
type TrackingService struct {
	cfg       TrackingConfig
	registry  *tripRegistry
	repo      ports.TripRepository
	plans     ports.CheckpointPlanSource
	publisher ports.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewTrackingService(
	cfg TrackingConfig,
	repo ports.TripRepository,
	plans ports.CheckpointPlanSource,
	publisher ports.EventPublisher,
	logger *slog.Logger,
) *TrackingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrackingService{
		cfg:       cfg.withDefaults(),
		registry:  newTripRegistry(),
		repo:      repo,
		plans:     plans,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// InitTrip registers a trip with an explicit checkpoint plan before any
// telemetry arrives. When checkpoints is empty the configured plan source is
// consulted. Re-initializing an existing trip is a no-op that returns the
// current snapshot.
func (s *TrackingService) InitTrip(ctx context.Context, tripKey string, checkpoints []domain.Checkpoint) (*domain.TripSnapshot, error) {
	if tripKey == "" {
		return nil, fmt.Errorf("%w: empty trip key", domain.ErrTripNotFound)
	}

	if len(checkpoints) == 0 && s.plans != nil {
		plan, err := s.plans.Plan(ctx, tripKey)
		if err != nil {
			s.logger.Warn("checkpoint plan lookup failed", "trip_key", tripKey, "error", err)
		} else {
			checkpoints = plan
		}
	}

	entry, _ := s.registry.getOrCreate(tripKey)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.trip == nil {
		entry.trip = s.newTrip(tripKey, checkpoints)
		s.commit(ctx, entry.trip, nil, nil)
	}
	return s.buildSnapshot(entry.trip), nil
}

// IngestLiveLocation applies a real-time position to a trip, creating the
// trip on first contact. The position's coordinates are validated before any
// state is touched; an invalid point leaves the trip exactly as it was.
func (s *TrackingService) IngestLiveLocation(ctx context.Context, tripKey string, pos domain.Position) (*domain.TripSnapshot, error) {
	if tripKey == "" {
		return nil, fmt.Errorf("%w: empty trip key", domain.ErrTripNotFound)
	}
	if err := validatePosition(pos); err != nil {
		return nil, err
	}

	entry, _ := s.registry.getOrCreate(tripKey)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.trip == nil {
		entry.trip = s.newTrip(tripKey, s.planFor(ctx, tripKey))
	}
	trip := entry.trip

	before := len(trip.History)
	events := s.applyPoint(trip, pos, false)

	var appended []domain.HistoricalPoint
	if len(trip.History) > before {
		for i := len(trip.History) - 1; i >= 0; i-- {
			if trip.History[i].Position.Timestamp.Equal(pos.Timestamp) {
				appended = trip.History[i : i+1]
				break
			}
		}
	}
	s.commit(ctx, trip, appended, events)
	return s.buildSnapshot(trip), nil
}

// ReconcileOfflineBatch merges positions recorded while a unit had no
// connectivity. Points may arrive in any order and may overlap points already
// known; the merged history is re-sorted, gap flags are re-derived across the
// whole timeline and metrics are recomputed from scratch, so submitting the
// same batch twice converges to the same state.
//
// Invalid points are skipped and reported, not fatal: field devices buffer
// whatever the GPS chip handed them.
func (s *TrackingService) ReconcileOfflineBatch(ctx context.Context, tripKey string, points []domain.Position) (*domain.SyncReport, error) {
	if tripKey == "" {
		return nil, fmt.Errorf("%w: empty trip key", domain.ErrTripNotFound)
	}
	if len(points) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	entry := s.registry.get(tripKey)
	if entry == nil {
		// A batch for an unknown key only creates the trip when a plan
		// exists for it; otherwise the upload is rejected outright.
		plan := s.planFor(ctx, tripKey)
		if len(plan) == 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripKey)
		}
		entry, _ = s.registry.getOrCreate(tripKey)
		entry.mu.Lock()
		if entry.trip == nil {
			entry.trip = s.newTrip(tripKey, plan)
		}
	} else {
		entry.mu.Lock()
		if entry.trip == nil {
			entry.trip = s.newTrip(tripKey, s.planFor(ctx, tripKey))
		}
	}
	defer entry.mu.Unlock()
	trip := entry.trip

	now := s.now()
	report := &domain.SyncReport{TripKey: tripKey, SyncedAt: now}

	lastSyncBefore := trip.LastSyncAt
	wasOffline := !lastSyncBefore.IsZero() &&
		DeriveConnectivity(lastSyncBefore, now, s.cfg.OfflineThreshold) == domain.ConnectivityOffline

	valid := make([]domain.Position, 0, len(points))
	for i, p := range points {
		if err := validatePosition(p); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("point %d: %v", i, err))
			continue
		}
		valid = append(valid, p)
	}

	merged, inserted := s.mergePoints(trip, valid, true)
	report.Synced = len(inserted)

	var events []domain.StateEvent
	var appended []domain.HistoricalPoint
	if report.Synced > 0 {
		trip.History = merged
		recomputeGaps(trip.History, s.cfg.OfflineThreshold)
		s.relabelHistory(trip)

		endTime := trip.Metrics.TripEndTime
		trip.Metrics = ComputeMetrics(trip.History, s.cfg.MovingSpeedKmh)
		trip.Metrics.TripEndTime = endTime

		last := trip.History[len(trip.History)-1]
		trip.CurrentLocation = &last.Position
		if last.Position.Timestamp.After(trip.LastSyncAt) {
			trip.LastSyncAt = last.Position.Timestamp
		}

		// Persist the recovered points as re-flagged, not as they arrived.
		fresh := make(map[int64]struct{}, len(inserted))
		for _, p := range inserted {
			fresh[p.Position.Timestamp.UnixNano()] = struct{}{}
		}
		for _, h := range trip.History {
			if _, ok := fresh[h.Position.Timestamp.UnixNano()]; ok {
				appended = append(appended, h)
			}
		}

		if wasOffline {
			events = append(events, domain.StateEvent{
				TripKey:   tripKey,
				Type:      domain.EventCommunicationRestored,
				Timestamp: now,
				Position:  &last.Position.Location,
				Payload: domain.CommunicationRestoredPayload{
					OfflineSeconds:  now.Sub(lastSyncBefore).Seconds(),
					RecoveredPoints: report.Synced,
				},
			})
		}
		events = append(events, domain.StateEvent{
			TripKey:   tripKey,
			Type:      domain.EventLocationUpdate,
			Timestamp: last.Position.Timestamp,
			Position:  &last.Position.Location,
			Payload: domain.LocationUpdatePayload{
				SpeedKmh:        last.Position.SpeedKmh,
				HeadingDeg:      last.Position.HeadingDeg,
				CapturedOffline: true,
			},
		})
		trip.Events = append(trip.Events, events...)
	}

	// The device is online right now: it made contact even if every point in
	// the batch was a replay.
	if now.After(trip.LastSyncAt) {
		trip.LastSyncAt = now
	}

	s.commit(ctx, trip, appended, events)
	return report, nil
}

// RegisterCheckpointArrival confirms the unit reached a checkpoint. When pos
// is non-nil it must lie within the checkpoint radius widened by the arrival
// tolerance factor.
func (s *TrackingService) RegisterCheckpointArrival(ctx context.Context, tripKey string, ct domain.CheckpointType, pos *domain.GeoPoint) (*domain.TripSnapshot, error) {
	entry := s.registry.get(tripKey)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripKey)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.trip == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripKey)
	}

	event, err := applyArrival(entry.trip, ct, pos, s.cfg.ArrivalToleranceFactor, s.now())
	if err != nil {
		return nil, err
	}
	if event != nil {
		entry.trip.Events = append(entry.trip.Events, *event)
		s.commit(ctx, entry.trip, nil, []domain.StateEvent{*event})
	}
	return s.buildSnapshot(entry.trip), nil
}

// RegisterCheckpointDeparture confirms the unit left a checkpoint it had
// arrived at. Departing the final required checkpoint completes the trip.
func (s *TrackingService) RegisterCheckpointDeparture(ctx context.Context, tripKey string, ct domain.CheckpointType) (*domain.TripSnapshot, error) {
	entry := s.registry.get(tripKey)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripKey)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.trip == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripKey)
	}

	events, err := applyDeparture(entry.trip, ct, s.now())
	if err != nil {
		return nil, err
	}
	entry.trip.Events = append(entry.trip.Events, events...)
	s.commit(ctx, entry.trip, nil, events)
	return s.buildSnapshot(entry.trip), nil
}

// GetSnapshot returns the current state of a trip.
func (s *TrackingService) GetSnapshot(_ context.Context, tripKey string) (*domain.TripSnapshot, error) {
	entry := s.registry.get(tripKey)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripKey)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.trip == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripKey)
	}
	return s.buildSnapshot(entry.trip), nil
}

// ListSnapshots returns a snapshot per known trip, ordered by trip key.
func (s *TrackingService) ListSnapshots(_ context.Context) []*domain.TripSnapshot {
	keys := s.registry.keys()
	sort.Strings(keys)

	out := make([]*domain.TripSnapshot, 0, len(keys))
	for _, key := range keys {
		entry := s.registry.get(key)
		if entry == nil {
			continue
		}
		entry.mu.Lock()
		if entry.trip != nil {
			out = append(out, s.buildSnapshot(entry.trip))
		}
		entry.mu.Unlock()
	}
	return out
}

// History pages through a trip's recorded points, newest last.
func (s *TrackingService) History(ctx context.Context, tripKey string, offset, limit int) ([]domain.HistoricalPoint, int, error) {
	entry := s.registry.get(tripKey)
	if entry == nil {
		return nil, 0, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripKey)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.trip == nil {
		return nil, 0, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripKey)
	}

	hist := entry.trip.History
	total := len(hist)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.HistoricalPoint{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	page := make([]domain.HistoricalPoint, end-offset)
	copy(page, hist[offset:end])
	return page, total, nil
}

// Events pages through a trip's state event trail, oldest first.
func (s *TrackingService) Events(_ context.Context, tripKey string, offset, limit int) ([]domain.StateEvent, int, error) {
	entry := s.registry.get(tripKey)
	if entry == nil {
		return nil, 0, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripKey)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.trip == nil {
		return nil, 0, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripKey)
	}

	evs := entry.trip.Events
	total := len(evs)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.StateEvent{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	page := make([]domain.StateEvent, end-offset)
	copy(page, evs[offset:end])
	return page, total, nil
}

// applyPoint appends a single position to the trip, updating metrics
// incrementally when the point extends the timeline and falling back to a
// full recompute when it lands out of order. It returns the state events the
// point produced. Caller holds the trip entry lock.
func (s *TrackingService) applyPoint(trip *domain.Trip, pos domain.Position, offline bool) []domain.StateEvent {
	var events []domain.StateEvent

	point := domain.HistoricalPoint{
		Position:        pos,
		CapturedOffline: offline,
		TripStatus:      trip.ProgressLabel(),
	}

	n := len(trip.History)
	switch {
	case n == 0:
		trip.History = append(trip.History, point)
		trip.Metrics = ComputeMetrics(trip.History, s.cfg.MovingSpeedKmh)

	case pos.Timestamp.After(trip.History[n-1].Position.Timestamp):
		prev := trip.History[n-1]
		gap := pos.Timestamp.Sub(prev.Position.Timestamp)
		if gap > s.cfg.OfflineThreshold {
			point.GapBefore = true
			events = append(events, domain.StateEvent{
				TripKey:   trip.Key,
				Type:      domain.EventCommunicationLoss,
				Timestamp: pos.Timestamp,
				Position:  &pos.Location,
				Payload:   domain.CommunicationLossPayload{GapSeconds: gap.Seconds()},
			})
		}
		trip.History = append(trip.History, point)
		advanceMetrics(&trip.Metrics, &prev, &point, s.cfg.MovingSpeedKmh)
		finalizeAverage(&trip.Metrics)

	default:
		// Out-of-order or duplicate delivery: merge it in and recompute,
		// exactly as a one-point offline batch would.
		trip.History, _ = s.mergePoints(trip, []domain.Position{pos}, offline)
		recomputeGaps(trip.History, s.cfg.OfflineThreshold)
		endTime := trip.Metrics.TripEndTime
		trip.Metrics = ComputeMetrics(trip.History, s.cfg.MovingSpeedKmh)
		trip.Metrics.TripEndTime = endTime
	}

	last := &trip.History[len(trip.History)-1]
	trip.CurrentLocation = &last.Position
	if pos.Timestamp.After(trip.LastSyncAt) {
		trip.LastSyncAt = pos.Timestamp
	}

	events = append(events, domain.StateEvent{
		TripKey:   trip.Key,
		Type:      domain.EventLocationUpdate,
		Timestamp: pos.Timestamp,
		Position:  &pos.Location,
		Payload: domain.LocationUpdatePayload{
			SpeedKmh:        pos.SpeedKmh,
			HeadingDeg:      pos.HeadingDeg,
			CapturedOffline: offline,
		},
	})
	trip.Events = append(trip.Events, events...)
	return events
}

// mergePoints inserts positions into the trip history in timestamp order,
// dropping points whose timestamp is already present so replays converge.
// The second return value holds the points actually inserted.
func (s *TrackingService) mergePoints(trip *domain.Trip, points []domain.Position, offline bool) (merged, inserted []domain.HistoricalPoint) {
	seen := make(map[int64]struct{}, len(trip.History)+len(points))
	for _, h := range trip.History {
		seen[h.Position.Timestamp.UnixNano()] = struct{}{}
	}

	merged = make([]domain.HistoricalPoint, len(trip.History), len(trip.History)+len(points))
	copy(merged, trip.History)

	for _, p := range points {
		key := p.Timestamp.UnixNano()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		point := domain.HistoricalPoint{
			Position:        p,
			CapturedOffline: offline,
		}
		merged = append(merged, point)
		inserted = append(inserted, point)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Position.Timestamp.Before(merged[j].Position.Timestamp)
	})
	return merged, inserted
}

// relabelHistory restamps the trip-status label carried by each point. After
// a merge the status at capture time is approximated from checkpoint arrival
// and departure times, which are the only timeline anchors available.
func (s *TrackingService) relabelHistory(trip *domain.Trip) {
	for i := range trip.History {
		if trip.History[i].TripStatus == "" {
			trip.History[i].TripStatus = statusAt(trip, trip.History[i].Position.Timestamp)
		}
	}
}

func (s *TrackingService) planFor(ctx context.Context, tripKey string) []domain.Checkpoint {
	if s.plans == nil {
		return nil
	}
	plan, err := s.plans.Plan(ctx, tripKey)
	if err != nil {
		s.logger.Warn("checkpoint plan lookup failed", "trip_key", tripKey, "error", err)
		return nil
	}
	return plan
}

func (s *TrackingService) newTrip(key string, checkpoints []domain.Checkpoint) *domain.Trip {
	cps := make([]domain.Checkpoint, len(checkpoints))
	copy(cps, checkpoints)
	for i := range cps {
		if cps[i].Status == "" {
			cps[i].Status = domain.CheckpointPending
		}
	}
	sort.SliceStable(cps, func(i, j int) bool {
		return cps[i].SequenceOrder < cps[j].SequenceOrder
	})
	return &domain.Trip{
		Key:         key,
		Checkpoints: cps,
		CreatedAt:   s.now(),
	}
}

func (s *TrackingService) buildSnapshot(trip *domain.Trip) *domain.TripSnapshot {
	snap := &domain.TripSnapshot{
		TripKey:         trip.Key,
		CurrentLocation: trip.CurrentLocation,
		Connectivity:    DeriveConnectivity(trip.LastSyncAt, s.now(), s.cfg.OfflineThreshold),
		LastSyncAt:      trip.LastSyncAt,
		Checkpoints:     append([]domain.Checkpoint(nil), trip.Checkpoints...),
		Metrics:         trip.Metrics,
		Progress:        trip.ProgressLabel(),
		HistorySize:     len(trip.History),
		Completed:       trip.Completed(),
	}
	if trip.CurrentLocation != nil {
		snap.Geofence = EvaluateGeofence(trip.CurrentLocation.Location, trip.Checkpoints)
	}
	return snap
}

// commit persists the trip and fans out its events. Both sides are best
// effort: the in-memory state already advanced and a storage or broker
// hiccup must not undo a mutation the caller was told succeeded.
func (s *TrackingService) commit(ctx context.Context, trip *domain.Trip, newPoints []domain.HistoricalPoint, events []domain.StateEvent) {
	snap := s.buildSnapshot(trip)

	if s.repo != nil {
		if err := s.repo.SaveSnapshot(ctx, snap); err != nil {
			s.logger.Warn("trip snapshot persist failed", "trip_key", trip.Key, "error", err)
		}
		if len(newPoints) > 0 {
			if err := s.repo.AppendPoints(ctx, trip.Key, newPoints); err != nil {
				s.logger.Warn("trip points persist failed", "trip_key", trip.Key, "error", err)
			}
		}
		if len(events) > 0 {
			if err := s.repo.AppendEvents(ctx, events); err != nil {
				s.logger.Warn("trip events persist failed", "trip_key", trip.Key, "error", err)
			}
		}
	}
	if s.publisher != nil {
		for i := range events {
			if err := s.publisher.PublishStateEvent(ctx, &events[i]); err != nil {
				s.logger.Warn("state event publish failed",
					"trip_key", trip.Key, "event_type", events[i].Type, "error", err)
			}
		}
		if err := s.publisher.PublishSnapshot(ctx, snap); err != nil {
			s.logger.Warn("snapshot publish failed", "trip_key", trip.Key, "error", err)
		}
	}
}

// recomputeGaps re-derives the gap flag on every point from scratch. A batch
// can fill a hole that previously looked like lost communication, so flags
// set by earlier passes are not trusted.
func recomputeGaps(history []domain.HistoricalPoint, threshold time.Duration) {
	for i := range history {
		if i == 0 {
			history[i].GapBefore = false
			continue
		}
		gap := history[i].Position.Timestamp.Sub(history[i-1].Position.Timestamp)
		history[i].GapBefore = gap > threshold
	}
}

// statusAt reconstructs the trip progress label at a past instant from
// checkpoint timestamps.
func statusAt(trip *domain.Trip, at time.Time) string {
	for i := range trip.Checkpoints {
		cp := &trip.Checkpoints[i]
		if cp.ArrivalTime == nil || cp.ArrivalTime.After(at) {
			return "en_route_to_" + string(cp.Type)
		}
		if cp.DepartureTime == nil || cp.DepartureTime.After(at) {
			return "at_" + string(cp.Type)
		}
	}
	if len(trip.Checkpoints) > 0 {
		return "completed"
	}
	return "untracked"
}

func validatePosition(p domain.Position) error {
	if !geospatial.ValidCoordinate(p.Location.Lat, p.Location.Lon) {
		return fmt.Errorf("%w: lat=%v lon=%v", domain.ErrInvalidLocation, p.Location.Lat, p.Location.Lon)
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", domain.ErrInvalidLocation)
	}
	if p.SpeedKmh < 0 || p.PrecisionMeters < 0 {
		return fmt.Errorf("%w: negative speed or precision", domain.ErrInvalidLocation)
	}
	return nil
}

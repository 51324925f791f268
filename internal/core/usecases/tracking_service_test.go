package usecases

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/rcondori/haultrack/internal/core/domain"
)

type mockTripRepo struct {
	saveSnapshotFn func(ctx context.Context, snap *domain.TripSnapshot) error
	appendPointsFn func(ctx context.Context, tripKey string, points []domain.HistoricalPoint) error
	appendEventsFn func(ctx context.Context, events []domain.StateEvent) error
	historyFn      func(ctx context.Context, tripKey string, offset, limit int) ([]domain.HistoricalPoint, int, error)
}

func (m *mockTripRepo) SaveSnapshot(ctx context.Context, snap *domain.TripSnapshot) error {
	if m.saveSnapshotFn != nil {
		return m.saveSnapshotFn(ctx, snap)
	}
	return nil
}

func (m *mockTripRepo) AppendPoints(ctx context.Context, tripKey string, points []domain.HistoricalPoint) error {
	if m.appendPointsFn != nil {
		return m.appendPointsFn(ctx, tripKey, points)
	}
	return nil
}

func (m *mockTripRepo) AppendEvents(ctx context.Context, events []domain.StateEvent) error {
	if m.appendEventsFn != nil {
		return m.appendEventsFn(ctx, events)
	}
	return nil
}

func (m *mockTripRepo) History(ctx context.Context, tripKey string, offset, limit int) ([]domain.HistoricalPoint, int, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, tripKey, offset, limit)
	}
	return nil, 0, nil
}

type mockPlanSource struct {
	planFn func(ctx context.Context, tripKey string) ([]domain.Checkpoint, error)
}

func (m *mockPlanSource) Plan(ctx context.Context, tripKey string) ([]domain.Checkpoint, error) {
	if m.planFn != nil {
		return m.planFn(ctx, tripKey)
	}
	return nil, errors.New("no plan")
}

type mockPublisher struct {
	publishEventFn    func(ctx context.Context, event *domain.StateEvent) error
	publishSnapshotFn func(ctx context.Context, snap *domain.TripSnapshot) error
}

func (m *mockPublisher) PublishStateEvent(ctx context.Context, event *domain.StateEvent) error {
	if m.publishEventFn != nil {
		return m.publishEventFn(ctx, event)
	}
	return nil
}

func (m *mockPublisher) PublishSnapshot(ctx context.Context, snap *domain.TripSnapshot) error {
	if m.publishSnapshotFn != nil {
		return m.publishSnapshotFn(ctx, snap)
	}
	return nil
}

var testClock = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService() *TrackingService {
	svc := NewTrackingService(
		TrackingConfig{},
		&mockTripRepo{},
		&mockPlanSource{planFn: func(ctx context.Context, tripKey string) ([]domain.Checkpoint, error) {
			return testPlan(), nil
		}},
		&mockPublisher{},
		discardLogger(),
	)
	svc.now = func() time.Time { return testClock }
	return svc
}

func ping(offset time.Duration, lat, lon, speedKmh float64) domain.Position {
	return domain.Position{
		Location:  domain.GeoPoint{Lat: lat, Lon: lon},
		Timestamp: testClock.Add(offset - time.Hour),
		SpeedKmh:  speedKmh,
	}
}

func TestIngestLiveLocation_CreatesTrip(t *testing.T) {
	svc := newTestService()

	snap, err := svc.IngestLiveLocation(context.Background(), "TRK-042|ASG-7", ping(0, -19.5836, -65.7531, 0))
	if err != nil {
		t.Fatal(err)
	}
	if snap.HistorySize != 1 {
		t.Errorf("history size = %d, want 1", snap.HistorySize)
	}
	if len(snap.Checkpoints) != 4 {
		t.Errorf("plan not loaded, %d checkpoints", len(snap.Checkpoints))
	}
	if snap.Progress != "en_route_to_origin" {
		t.Errorf("progress = %q", snap.Progress)
	}
	if snap.Geofence == nil || !snap.Geofence.InsideZone {
		t.Error("first ping at the mine mouth should be inside the origin zone")
	}
}

func TestIngestLiveLocation_InvalidLatitudeRejectedWithoutMutation(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"

	if _, err := svc.IngestLiveLocation(context.Background(), key, ping(0, -19.5836, -65.7531, 0)); err != nil {
		t.Fatal(err)
	}
	before, _ := svc.GetSnapshot(context.Background(), key)

	_, err := svc.IngestLiveLocation(context.Background(), key, ping(30*time.Second, 95, -65.75, 10))
	if !errors.Is(err, domain.ErrInvalidLocation) {
		t.Fatalf("got %v, want ErrInvalidLocation", err)
	}

	after, _ := svc.GetSnapshot(context.Background(), key)
	if after.HistorySize != before.HistorySize {
		t.Error("rejected point must not touch the history")
	}
	if after.Metrics.DistanceKm != before.Metrics.DistanceKm {
		t.Error("rejected point must not touch the metrics")
	}
}

func TestIngestLiveLocation_InvalidPointNeverCreatesTrip(t *testing.T) {
	svc := newTestService()

	_, err := svc.IngestLiveLocation(context.Background(), "TRK-099|ASG-9", ping(0, 95, 0, 0))
	if !errors.Is(err, domain.ErrInvalidLocation) {
		t.Fatalf("got %v, want ErrInvalidLocation", err)
	}
	if _, err := svc.GetSnapshot(context.Background(), "TRK-099|ASG-9"); !errors.Is(err, domain.ErrTripNotFound) {
		t.Error("a rejected first ping must not register the trip")
	}
}

// A 50 s silence exceeds the 40 s threshold: the new point is flagged, a
// communication_loss event fires, and the unobserved span adds no distance.
func TestIngestLiveLocation_GapDetection(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	var lossEvents []domain.StateEvent
	svc.publisher = &mockPublisher{publishEventFn: func(_ context.Context, ev *domain.StateEvent) error {
		if ev.Type == domain.EventCommunicationLoss {
			lossEvents = append(lossEvents, *ev)
		}
		return nil
	}}

	if _, err := svc.IngestLiveLocation(ctx, key, ping(0, -19.5836, -65.7531, 10)); err != nil {
		t.Fatal(err)
	}
	before, _ := svc.GetSnapshot(ctx, key)

	if _, err := svc.IngestLiveLocation(ctx, key, ping(50*time.Second, -19.5700, -65.7550, 10)); err != nil {
		t.Fatal(err)
	}
	after, _ := svc.GetSnapshot(ctx, key)

	if after.Metrics.DistanceKm != before.Metrics.DistanceKm {
		t.Errorf("gap pair added %f km", after.Metrics.DistanceKm-before.Metrics.DistanceKm)
	}
	if len(lossEvents) != 1 {
		t.Fatalf("expected one communication_loss event, got %d", len(lossEvents))
	}
	payload := lossEvents[0].Payload.(domain.CommunicationLossPayload)
	if payload.GapSeconds != 50 {
		t.Errorf("gap seconds = %f, want 50", payload.GapSeconds)
	}

	hist, _, err := svc.History(ctx, key, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !hist[1].GapBefore {
		t.Error("second point must carry the gap flag")
	}
}

// Pings 30 s apart never trip the gap detector.
func TestIngestLiveLocation_NormalCadenceAccumulates(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	// 100 m north every 30 s is 12 km/h.
	for i := 0; i < 10; i++ {
		p := ping(time.Duration(i)*30*time.Second, -19.5836+float64(i)*0.0009, -65.7531, 12)
		if _, err := svc.IngestLiveLocation(ctx, key, p); err != nil {
			t.Fatal(err)
		}
	}

	snap, _ := svc.GetSnapshot(ctx, key)
	if math.Abs(snap.Metrics.AvgSpeedKmh-12) > 0.5 {
		t.Errorf("avg speed = %f, want ~12", snap.Metrics.AvgSpeedKmh)
	}
	if snap.Metrics.TimeStoppedSeconds != 0 {
		t.Errorf("stopped time = %f over a continuously moving leg", snap.Metrics.TimeStoppedSeconds)
	}

	hist, total, _ := svc.History(ctx, key, 0, 100)
	if total != 10 {
		t.Fatalf("history size = %d", total)
	}
	for i, h := range hist {
		if h.GapBefore {
			t.Errorf("point %d flagged as gap on a 30 s cadence", i)
		}
	}
}

func TestIngestLiveLocation_MonotonicDistance(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	prev := 0.0
	elapsed := time.Duration(0)
	for i := 0; i < 15; i++ {
		// Every fifth interval is a 60 s silence.
		step := 30 * time.Second
		if i%5 == 0 && i > 0 {
			step = 60 * time.Second
		}
		elapsed += step
		p := ping(elapsed, -19.5836+float64(i)*0.0007, -65.7531, 9)
		snap, err := svc.IngestLiveLocation(ctx, key, p)
		if err != nil {
			t.Fatal(err)
		}
		if snap.Metrics.DistanceKm < prev {
			t.Fatalf("distance shrank at ping %d: %f < %f", i, snap.Metrics.DistanceKm, prev)
		}
		prev = snap.Metrics.DistanceKm
	}
}

func TestReconcileOfflineBatch_EmptyRejected(t *testing.T) {
	svc := newTestService()
	_, err := svc.ReconcileOfflineBatch(context.Background(), "TRK-042|ASG-7", nil)
	if !errors.Is(err, domain.ErrEmptyBatch) {
		t.Errorf("got %v, want ErrEmptyBatch", err)
	}
}

func TestReconcileOfflineBatch_UnknownTripWithoutPlan(t *testing.T) {
	svc := newTestService()
	svc.plans = &mockPlanSource{} // every lookup fails

	_, err := svc.ReconcileOfflineBatch(context.Background(), "TRK-000|ASG-0", []domain.Position{
		ping(0, -19.58, -65.75, 5),
	})
	if !errors.Is(err, domain.ErrTripNotFound) {
		t.Errorf("got %v, want ErrTripNotFound", err)
	}
}

// Points delivered as [t2, t0, t1] must land in the history as [t0, t1, t2].
func TestReconcileOfflineBatch_ReordersPoints(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	batch := []domain.Position{
		ping(60*time.Second, -19.5816, -65.7531, 10), // t2
		ping(0, -19.5836, -65.7531, 10),              // t0
		ping(30*time.Second, -19.5826, -65.7531, 10), // t1
	}

	report, err := svc.ReconcileOfflineBatch(ctx, key, batch)
	if err != nil {
		t.Fatal(err)
	}
	if report.Synced != 3 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}

	hist, _, err := svc.History(ctx, key, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(hist); i++ {
		if !hist[i].Timestamp.After(hist[i-1].Timestamp) {
			t.Fatalf("history out of order at %d", i)
		}
		if hist[i].GapBefore {
			t.Errorf("30 s cadence flagged as gap at %d", i)
		}
	}
	if !hist[0].CapturedOffline {
		t.Error("batch points must be marked captured offline")
	}

	snap, _ := svc.GetSnapshot(ctx, key)
	if !snap.CurrentLocation.Timestamp.Equal(batch[0].Timestamp) {
		t.Error("current location must be the chronologically last point")
	}
}

// Replaying the same batch converges: no new points, identical metrics.
func TestReconcileOfflineBatch_Idempotent(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	batch := []domain.Position{
		ping(0, -19.5836, -65.7531, 10),
		ping(30*time.Second, -19.5826, -65.7531, 10),
		ping(60*time.Second, -19.5816, -65.7531, 10),
	}

	first, err := svc.ReconcileOfflineBatch(ctx, key, batch)
	if err != nil {
		t.Fatal(err)
	}
	snapBefore, _ := svc.GetSnapshot(ctx, key)

	second, err := svc.ReconcileOfflineBatch(ctx, key, batch)
	if err != nil {
		t.Fatal(err)
	}
	snapAfter, _ := svc.GetSnapshot(ctx, key)

	if first.Synced != 3 || second.Synced != 0 {
		t.Errorf("synced counts = %d then %d, want 3 then 0", first.Synced, second.Synced)
	}
	if snapAfter.HistorySize != snapBefore.HistorySize {
		t.Error("replay grew the history")
	}
	if snapAfter.Metrics.DistanceKm != snapBefore.Metrics.DistanceKm {
		t.Error("replay changed the distance")
	}
}

func TestReconcileOfflineBatch_SkipsInvalidPoints(t *testing.T) {
	svc := newTestService()

	report, err := svc.ReconcileOfflineBatch(context.Background(), "TRK-042|ASG-7", []domain.Position{
		ping(0, -19.5836, -65.7531, 10),
		ping(30*time.Second, 95, -65.75, 10), // bad latitude
		ping(60*time.Second, -19.5816, -65.7531, 10),
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Synced != 2 || report.Failed != 1 {
		t.Errorf("report = %+v, want 2 synced / 1 failed", report)
	}
	if len(report.Errors) != 1 {
		t.Errorf("expected one error entry, got %v", report.Errors)
	}
}

// A batch can fill a span that live ingestion had flagged as a gap; the flag
// must be re-derived and the recovered distance counted.
func TestReconcileOfflineBatch_FillsLiveGap(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	if _, err := svc.IngestLiveLocation(ctx, key, ping(0, -19.5836, -65.7531, 10)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.IngestLiveLocation(ctx, key, ping(90*time.Second, -19.5806, -65.7531, 10)); err != nil {
		t.Fatal(err)
	}
	gapped, _ := svc.GetSnapshot(ctx, key)
	if gapped.Metrics.DistanceKm != 0 {
		t.Fatalf("distance across a gap = %f, want 0", gapped.Metrics.DistanceKm)
	}

	// The buffered points from the silent interval arrive.
	_, err := svc.ReconcileOfflineBatch(ctx, key, []domain.Position{
		ping(30*time.Second, -19.5826, -65.7531, 10),
		ping(60*time.Second, -19.5816, -65.7531, 10),
	})
	if err != nil {
		t.Fatal(err)
	}

	filled, _ := svc.GetSnapshot(ctx, key)
	if filled.Metrics.DistanceKm <= 0 {
		t.Error("filled gap must recover the traveled distance")
	}

	hist, _, _ := svc.History(ctx, key, 0, 10)
	for i, h := range hist {
		if h.GapBefore {
			t.Errorf("point %d still flagged after the gap was filled", i)
		}
	}
}

func TestReconcileOfflineBatch_EmitsCommunicationRestored(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	var restored []domain.StateEvent
	svc.publisher = &mockPublisher{publishEventFn: func(_ context.Context, ev *domain.StateEvent) error {
		if ev.Type == domain.EventCommunicationRestored {
			restored = append(restored, *ev)
		}
		return nil
	}}

	// Last contact an hour before the clock: thoroughly offline.
	if _, err := svc.IngestLiveLocation(ctx, key, ping(0, -19.5836, -65.7531, 10)); err != nil {
		t.Fatal(err)
	}

	_, err := svc.ReconcileOfflineBatch(ctx, key, []domain.Position{
		ping(30*time.Second, -19.5826, -65.7531, 10),
		ping(60*time.Second, -19.5816, -65.7531, 10),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(restored) != 1 {
		t.Fatalf("expected one communication_restored event, got %d", len(restored))
	}
	payload := restored[0].Payload.(domain.CommunicationRestoredPayload)
	if payload.RecoveredPoints != 2 {
		t.Errorf("recovered points = %d, want 2", payload.RecoveredPoints)
	}
	if payload.OfflineSeconds <= 0 {
		t.Errorf("offline seconds = %f", payload.OfflineSeconds)
	}

	snap, _ := svc.GetSnapshot(ctx, key)
	if snap.Connectivity != domain.ConnectivityOnline {
		t.Error("a trip that just uploaded a batch is online")
	}
}

// A batch on a trip that never went silent still announces its newest point.
func TestReconcileOfflineBatch_EmitsLocationUpdate(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	var updates []domain.StateEvent
	svc.publisher = &mockPublisher{publishEventFn: func(_ context.Context, ev *domain.StateEvent) error {
		if ev.Type == domain.EventLocationUpdate {
			updates = append(updates, *ev)
		}
		return nil
	}}

	_, err := svc.ReconcileOfflineBatch(ctx, key, []domain.Position{
		ping(0, -19.5836, -65.7531, 10),
		ping(30*time.Second, -19.5826, -65.7531, 10),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(updates) != 1 {
		t.Fatalf("expected one location_update event, got %d", len(updates))
	}
	payload := updates[0].Payload.(domain.LocationUpdatePayload)
	if !payload.CapturedOffline {
		t.Error("a batch point is captured offline")
	}
	if !updates[0].Timestamp.Equal(testClock.Add(30*time.Second - time.Hour)) {
		t.Error("the update must describe the chronologically last point")
	}
}

// Recovered points must reach the point store with their re-derived flags.
func TestReconcileOfflineBatch_PersistsRecoveredPoints(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	var stored []domain.HistoricalPoint
	svc.repo = &mockTripRepo{appendPointsFn: func(_ context.Context, _ string, points []domain.HistoricalPoint) error {
		stored = append(stored, points...)
		return nil
	}}

	report, err := svc.ReconcileOfflineBatch(ctx, key, []domain.Position{
		ping(0, -19.5836, -65.7531, 10),
		ping(30*time.Second, -19.5826, -65.7531, 10),
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Synced != 2 {
		t.Fatalf("synced = %d, want 2", report.Synced)
	}
	if len(stored) != 2 {
		t.Fatalf("point store received %d points, want 2", len(stored))
	}
	for i, p := range stored {
		if !p.CapturedOffline {
			t.Errorf("stored point %d lost its captured-offline flag", i)
		}
	}

	// A replay inserts nothing and stores nothing.
	stored = nil
	if _, err := svc.ReconcileOfflineBatch(ctx, key, []domain.Position{
		ping(0, -19.5836, -65.7531, 10),
	}); err != nil {
		t.Fatal(err)
	}
	if len(stored) != 0 {
		t.Errorf("replay stored %d points", len(stored))
	}
}

// A full replay is still fresh contact: the trip flips back online even
// though no point was new.
func TestReconcileOfflineBatch_DuplicateReplayRefreshesSync(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	batch := []domain.Position{
		ping(0, -19.5836, -65.7531, 10),
		ping(30*time.Second, -19.5826, -65.7531, 10),
	}
	if _, err := svc.ReconcileOfflineBatch(ctx, key, batch); err != nil {
		t.Fatal(err)
	}

	// Two minutes of silence pass.
	svc.now = func() time.Time { return testClock.Add(2 * time.Minute) }
	snap, _ := svc.GetSnapshot(ctx, key)
	if snap.Connectivity != domain.ConnectivityOffline {
		t.Fatal("trip should have gone offline during the silence")
	}

	report, err := svc.ReconcileOfflineBatch(ctx, key, batch)
	if err != nil {
		t.Fatal(err)
	}
	if report.Synced != 0 {
		t.Fatalf("synced = %d on a replay, want 0", report.Synced)
	}

	snap, _ = svc.GetSnapshot(ctx, key)
	if snap.Connectivity != domain.ConnectivityOnline {
		t.Error("a replayed batch is contact; the trip must be back online")
	}
	if !snap.LastSyncAt.Equal(testClock.Add(2 * time.Minute)) {
		t.Errorf("last sync = %v, want the reconcile time", snap.LastSyncAt)
	}
}

func TestRegisterCheckpoint_FullItinerary(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()
	plan := testPlan()

	if _, err := svc.InitTrip(ctx, key, nil); err != nil {
		t.Fatal(err)
	}

	for _, cp := range plan {
		pos := &cp.Position
		if _, err := svc.RegisterCheckpointArrival(ctx, key, cp.Type, pos); err != nil {
			t.Fatalf("arrival at %s: %v", cp.Type, err)
		}
		if _, err := svc.RegisterCheckpointDeparture(ctx, key, cp.Type); err != nil {
			t.Fatalf("departure from %s: %v", cp.Type, err)
		}
	}

	snap, _ := svc.GetSnapshot(ctx, key)
	if !snap.Completed {
		t.Error("snapshot must report the trip complete")
	}
	if snap.Progress != "completed" {
		t.Errorf("progress = %q", snap.Progress)
	}
	if snap.Metrics.TripEndTime == nil {
		t.Error("trip end time missing")
	}
}

func TestRegisterCheckpointDeparture_BeforeArrival(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	if _, err := svc.InitTrip(ctx, key, nil); err != nil {
		t.Fatal(err)
	}
	_, err := svc.RegisterCheckpointDeparture(ctx, key, domain.CheckpointOrigin)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("got %v, want ErrInvalidTransition", err)
	}
}

func TestRegisterCheckpointArrival_UnknownTrip(t *testing.T) {
	svc := newTestService()
	_, err := svc.RegisterCheckpointArrival(context.Background(), "TRK-404|ASG-0", domain.CheckpointOrigin, nil)
	if !errors.Is(err, domain.ErrTripNotFound) {
		t.Errorf("got %v, want ErrTripNotFound", err)
	}
}

func TestInitTrip_Idempotent(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	first, err := svc.InitTrip(ctx, key, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RegisterCheckpointArrival(ctx, key, domain.CheckpointOrigin, nil); err != nil {
		t.Fatal(err)
	}

	again, err := svc.InitTrip(ctx, key, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Checkpoints) != len(first.Checkpoints) {
		t.Error("re-init changed the plan")
	}
	if again.Checkpoints[0].Status != domain.CheckpointAtPoint {
		t.Error("re-init must not reset checkpoint progress")
	}
}

func TestGetSnapshot_UnknownTrip(t *testing.T) {
	svc := newTestService()
	_, err := svc.GetSnapshot(context.Background(), "TRK-404|ASG-0")
	if !errors.Is(err, domain.ErrTripNotFound) {
		t.Errorf("got %v, want ErrTripNotFound", err)
	}
}

func TestListSnapshots_SortedByKey(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	for _, key := range []string{"TRK-900|ASG-3", "TRK-100|ASG-1", "TRK-500|ASG-2"} {
		if _, err := svc.IngestLiveLocation(ctx, key, ping(0, -19.5836, -65.7531, 0)); err != nil {
			t.Fatal(err)
		}
	}

	snaps := svc.ListSnapshots(ctx)
	if len(snaps) != 3 {
		t.Fatalf("got %d snapshots", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i-1].TripKey >= snaps[i].TripKey {
			t.Errorf("snapshots not sorted: %s before %s", snaps[i-1].TripKey, snaps[i].TripKey)
		}
	}
}

func TestHistory_Pagination(t *testing.T) {
	svc := newTestService()
	key := "TRK-042|ASG-7"
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		p := ping(time.Duration(i)*30*time.Second, -19.5836+float64(i)*0.0005, -65.7531, 8)
		if _, err := svc.IngestLiveLocation(ctx, key, p); err != nil {
			t.Fatal(err)
		}
	}

	page, total, err := svc.History(ctx, key, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("total=%d len=%d, want 5/2", total, len(page))
	}

	tail, total, err := svc.History(ctx, key, 4, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(tail) != 1 {
		t.Fatalf("tail total=%d len=%d, want 5/1", total, len(tail))
	}

	empty, _, err := svc.History(ctx, key, 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Error("offset past the end must return an empty page")
	}
}

// Storage failures are absorbed: the mutation stays applied and the caller
// still gets a snapshot.
func TestIngestLiveLocation_PersistFailureIsNonFatal(t *testing.T) {
	svc := newTestService()
	svc.repo = &mockTripRepo{saveSnapshotFn: func(context.Context, *domain.TripSnapshot) error {
		return errors.New("connection refused")
	}}

	snap, err := svc.IngestLiveLocation(context.Background(), "TRK-042|ASG-7", ping(0, -19.5836, -65.7531, 0))
	if err != nil {
		t.Fatalf("persist failure leaked to the caller: %v", err)
	}
	if snap.HistorySize != 1 {
		t.Error("mutation must survive a persist failure")
	}
}

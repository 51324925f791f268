//go:build integration
// +build integration

package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	handler "github.com/rcondori/haultrack/internal/adapters/http"
	"github.com/rcondori/haultrack/internal/adapters/postgres"
	"github.com/rcondori/haultrack/internal/core/domain"
	"github.com/rcondori/haultrack/internal/core/usecases"
	"github.com/rcondori/haultrack/internal/pkg/config"
)

// setupTestDB connects to the test database.
func setupTestDB(t *testing.T) *postgres.DB {
	cfg, err := config.Load("haultrack-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}

	db := &postgres.DB{Pool: pool}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping db: %v", err)
	}

	return db
}

// setupTestDeps creates dependencies with real DB-backed repos, no cache.
func setupTestDeps(t *testing.T, db *postgres.DB) *handler.Dependencies {
	tripRepo := postgres.NewTripRepo(db)
	planSource := postgres.NewPlanSource(db)

	return &handler.Dependencies{
		Tracking: usecases.NewTrackingService(usecases.TrackingConfig{}, tripRepo, planSource, nil, nil),
		DB:       db,
	}
}

// seedTestAssignment inserts an assignment with a full checkpoint plan and
// returns the trip key that resolves to it.
func seedTestAssignment(t *testing.T, db *postgres.DB, vehicle, assignment string) string {
	ctx := context.Background()
	tripKey := vehicle + "|" + assignment

	var assignmentID int64
	if err := db.Pool.QueryRow(ctx, `
		INSERT INTO assignments (trip_key, vehicle_code, assignment_code)
		VALUES ($1, $2, $3)
		ON CONFLICT (trip_key) DO UPDATE SET vehicle_code = EXCLUDED.vehicle_code
		RETURNING id
	`, tripKey, vehicle, assignment).Scan(&assignmentID); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}

	checkpoints := []struct {
		ctype  string
		name   string
		lat    float64
		lon    float64
		radius float64
		seq    int
	}{
		{"origin", "Bocamina San Miguel", -19.5836, -65.7531, 300, 1},
		{"weighbridge_cooperative", "Balanza Cooperativa Unificada", -19.5702, -65.7558, 150, 2},
		{"weighbridge_destination", "Balanza Ingenio", -19.5489, -65.7612, 150, 3},
		{"warehouse_destination", "Almacén Ingenio", -19.5471, -65.7630, 200, 4},
	}
	for _, cp := range checkpoints {
		if _, err := db.Pool.Exec(ctx, `
			INSERT INTO assignment_checkpoints
				(assignment_id, checkpoint_type, name, location, radius_meters, sequence_order, required)
			VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography, $6, $7, true)
			ON CONFLICT (assignment_id, checkpoint_type) DO UPDATE SET name = EXCLUDED.name
		`, assignmentID, cp.ctype, cp.name, cp.lon, cp.lat, cp.radius, cp.seq); err != nil {
			t.Fatalf("seed checkpoint %s: %v", cp.ctype, err)
		}
	}

	return tripKey
}

// TestIngestAndSnapshot_Integration exercises live ingest against a real
// database: the trip is created from the seeded plan and its snapshot and
// points are persisted.
func TestIngestAndSnapshot_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	defer db.Close()

	tripKey := seedTestAssignment(t, db, "TRK-900", "ASG-900")
	deps := setupTestDeps(t, db)
	app := setupApp(deps)

	now := time.Now()
	body := fmt.Sprintf(`{"location":{"lat":-19.5836,"lon":-65.7531},"speed_kmh":14,"timestamp":%q}`,
		now.Format(time.RFC3339))
	req := httptest.NewRequest("POST", "/v1/trips/TRK-900%7CASG-900/locations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var snap domain.TripSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.TripKey != tripKey {
		t.Errorf("expected trip key %q, got %q", tripKey, snap.TripKey)
	}
	if len(snap.Checkpoints) != 4 {
		t.Errorf("expected 4 checkpoints from seeded plan, got %d", len(snap.Checkpoints))
	}

	// Snapshot row must be persisted.
	ctx := context.Background()
	var historySize int
	if err := db.Pool.QueryRow(ctx,
		`SELECT history_size FROM trips WHERE trip_key = $1`, tripKey).Scan(&historySize); err != nil {
		t.Fatalf("snapshot row: %v", err)
	}
	if historySize != 1 {
		t.Errorf("expected history_size 1, got %d", historySize)
	}

	// And the point itself.
	var pointCount int
	if err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trip_points WHERE trip_key = $1`, tripKey).Scan(&pointCount); err != nil {
		t.Fatalf("point rows: %v", err)
	}
	if pointCount != 1 {
		t.Errorf("expected 1 point row, got %d", pointCount)
	}
}

// TestBatchReconcile_Integration submits the same batch twice and verifies the
// point upsert keeps the history deduplicated.
func TestBatchReconcile_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	defer db.Close()

	tripKey := seedTestAssignment(t, db, "TRK-901", "ASG-901")
	deps := setupTestDeps(t, db)
	app := setupApp(deps)

	base := time.Now().Add(-10 * time.Minute)
	var points []string
	for i := 0; i < 4; i++ {
		points = append(points, fmt.Sprintf(`{"location":{"lat":%f,"lon":-65.7531},"speed_kmh":20,"timestamp":%q}`,
			-19.5836+float64(i)*0.0004, base.Add(time.Duration(i)*10*time.Second).Format(time.RFC3339)))
	}
	body := `{"points":[` + strings.Join(points, ",") + `]}`

	for round := 0; round < 2; round++ {
		req := httptest.NewRequest("POST", "/v1/trips/TRK-901%7CASG-901/locations/batch", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Fatalf("round %d: expected 200, got %d", round, resp.StatusCode)
		}
	}

	var historySize int
	if err := db.Pool.QueryRow(context.Background(),
		`SELECT history_size FROM trips WHERE trip_key = $1`, tripKey).Scan(&historySize); err != nil {
		t.Fatalf("snapshot row: %v", err)
	}
	if historySize != 4 {
		t.Errorf("expected history_size 4 after duplicate batch, got %d", historySize)
	}
}

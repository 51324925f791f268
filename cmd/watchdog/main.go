package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/rcondori/haultrack/internal/adapters/nats"
	"github.com/rcondori/haultrack/internal/adapters/postgres"
	"github.com/rcondori/haultrack/internal/core/domain"
	"github.com/rcondori/haultrack/internal/pkg/config"
	"github.com/rcondori/haultrack/internal/pkg/logging"
	"github.com/rcondori/haultrack/internal/workflows"
)

// The watchdog turns prolonged silence into dispatch incidents. It scans the
// trip store for units offline past the escalation threshold and starts one
// escalation workflow per trip; Temporal deduplicates by workflow ID, so a
// unit already being escalated is skipped.
func main() {
	cfg, err := config.Load("haultrack-watchdog")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logging.Setup("watchdog", cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	nc, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer nc.Drain()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	snapshots := &storedSnapshots{db: db, offlineThreshold: cfg.Tracking.OfflineThreshold()}

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.OfflineEscalationWorkflow)
	w.RegisterActivity(&workflows.EscalationActivities{
		Snapshots: snapshots,
		Incidents: postgres.NewIncidentRepo(db),
		Notifier:  natsadapter.NewNotifier(nc),
	})

	go scanLoop(ctx, c, db, cfg)

	slog.Info("watchdog started",
		"task_queue", cfg.Temporal.TaskQueue,
		"escalation_after", cfg.Tracking.EscalationAfter().String())

	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

// scanLoop looks for silent units once a minute.
func scanLoop(ctx context.Context, c client.Client, db *postgres.DB, cfg *config.Config) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rows, err := db.Pool.Query(ctx, `
			SELECT trip_key, last_sync_at, progress,
			       ST_Y(current_location::geometry), ST_X(current_location::geometry)
			FROM trips
			WHERE completed = false
			  AND current_location IS NOT NULL
			  AND last_sync_at < now() - make_interval(secs => $1)
		`, cfg.Tracking.EscalationAfterSeconds)
		if err != nil {
			slog.Error("scan query failed", "error", err)
			continue
		}

		type silentTrip struct {
			input workflows.EscalationInput
		}
		var silent []silentTrip
		for rows.Next() {
			var in workflows.EscalationInput
			if err := rows.Scan(&in.TripKey, &in.OfflineSince, &in.Progress, &in.LastLat, &in.LastLon); err != nil {
				slog.Error("scan row failed", "error", err)
				continue
			}
			silent = append(silent, silentTrip{input: in})
		}
		rows.Close()

		for _, s := range silent {
			opts := client.StartWorkflowOptions{
				ID:        workflowID(s.input.TripKey),
				TaskQueue: cfg.Temporal.TaskQueue,
			}
			_, err := c.ExecuteWorkflow(ctx, opts, workflows.OfflineEscalationWorkflow, s.input)
			if err != nil {
				// An already-running escalation for this trip is expected.
				if !strings.Contains(err.Error(), "already started") {
					slog.Error("start escalation failed", "trip_key", s.input.TripKey, "error", err)
				}
				continue
			}
			slog.Info("escalation started", "trip_key", s.input.TripKey, "offline_since", s.input.OfflineSince)
		}
	}
}

// workflowID derives a stable, subject-safe workflow ID per trip.
func workflowID(tripKey string) string {
	return "offline-" + strings.NewReplacer("|", "_", " ", "_").Replace(tripKey)
}

// storedSnapshots reads trip state from the store instead of the in-memory
// engine, deriving connectivity from the persisted last sync time.
type storedSnapshots struct {
	db               *postgres.DB
	offlineThreshold time.Duration
}

func (s *storedSnapshots) GetSnapshot(ctx context.Context, tripKey string) (*domain.TripSnapshot, error) {
	snap := &domain.TripSnapshot{TripKey: tripKey}
	err := s.db.Pool.QueryRow(ctx, `
		SELECT last_sync_at, progress, completed, history_size
		FROM trips
		WHERE trip_key = $1
	`, tripKey).Scan(&snap.LastSyncAt, &snap.Progress, &snap.Completed, &snap.HistorySize)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", domain.ErrTripNotFound, tripKey)
		}
		return nil, fmt.Errorf("load snapshot %s: %w", tripKey, err)
	}

	snap.Connectivity = domain.ConnectivityOnline
	if time.Since(snap.LastSyncAt) > s.offlineThreshold {
		snap.Connectivity = domain.ConnectivityOffline
	}
	return snap, nil
}

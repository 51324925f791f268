package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	natsadapter "github.com/rcondori/haultrack/internal/adapters/nats"
	"github.com/rcondori/haultrack/internal/adapters/postgres"
	"github.com/rcondori/haultrack/internal/core/domain"
	"github.com/rcondori/haultrack/internal/core/usecases"
	"github.com/rcondori/haultrack/internal/pkg/config"
	"github.com/rcondori/haultrack/internal/pkg/logging"
	"github.com/rcondori/haultrack/internal/pkg/metrics"
)

// The tracker is the telemetry consumer: it drains the JetStream ping and
// batch work queues and feeds them through the trip engine. Running a single
// tracker instance keeps the engine the only writer of trip state.
func main() {
	cfg, err := config.Load("haultrack-tracker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logging.Setup("tracker", cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	publisher, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats publisher: %v", err)
	}
	defer publisher.Close()

	subscriber, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats subscriber: %v", err)
	}
	defer subscriber.Close()

	tripRepo := postgres.NewTripRepo(db)
	planSource := postgres.NewPlanSource(db)

	tracking := usecases.NewTrackingService(usecases.TrackingConfig{
		OfflineThreshold:       cfg.Tracking.OfflineThreshold(),
		MovingSpeedKmh:         cfg.Tracking.MovingSpeedKmh,
		ArrivalToleranceFactor: cfg.Tracking.ArrivalToleranceFactor,
	}, tripRepo, planSource, publisher, slog.Default())

	err = subscriber.SubscribeLivePings(ctx, func(ctx context.Context, tripKey string, p *domain.Position) error {
		_, err := tracking.IngestLiveLocation(ctx, tripKey, *p)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidLocation) {
				// Bad samples never become good; count and drop.
				metrics.PositionsRejected.WithLabelValues("live").Inc()
				slog.Warn("live ping rejected", "trip_key", tripKey, "error", err)
				return nil
			}
			return err
		}
		metrics.PositionsIngested.WithLabelValues("live").Inc()
		return nil
	})
	if err != nil {
		log.Fatalf("subscribe pings: %v", err)
	}

	err = subscriber.SubscribeOfflineBatches(ctx, func(ctx context.Context, tripKey string, points []domain.Position) error {
		report, err := tracking.ReconcileOfflineBatch(ctx, tripKey, points)
		if err != nil {
			if errors.Is(err, domain.ErrEmptyBatch) || errors.Is(err, domain.ErrTripNotFound) {
				slog.Warn("offline batch rejected", "trip_key", tripKey, "error", err)
				return nil
			}
			return err
		}
		metrics.BatchesReconciled.Inc()
		metrics.PositionsIngested.WithLabelValues("batch").Add(float64(report.Synced))
		metrics.PositionsRejected.WithLabelValues("batch").Add(float64(report.Failed))
		if report.Failed > 0 {
			slog.Warn("offline batch partially rejected",
				"trip_key", tripKey, "synced", report.Synced, "failed", report.Failed)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("subscribe batches: %v", err)
	}

	slog.Info("tracker started", "nats", cfg.NATS.URL)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())
	cancel()
}

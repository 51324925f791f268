package workflows

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rcondori/haultrack/internal/core/domain"
	"github.com/rcondori/haultrack/internal/core/ports"
)

// SnapshotSource yields the current state of a trip. The tracking engine
// satisfies it in-process; the watchdog supplies a store-backed reader.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, tripKey string) (*domain.TripSnapshot, error)
}

// EscalationActivities holds the activity implementations for the offline
// escalation workflow.
type EscalationActivities struct {
	Snapshots SnapshotSource
	Incidents ports.IncidentRepository
	Notifier  ports.NotificationService
}

// CheckStillOffline reports whether the trip is still out of contact. A trip
// the engine no longer knows about counts as resolved.
func (a *EscalationActivities) CheckStillOffline(ctx context.Context, tripKey string) (bool, error) {
	snap, err := a.Snapshots.GetSnapshot(ctx, tripKey)
	if err != nil {
		if errors.Is(err, domain.ErrTripNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("snapshot %s: %w", tripKey, err)
	}
	return snap.Connectivity == domain.ConnectivityOffline, nil
}

// OpenIncident records the incident, reusing an already-open one so retried
// workflows stay idempotent.
func (a *EscalationActivities) OpenIncident(ctx context.Context, tripKey string, offlineSince time.Time) (string, error) {
	existing, err := a.Incidents.OpenIncidentID(ctx, tripKey)
	if err != nil {
		return "", fmt.Errorf("lookup open incident for %s: %w", tripKey, err)
	}
	if existing != "" {
		return existing, nil
	}
	id, err := a.Incidents.Open(ctx, tripKey, offlineSince)
	if err != nil {
		return "", fmt.Errorf("open incident for %s: %w", tripKey, err)
	}
	return id, nil
}

// SendDispatchAlert notifies dispatch about the silent unit.
func (a *EscalationActivities) SendDispatchAlert(ctx context.Context, input EscalationInput) error {
	title := "Unit out of contact"
	body := fmt.Sprintf("%s silent since %s, last seen at %.4f, %.4f (%s)",
		input.TripKey, input.OfflineSince.Format(time.RFC3339), input.LastLat, input.LastLon, input.Progress)
	if a.Notifier == nil {
		log.Printf("ALERT (no notifier) → %s: %s", title, body)
		return nil
	}
	return a.Notifier.SendDispatchAlert(ctx, input.TripKey, title, body)
}

// CloseIncident marks the incident resolved (also used as saga rollback when
// the alert cannot be delivered).
func (a *EscalationActivities) CloseIncident(ctx context.Context, incidentID string) error {
	if err := a.Incidents.Close(ctx, incidentID, time.Now()); err != nil {
		return fmt.Errorf("close incident %s: %w", incidentID, err)
	}
	log.Printf("Incident %s closed", incidentID)
	return nil
}

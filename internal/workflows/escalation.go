package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// EscalationInput is the input for the offline escalation workflow.
type EscalationInput struct {
	TripKey      string
	OfflineSince time.Time
	LastLat      float64
	LastLon      float64
	Progress     string
}

// OfflineEscalationWorkflow handles a haul unit that has gone silent: it
// opens an incident, alerts dispatch, then watches the trip until contact is
// re-established and closes the incident. If the dispatch alert cannot be
// delivered the incident is closed again (saga compensation) so a retry of
// the whole workflow starts clean.
func OfflineEscalationWorkflow(ctx workflow.Context, input EscalationInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting offline escalation", "tripKey", input.TripKey, "offlineSince", input.OfflineSince)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	// Step 1: the unit may have resurfaced between detection and execution.
	var stillOffline bool
	err := workflow.ExecuteActivity(ctx, "CheckStillOffline", input.TripKey).Get(ctx, &stillOffline)
	if err != nil {
		return err
	}
	if !stillOffline {
		logger.Info("Unit back online before escalation, nothing to do", "tripKey", input.TripKey)
		return nil
	}

	// Step 2: open the incident record
	var incidentID string
	err = workflow.ExecuteActivity(ctx, "OpenIncident", input.TripKey, input.OfflineSince).Get(ctx, &incidentID)
	if err != nil {
		return err
	}

	// Step 3: alert dispatch
	err = workflow.ExecuteActivity(ctx, "SendDispatchAlert", input).Get(ctx, nil)
	if err != nil {
		logger.Warn("dispatch alert failed, compensating", "error", err)
		// Compensate: close the incident so a retried workflow reopens it
		_ = workflow.ExecuteActivity(ctx, "CloseIncident", incidentID).Get(ctx, nil)
		return err
	}

	// Step 4: watch for recovery, then close the incident
	for {
		if err := workflow.Sleep(ctx, time.Minute); err != nil {
			return err
		}
		err = workflow.ExecuteActivity(ctx, "CheckStillOffline", input.TripKey).Get(ctx, &stillOffline)
		if err != nil {
			return err
		}
		if !stillOffline {
			break
		}
	}
	err = workflow.ExecuteActivity(ctx, "CloseIncident", incidentID).Get(ctx, nil)
	if err != nil {
		return err
	}

	logger.Info("Offline incident resolved", "tripKey", input.TripKey, "incidentID", incidentID)
	return nil
}

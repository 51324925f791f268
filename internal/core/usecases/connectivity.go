package usecases

import (
	"time"

	"github.com/rcondori/haultrack/internal/core/domain"
)

// DeriveConnectivity classifies a trip as online or offline from the age of
// its last confirmed sync. The result is never stored as authoritative; it is
// recomputed on every read so a stale snapshot can't report a live vehicle.
func DeriveConnectivity(lastSyncAt, now time.Time, threshold time.Duration) domain.Connectivity {
	if lastSyncAt.IsZero() {
		return domain.ConnectivityOffline
	}
	if now.Sub(lastSyncAt) > threshold {
		return domain.ConnectivityOffline
	}
	return domain.ConnectivityOnline
}

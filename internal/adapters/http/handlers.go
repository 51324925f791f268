package http

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/rcondori/haultrack/internal/adapters/valkey"
	"github.com/rcondori/haultrack/internal/core/domain"
	"github.com/rcondori/haultrack/internal/pkg/metrics"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// tripKeyParam extracts and unescapes the trip key path parameter. Trip keys
// embed a "|" separator ("TRK-042|ASG-7"), so clients send them URL-encoded.
func tripKeyParam(c *fiber.Ctx) (string, error) {
	raw := c.Params("key")
	key, err := url.PathUnescape(raw)
	if err != nil || key == "" {
		return "", errBadRequest(c, "invalid trip key")
	}
	return key, nil
}

// parsePagination reads offset/limit query params with bounds checking.
func parsePagination(c *fiber.Ctx) (offset, limit int, err error) {
	offset = 0
	limit = defaultLimit

	if v := c.Query("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, errBadRequest(c, "offset must be a non-negative integer")
		}
	}
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, errBadRequest(c, "limit must be a positive integer")
		}
		if limit > maxLimit {
			limit = maxLimit
		}
	}
	return offset, limit, nil
}

type initTripRequest struct {
	TripKey     string              `json:"trip_key"`
	Checkpoints []domain.Checkpoint `json:"checkpoints,omitempty"`
}

// InitTripHandler registers a trip ahead of telemetry. When the request
// carries no checkpoints the assignment plan is looked up instead.
func InitTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req initTripRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.TripKey == "" {
			return errBadRequest(c, "trip_key is required")
		}

		snap, err := deps.Tracking.InitTrip(c.Context(), req.TripKey, req.Checkpoints)
		if err != nil {
			return mapDomainError(c, err)
		}
		return c.Status(201).JSON(snap)
	}
}

// ListTripsHandler returns paginated snapshots of every known trip.
func ListTripsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		offset, limit, err := parsePagination(c)
		if err != nil {
			return err
		}

		snaps := deps.Tracking.ListSnapshots(c.Context())
		metrics.ActiveTrips.Set(float64(len(snaps)))

		if conn := c.Query("connectivity"); conn != "" {
			if conn != string(domain.ConnectivityOnline) && conn != string(domain.ConnectivityOffline) {
				return errBadRequest(c, "connectivity must be online or offline")
			}
			filtered := snaps[:0]
			for _, s := range snaps {
				if string(s.Connectivity) == conn {
					filtered = append(filtered, s)
				}
			}
			snaps = filtered
		}

		total := len(snaps)
		end := offset + limit
		if offset > total {
			offset = total
		}
		if end > total {
			end = total
		}

		p := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, p)
		c.Set("Cache-Control", "no-store")
		return c.JSON(PaginatedResponse{Data: snaps[offset:end], Pagination: p})
	}
}

// GetTripHandler returns a single trip snapshot, read through the cache.
// Connectivity is derived at read time, so the entry expires quickly.
func GetTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, err := tripKeyParam(c)
		if err != nil {
			return err
		}

		if deps.Cache != nil {
			if body, err := deps.Cache.Get(c.Context(), valkey.SnapshotKey(key)); err == nil && len(body) > 0 {
				metrics.CacheHits.WithLabelValues("snapshot").Inc()
				c.Set("Content-Type", "application/json")
				c.Set("Cache-Control", "max-age=5")
				return c.Send(body)
			}
			metrics.CacheMisses.WithLabelValues("snapshot").Inc()
		}

		snap, err := deps.Tracking.GetSnapshot(c.Context(), key)
		if err != nil {
			return mapDomainError(c, err)
		}

		if deps.Cache != nil {
			if body, err := json.Marshal(snap); err == nil {
				_ = deps.Cache.Set(c.Context(), valkey.SnapshotKey(key), body, valkey.SnapshotTTLSeconds)
			}
		}
		c.Set("Cache-Control", "max-age=5")
		return c.JSON(snap)
	}
}

// IngestLocationHandler applies one live GPS sample to a trip.
func IngestLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, err := tripKeyParam(c)
		if err != nil {
			return err
		}

		var pos domain.Position
		if err := c.BodyParser(&pos); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		snap, err := deps.Tracking.IngestLiveLocation(c.Context(), key, pos)
		if err != nil {
			metrics.PositionsRejected.WithLabelValues("live").Inc()
			return mapDomainError(c, err)
		}
		metrics.PositionsIngested.WithLabelValues("live").Inc()

		if deps.Cache != nil {
			_ = deps.Cache.Delete(c.Context(), valkey.SnapshotKey(key))
		}
		return c.JSON(snap)
	}
}

type batchRequest struct {
	Points []domain.Position `json:"points"`
}

// IngestBatchHandler reconciles a buffered offline batch for a trip.
func IngestBatchHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, err := tripKeyParam(c)
		if err != nil {
			return err
		}

		var req batchRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		report, err := deps.Tracking.ReconcileOfflineBatch(c.Context(), key, req.Points)
		if err != nil {
			return mapDomainError(c, err)
		}

		metrics.BatchesReconciled.Inc()
		metrics.PositionsIngested.WithLabelValues("batch").Add(float64(report.Synced))
		metrics.PositionsRejected.WithLabelValues("batch").Add(float64(report.Failed))

		if deps.Cache != nil {
			_ = deps.Cache.Delete(c.Context(), valkey.SnapshotKey(key))
		}
		return c.JSON(report)
	}
}

type arrivalRequest struct {
	Position *domain.GeoPoint `json:"position,omitempty"`
}

// CheckpointArrivalHandler registers a manual arrival at a checkpoint. When
// the request includes a position it is verified against the geofence.
func CheckpointArrivalHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, err := tripKeyParam(c)
		if err != nil {
			return err
		}
		ct := domain.CheckpointType(c.Params("type"))

		var req arrivalRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return errBadRequest(c, "invalid request body")
			}
		}

		snap, err := deps.Tracking.RegisterCheckpointArrival(c.Context(), key, ct, req.Position)
		if err != nil {
			return mapDomainError(c, err)
		}
		metrics.CheckpointTransitions.WithLabelValues("arrival", string(ct)).Inc()

		if deps.Cache != nil {
			_ = deps.Cache.Delete(c.Context(), valkey.SnapshotKey(key))
		}
		return c.JSON(snap)
	}
}

// CheckpointDepartureHandler registers a departure from a checkpoint the unit
// previously arrived at.
func CheckpointDepartureHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, err := tripKeyParam(c)
		if err != nil {
			return err
		}
		ct := domain.CheckpointType(c.Params("type"))

		snap, err := deps.Tracking.RegisterCheckpointDeparture(c.Context(), key, ct)
		if err != nil {
			return mapDomainError(c, err)
		}
		metrics.CheckpointTransitions.WithLabelValues("departure", string(ct)).Inc()
		if snap.Completed {
			metrics.TripsCompleted.Inc()
		}

		if deps.Cache != nil {
			_ = deps.Cache.Delete(c.Context(), valkey.SnapshotKey(key))
		}
		return c.JSON(snap)
	}
}

// TripHistoryHandler pages through a trip's recorded points, oldest first.
func TripHistoryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, err := tripKeyParam(c)
		if err != nil {
			return err
		}
		offset, limit, err := parsePagination(c)
		if err != nil {
			return err
		}

		// History pages tolerate brief staleness, so they are cached for the
		// same window the Cache-Control header advertises.
		if deps.Cache != nil {
			if body, err := deps.Cache.Get(c.Context(), valkey.HistoryKey(key, offset, limit)); err == nil && len(body) > 0 {
				metrics.CacheHits.WithLabelValues("history").Inc()
				c.Set("Content-Type", "application/json")
				c.Set("Cache-Control", "max-age=30")
				return c.Send(body)
			}
			metrics.CacheMisses.WithLabelValues("history").Inc()
		}

		points, total, err := deps.Tracking.History(c.Context(), key, offset, limit)
		if err != nil {
			return mapDomainError(c, err)
		}

		p := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, p)
		c.Set("Cache-Control", "max-age=30")

		resp := PaginatedResponse{Data: points, Pagination: p}
		if deps.Cache != nil {
			if body, err := json.Marshal(resp); err == nil {
				_ = deps.Cache.Set(c.Context(), valkey.HistoryKey(key, offset, limit), body, valkey.HistoryTTLSeconds)
			}
		}
		return c.JSON(resp)
	}
}

// TripEventsHandler pages through a trip's state event trail, oldest first.
func TripEventsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, err := tripKeyParam(c)
		if err != nil {
			return err
		}
		offset, limit, err := parsePagination(c)
		if err != nil {
			return err
		}

		events, total, err := deps.Tracking.Events(c.Context(), key, offset, limit)
		if err != nil {
			return mapDomainError(c, err)
		}

		p := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, p)
		c.Set("Cache-Control", "max-age=30")
		return c.JSON(PaginatedResponse{Data: events, Pagination: p})
	}
}

// fleetStats aggregates snapshot-level numbers across the whole fleet.
type fleetStats struct {
	Trips           int     `json:"trips"`
	Completed       int     `json:"completed"`
	Online          int     `json:"online"`
	Offline         int     `json:"offline"`
	TotalDistanceKm float64 `json:"total_distance_km"`
	TotalPoints     int     `json:"total_points"`
}

// StatsHandler returns fleet-wide aggregates for dashboards.
func StatsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		snaps := deps.Tracking.ListSnapshots(c.Context())
		metrics.ActiveTrips.Set(float64(len(snaps)))

		stats := fleetStats{Trips: len(snaps)}
		for _, s := range snaps {
			if s.Completed {
				stats.Completed++
			}
			if s.Connectivity == domain.ConnectivityOnline {
				stats.Online++
			} else {
				stats.Offline++
			}
			stats.TotalDistanceKm += s.Metrics.DistanceKm
			stats.TotalPoints += s.HistorySize
		}

		c.Set("Cache-Control", "max-age=5")
		return c.JSON(stats)
	}
}

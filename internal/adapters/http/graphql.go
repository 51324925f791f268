package http

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/rcondori/haultrack/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to the tracking service.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	positionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Position",
		Fields: graphql.Fields{
			"location":         &graphql.Field{Type: geoPointType},
			"timestamp":        &graphql.Field{Type: graphql.DateTime},
			"precision_meters": &graphql.Field{Type: graphql.Float},
			"speed_kmh":        &graphql.Field{Type: graphql.Float},
			"heading_deg":      &graphql.Field{Type: graphql.Float},
			"altitude_meters":  &graphql.Field{Type: graphql.Float},
		},
	})

	checkpointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Checkpoint",
		Fields: graphql.Fields{
			"type":           &graphql.Field{Type: graphql.String},
			"name":           &graphql.Field{Type: graphql.String},
			"position":       &graphql.Field{Type: geoPointType},
			"radius_meters":  &graphql.Field{Type: graphql.Float},
			"sequence_order": &graphql.Field{Type: graphql.Int},
			"required":       &graphql.Field{Type: graphql.Boolean},
			"status":         &graphql.Field{Type: graphql.String},
			"arrival_time":   &graphql.Field{Type: graphql.DateTime},
			"departure_time": &graphql.Field{Type: graphql.DateTime},
		},
	})

	metricsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "TripMetrics",
		Fields: graphql.Fields{
			"distance_km":          &graphql.Field{Type: graphql.Float},
			"time_moving_seconds":  &graphql.Field{Type: graphql.Float},
			"time_stopped_seconds": &graphql.Field{Type: graphql.Float},
			"max_speed_kmh":        &graphql.Field{Type: graphql.Float},
			"avg_speed_kmh":        &graphql.Field{Type: graphql.Float},
			"trip_start_time":      &graphql.Field{Type: graphql.DateTime},
			"trip_end_time":        &graphql.Field{Type: graphql.DateTime},
		},
	})

	nearestPendingType := graphql.NewObject(graphql.ObjectConfig{
		Name: "NearestPending",
		Fields: graphql.Fields{
			"type":           &graphql.Field{Type: graphql.String},
			"name":           &graphql.Field{Type: graphql.String},
			"sequence_order": &graphql.Field{Type: graphql.Int},
			"distance_km":    &graphql.Field{Type: graphql.Float},
		},
	})

	geofenceType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeofenceStatus",
		Fields: graphql.Fields{
			"inside_zone":            &graphql.Field{Type: graphql.Boolean},
			"matched_type":           &graphql.Field{Type: graphql.String},
			"matched_name":           &graphql.Field{Type: graphql.String},
			"can_register_arrival":   &graphql.Field{Type: graphql.Boolean},
			"can_register_departure": &graphql.Field{Type: graphql.Boolean},
			"nearest_pending":        &graphql.Field{Type: nearestPendingType},
		},
	})

	snapshotType := graphql.NewObject(graphql.ObjectConfig{
		Name: "TripSnapshot",
		Fields: graphql.Fields{
			"trip_key":         &graphql.Field{Type: graphql.String},
			"current_location": &graphql.Field{Type: positionType},
			"connectivity":     &graphql.Field{Type: graphql.String},
			"last_sync_at":     &graphql.Field{Type: graphql.DateTime},
			"checkpoints":      &graphql.Field{Type: graphql.NewList(checkpointType)},
			"metrics":          &graphql.Field{Type: metricsType},
			"progress":         &graphql.Field{Type: graphql.String},
			"history_size":     &graphql.Field{Type: graphql.Int},
			"geofence":         &graphql.Field{Type: geofenceType},
			"completed":        &graphql.Field{Type: graphql.Boolean},
		},
	})

	// The sample fields live on the embedded Position, which the default
	// resolver does not reach, so they get explicit resolvers.
	historicalPoint := func(p graphql.ResolveParams) (domain.HistoricalPoint, bool) {
		h, ok := p.Source.(domain.HistoricalPoint)
		return h, ok
	}
	historicalPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "HistoricalPoint",
		Fields: graphql.Fields{
			"location": &graphql.Field{
				Type: geoPointType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if h, ok := historicalPoint(p); ok {
						return h.Location, nil
					}
					return nil, nil
				},
			},
			"timestamp": &graphql.Field{
				Type: graphql.DateTime,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if h, ok := historicalPoint(p); ok {
						return h.Timestamp, nil
					}
					return nil, nil
				},
			},
			"speed_kmh": &graphql.Field{
				Type: graphql.Float,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if h, ok := historicalPoint(p); ok {
						return h.SpeedKmh, nil
					}
					return nil, nil
				},
			},
			"heading_deg": &graphql.Field{
				Type: graphql.Float,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if h, ok := historicalPoint(p); ok {
						return h.HeadingDeg, nil
					}
					return nil, nil
				},
			},
			"captured_offline": &graphql.Field{Type: graphql.Boolean},
			"gap_before":       &graphql.Field{Type: graphql.Boolean},
			"trip_status":      &graphql.Field{Type: graphql.String},
		},
	})

	eventType := graphql.NewObject(graphql.ObjectConfig{
		Name: "StateEvent",
		Fields: graphql.Fields{
			"trip_key":  &graphql.Field{Type: graphql.String},
			"type":      &graphql.Field{Type: graphql.String},
			"timestamp": &graphql.Field{Type: graphql.DateTime},
			"position":  &graphql.Field{Type: geoPointType},
			"payload": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					ev, ok := p.Source.(domain.StateEvent)
					if !ok || ev.Payload == nil {
						return nil, nil
					}
					data, err := json.Marshal(ev.Payload)
					if err != nil {
						return nil, err
					}
					return string(data), nil
				},
			},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"trip": &graphql.Field{
				Type:        snapshotType,
				Description: "Get a trip snapshot by key",
				Args: graphql.FieldConfigArgument{
					"key": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					key := p.Args["key"].(string)
					return deps.Tracking.GetSnapshot(p.Context, key)
				},
			},
			"trips": &graphql.Field{
				Type:        graphql.NewList(snapshotType),
				Description: "List snapshots of all known trips",
				Args: graphql.FieldConfigArgument{
					"connectivity": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					snaps := deps.Tracking.ListSnapshots(p.Context)
					conn, _ := p.Args["connectivity"].(string)
					if conn == "" {
						return snaps, nil
					}
					filtered := make([]*domain.TripSnapshot, 0, len(snaps))
					for _, s := range snaps {
						if string(s.Connectivity) == conn {
							filtered = append(filtered, s)
						}
					}
					return filtered, nil
				},
			},
			"tripHistory": &graphql.Field{
				Type:        graphql.NewList(historicalPointType),
				Description: "Recorded points of a trip, oldest first",
				Args: graphql.FieldConfigArgument{
					"key":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: defaultLimit},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					key := p.Args["key"].(string)
					offset := p.Args["offset"].(int)
					limit := p.Args["limit"].(int)
					points, _, err := deps.Tracking.History(p.Context, key, offset, limit)
					return points, err
				},
			},
			"tripEvents": &graphql.Field{
				Type:        graphql.NewList(eventType),
				Description: "State event trail of a trip, oldest first",
				Args: graphql.FieldConfigArgument{
					"key":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: defaultLimit},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					key := p.Args["key"].(string)
					offset := p.Args["offset"].(int)
					limit := p.Args["limit"].(int)
					events, _, err := deps.Tracking.Events(p.Context, key, offset, limit)
					return events, err
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.Context(),
		})

		return c.JSON(result)
	}
}

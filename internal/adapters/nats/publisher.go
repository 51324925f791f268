package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rcondori/haultrack/internal/core/domain"
	"github.com/rcondori/haultrack/internal/pkg/metrics"
)

// Subjects:
//
//	haul.ping.<key>   single live position from a unit (JetStream)
//	haul.batch.<key>  buffered offline batch from a unit (JetStream)
//	haul.events.<key> state events emitted by the engine (JetStream)
//	haul.trip.<key>   full snapshot fanout for dashboards (core NATS)
const (
	subjectPingPrefix  = "haul.ping."
	subjectBatchPrefix = "haul.batch."
	subjectEventPrefix = "haul.events."
	subjectTripPrefix  = "haul.trip."
)

// subjectToken makes a trip key safe to embed as a NATS subject token. Trip
// keys are "<vehicle>|<assignment>" and may carry structural characters.
func subjectToken(tripKey string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(tripKey)
}

// SnapshotSubject returns the fanout subject for a trip's snapshots, or the
// wildcard for all trips when tripKey is empty.
func SnapshotSubject(tripKey string) string {
	if tripKey == "" {
		return subjectTripPrefix + ">"
	}
	return subjectTripPrefix + subjectToken(tripKey)
}

// EventSubject returns the subject for a trip's state events, or the wildcard
// for all trips when tripKey is empty.
func EventSubject(tripKey string) string {
	if tripKey == "" {
		return subjectEventPrefix + ">"
	}
	return subjectEventPrefix + subjectToken(tripKey)
}

// pingMessage is the wire form of a live position upload.
type pingMessage struct {
	TripKey  string          `json:"trip_key"`
	Position domain.Position `json:"position"`
}

// batchMessage is the wire form of an offline batch upload.
type batchMessage struct {
	TripKey string            `json:"trip_key"`
	Points  []domain.Position `json:"points"`
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS, enables JetStream and ensures the streams
// the engine depends on exist.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	// Telemetry is consumed exactly once by the tracker; events are kept
	// for any interested consumer until they age out.
	streams := []nats.StreamConfig{
		{
			Name:      "HAUL_TELEMETRY",
			Subjects:  []string{"haul.ping.>", "haul.batch.>"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "HAUL_EVENTS",
			Subjects:  []string{"haul.events.>"},
			Retention: nats.InterestPolicy,
			MaxAge:    72 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist — try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

func (p *Publisher) PublishStateEvent(ctx context.Context, event *domain.StateEvent) error {
	if event.Type == domain.EventCommunicationLoss {
		metrics.GapsDetected.Inc()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err = p.js.Publish(subjectEventPrefix+subjectToken(event.TripKey), data); err != nil {
		metrics.FanoutErrors.WithLabelValues("event").Inc()
		return err
	}
	return nil
}

// PublishSnapshot fans the full trip snapshot out on core NATS. Snapshots are
// superseded by the next one, so there is nothing worth retaining.
func (p *Publisher) PublishSnapshot(ctx context.Context, snap *domain.TripSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(subjectTripPrefix+subjectToken(snap.TripKey), data); err != nil {
		metrics.FanoutErrors.WithLabelValues("snapshot").Inc()
		return err
	}
	return nil
}

// PublishPing enqueues a live position as a device would.
func (p *Publisher) PublishPing(ctx context.Context, tripKey string, pos domain.Position) error {
	data, err := json.Marshal(pingMessage{TripKey: tripKey, Position: pos})
	if err != nil {
		return err
	}
	_, err = p.js.Publish(subjectPingPrefix+subjectToken(tripKey), data)
	return err
}

// PublishBatch enqueues an offline batch as a device would.
func (p *Publisher) PublishBatch(ctx context.Context, tripKey string, points []domain.Position) error {
	data, err := json.Marshal(batchMessage{TripKey: tripKey, Points: points})
	if err != nil {
		return err
	}
	_, err = p.js.Publish(subjectBatchPrefix+subjectToken(tripKey), data)
	return err
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

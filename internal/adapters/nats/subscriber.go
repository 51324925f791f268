package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rcondori/haultrack/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
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
	return &Subscriber{conn: conn, js: js}, nil
}

func (s *Subscriber) SubscribeLivePings(ctx context.Context, handler func(ctx context.Context, tripKey string, p *domain.Position) error) error {
	sub, err := s.js.Subscribe(subjectPingPrefix+">", func(msg *nats.Msg) {
		var ping pingMessage
		if err := json.Unmarshal(msg.Data, &ping); err != nil {
			// Unparseable payloads never become parseable; drop them.
			_ = msg.Term()
			return
		}
		if err := handler(ctx, ping.TripKey, &ping.Position); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("ping-processor"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Subscriber) SubscribeOfflineBatches(ctx context.Context, handler func(ctx context.Context, tripKey string, points []domain.Position) error) error {
	sub, err := s.js.Subscribe(subjectBatchPrefix+">", func(msg *nats.Msg) {
		var batch batchMessage
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			_ = msg.Term()
			return
		}
		if err := handler(ctx, batch.TripKey, batch.Points); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("batch-processor"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}

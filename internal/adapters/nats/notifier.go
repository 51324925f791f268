package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const subjectAlertPrefix = "haul.alerts."

// AlertSubject returns the dispatch alert subject for a trip, or the wildcard
// for all trips when tripKey is empty.
func AlertSubject(tripKey string) string {
	if tripKey == "" {
		return subjectAlertPrefix + ">"
	}
	return subjectAlertPrefix + subjectToken(tripKey)
}

// Notifier implements ports.NotificationService by publishing dispatch alerts
// on core NATS. Dispatcher consoles subscribe to haul.alerts.>.
type Notifier struct {
	conn *nats.Conn
}

func NewNotifier(conn *nats.Conn) *Notifier {
	return &Notifier{conn: conn}
}

type alertMessage struct {
	TripKey string    `json:"trip_key"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

func (n *Notifier) SendDispatchAlert(_ context.Context, tripKey, title, body string) error {
	data, err := json.Marshal(alertMessage{
		TripKey: tripKey,
		Title:   title,
		Body:    body,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := n.conn.Publish(AlertSubject(tripKey), data); err != nil {
		return fmt.Errorf("publish alert for %s: %w", tripKey, err)
	}
	return nil
}

package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/wilusmap/internal/core/domain"
)

// Subjects.
const (
	// MapEventsPrefix is followed by the session ID.
	MapEventsPrefix   = "map.events."
	MapEventsWildcard = "map.events.>"

	LocationsChanged = "locations.changed"
)

// MapEventSubject returns the subject a session's map events go to.
func MapEventSubject(sessionID string) string {
	if sessionID == "" {
		return MapEventsPrefix + "all"
	}
	return MapEventsPrefix + sessionID
}

// Publisher implements ports.EventPublisher using NATS. Map events are
// fire-and-forget on core NATS; change notifications go through JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if err := ensureStreams(js); err != nil {
		conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, js: js}, nil
}

func ensureStreams(js nats.JetStreamContext) error {
	streams := []nats.StreamConfig{
		{
			Name:      "LOCATIONS",
			Subjects:  []string{"locations.>"},
			Retention: nats.InterestPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

func (p *Publisher) PublishMapEvent(ctx context.Context, event *domain.MapEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.conn.Publish(MapEventSubject(event.SessionID), data)
}

func (p *Publisher) PublishLocationsChanged(ctx context.Context) error {
	_, err := p.js.Publish(LocationsChanged, []byte(time.Now().UTC().Format(time.RFC3339)), nats.Context(ctx))
	return err
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("wilusmap"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL            string
	ConnectTimeout time.Duration
}

// NATSSink publishes each event as JSON on the session's channel subject.
// NATS preserves publish order per connection, so per-session ordering holds.
type NATSSink struct {
	pub  publisher
	conn *nats.Conn
}

// NewNATSSink wraps an existing connection.
func NewNATSSink(conn *nats.Conn) *NATSSink {
	return &NATSSink{pub: conn, conn: conn}
}

// DialNATS connects to NATS and returns a sink owning the connection.
func DialNATS(cfg NATSConfig) (*NATSSink, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("ui-orchestrator"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewNATSSink(conn), nil
}

func (s *NATSSink) send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	if err := s.pub.Publish(ChannelFor(ev.SessionID), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	return nil
}

func (s *NATSSink) BroadcastState(_ context.Context, sessionID uuid.UUID, update StateUpdate) error {
	return s.send(stateEvent(sessionID, update))
}

func (s *NATSSink) BroadcastLog(_ context.Context, sessionID uuid.UUID, entry LogEntry) error {
	return s.send(logEvent(sessionID, entry))
}

func (s *NATSSink) BroadcastError(_ context.Context, sessionID uuid.UUID, event ErrorEvent) error {
	return s.send(errorEvent(sessionID, event))
}

func (s *NATSSink) BroadcastCompleted(_ context.Context, sessionID uuid.UUID, completed Completed) error {
	return s.send(completedEvent(sessionID, completed))
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

// Package notify fans status events out to NATS JetStream so external
// systems can follow build progress without polling the coordinator.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/buildcoord/internal/build"
	"git.home.luguber.info/inful/buildcoord/internal/config"
	"git.home.luguber.info/inful/buildcoord/internal/logfields"
)

const publishTimeout = 5 * time.Second

// NATSPublisher publishes status events to a JetStream stream.
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSPublisher connects to NATS and ensures the stream exists.
func NewNATSPublisher(cfg *config.NotifyConfig) (*NATSPublisher, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, fmt.Errorf("notification fan-out is disabled")
	}

	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &NATSPublisher{
		conn:    conn,
		js:      js,
		subject: cfg.Subject,
	}

	if err := p.initStream(cfg.Stream, cfg.Subject); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize stream: %w", err)
	}

	slog.Info("NATS publisher initialized",
		logfields.URL(cfg.URL),
		logfields.Subject(cfg.Subject))
	return p, nil
}

func (p *NATSPublisher) initStream(stream, subject string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.js.Stream(ctx, stream)
	if err == nil {
		return nil
	}

	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        stream,
		Description: "Build coordination status events",
		Subjects:    []string{subject + ".>"},
		MaxBytes:    100 * 1024 * 1024,
		Retention:   jetstream.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	slog.Info("Created status event stream", slog.String("stream", stream))
	return nil
}

// Publish sends the event to <subject>.<kind>.<new_status>. A publish failure
// is logged and dropped; the broker is a best-effort mirror of the hub.
func (p *NATSPublisher) Publish(event build.StatusEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal status event", logfields.Error(err))
		return
	}

	subject := eventSubject(p.subject, event)
	msgID := eventMsgID(event)

	_, err = p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{"Nats-Msg-Id": []string{msgID}},
	})
	if err != nil {
		slog.Error("Failed to publish status event",
			logfields.Subject(subject),
			logfields.Error(err))
		return
	}

	slog.Debug("Published status event",
		logfields.Subject(subject),
		logfields.Status(event.NewStatus))
}

// eventSubject routes events to <prefix>.<kind>.<new_status>.
func eventSubject(prefix string, event build.StatusEvent) string {
	return fmt.Sprintf("%s.%s.%s", prefix, event.Kind, event.NewStatus)
}

// eventMsgID deduplicates on (target, transition) so a reconciliation replay
// after a crash does not double-deliver the same event.
func eventMsgID(event build.StatusEvent) string {
	return fmt.Sprintf("%s:%s:%s", event.TargetID, event.OldStatus, event.NewStatus)
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

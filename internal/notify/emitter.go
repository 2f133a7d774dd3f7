// Package notify publishes case lifecycle events over NATS JetStream so the
// API layer can fan them out to connected review clients.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName  = "CASEEVENTS"
	SubjectBase = "cases"
)

// Emitter is the notification boundary. Implementations must be safe for
// concurrent use.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// NATSEmitter publishes events to the CASEEVENTS JetStream stream.
type NATSEmitter struct {
	nc *nats.Conn
	js jetstream.JetStream
}

var _ Emitter = (*NATSEmitter)(nil)

func NewNATSEmitter(natsURL string) (*NATSEmitter, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &NATSEmitter{nc: nc, js: js}, nil
}

// EnsureStream creates the event stream if it doesn't exist. Retries to
// ride out NATS startup delay.
func (e *NATSEmitter) EnsureStream(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectBase + ".>"},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Description: "Case lifecycle events",
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := e.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// Emit publishes the event. Failures are logged and swallowed: the calling
// transition has already committed and must not be undone by a broker
// hiccup.
func (e *NATSEmitter) Emit(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal event", "type", ev.Type, "error", err)
		return
	}

	subject := fmt.Sprintf("%s.%s", SubjectBase, ev.Type)
	if _, err := e.js.Publish(ctx, subject, payload); err != nil {
		slog.Error("publish event", "type", ev.Type, "person_id", ev.PersonID, "error", err)
	}
}

func (e *NATSEmitter) Ping() error {
	if !e.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (e *NATSEmitter) Close() {
	e.nc.Close()
}

// NopEmitter discards events. Used in tests and in binaries that run
// without a broker.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) {}

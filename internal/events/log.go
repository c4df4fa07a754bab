package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// LogPublisher writes events to a logger. It stands in for the bus when no
// broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, ev Event) error {
	env := NewEnvelope(ev)
	body, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event", "id", env.ID, "type", env.Type, "payload", string(body))
	return nil
}

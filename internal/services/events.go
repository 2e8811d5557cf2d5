package services

import (
	"context"
	"log/slog"

	"libretto/internal/amqp"
)

// EventPublisher publishes ledger lifecycle events. *amqp.Client satisfies
// it; services accept nil when no broker is configured.
type EventPublisher interface {
	Publish(ctx context.Context, event *amqp.LedgerEvent) error
}

// publishEvent sends the event best-effort. A ledger write that already
// committed is never failed because of the broker.
func publishEvent(ctx context.Context, pub EventPublisher, event *amqp.LedgerEvent) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event", "kind", event.Kind, "error", err)
	}
}

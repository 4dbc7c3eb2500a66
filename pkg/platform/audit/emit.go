package audit

import (
	"context"
	"log/slog"

	"trustcore/pkg/attrs"
	txcontext "trustcore/pkg/platform/tx"
	"trustcore/pkg/requestcontext"
)

// Emitter publishes events. Implemented by publisher.Publisher.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Record logs a committed state change and publishes it as an event. The
// actor and request id come from the context. Inside a unit of work the
// event waits for the commit and is dropped on rollback. Publish failures are
// logged and never returned: subscribers cannot affect the operation outcome.
func Record(ctx context.Context, logger *slog.Logger, emitter Emitter, eventType EventType, entityID string, attributes ...any) {
	txcontext.AfterCommit(ctx, func(ctx context.Context) {
		record(ctx, logger, emitter, eventType, entityID, attributes)
	})
}

func record(ctx context.Context, logger *slog.Logger, emitter Emitter, eventType EventType, entityID string, attributes []any) {
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.Caller(ctx).String()

	if logger != nil {
		args := append([]any{"entity_id", entityID, "actor", actor, "request_id", requestID, "log_type", "audit"}, attributes...)
		logger.InfoContext(ctx, string(eventType), args...)
	}
	if emitter == nil {
		return
	}
	err := emitter.Emit(ctx, Event{
		Type:       eventType,
		EntityID:   entityID,
		Actor:      actor,
		RequestID:  requestID,
		OccurredAt: requestcontext.Now(ctx),
		Attributes: attrs.ToStringMap(attributes),
	})
	if err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to publish event", "event_type", string(eventType), "error", err)
	}
}

package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the servers stop before shutting down OTel providers,
// so in-flight async emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
//
// emitter and event may be nil; EmitAsync then returns without starting a goroutine. The emit
// context keeps ctx's values (trace span) but not its cancellation.
func EmitAsync(ctx context.Context, emitter EventEmitter, logger *zap.Logger, event *Event) {
	if emitter == nil || event == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			logger.Warn("telemetry: async emit failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		}
	}()
}

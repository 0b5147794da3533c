package eventbus

import (
	"context"

	"go.uber.org/zap"

	"github.com/netmap-platform/netmap/internal/logging"
)

// Invalidator drops the cached state a tenant change made stale
type Invalidator interface {
	Invalidate(tenant string)
}

// RemoteInvalidation returns a handler that invalidates the local
// registry entry of a tenant when another instance changed its topology.
func RemoteInvalidation(source string, target Invalidator, logger logging.Logger) EventHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return EventHandlerFunc(func(ctx context.Context, event *Event) error {
		if event.Source == source || event.Tenant == "" {
			return nil
		}
		target.Invalidate(event.Tenant)
		logger.Debug(ctx, "Invalidated tenant index after remote change",
			logging.Tenant(event.Tenant),
			zap.String("event_type", string(event.Type)),
			zap.String("source", event.Source))
		return nil
	})
}

package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/artpar/nibble/adapters/metrics"
	"github.com/artpar/nibble/ports"
)

// Dispatcher routes session runtime notifications to engine
// operations. It is the single place that knows which lifecycle
// moment triggers which billing behavior.
type Dispatcher struct {
	engine  *Engine
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewDispatcher creates a dispatcher over the engine.
func NewDispatcher(engine *Engine, logger zerolog.Logger, m *metrics.Collector) *Dispatcher {
	return &Dispatcher{engine: engine, logger: logger, metrics: m}
}

// Dispatch handles one notification. Notifications for sessions the
// runtime has already destroyed are dropped silently; the heartbeat
// and the teardown race by design of the runtime, not ours.
func (d *Dispatcher) Dispatch(ctx context.Context, n ports.Notification) {
	var err error
	switch n.Kind {
	case ports.NotifyHeartbeat:
		if d.metrics != nil {
			d.metrics.HeartbeatTicks.Inc()
		}
		err = d.engine.Bill(ctx, n.SessionID)
	case ports.NotifyRouting:
		err = d.engine.Settle(ctx, n.SessionID)
	case ports.NotifyExecute:
		err = d.engine.Schedule(n.SessionID)
	case ports.NotifyMedia:
		if err = d.engine.Settle(ctx, n.SessionID); err == nil {
			err = d.engine.Schedule(n.SessionID)
		}
	case ports.NotifyHangup:
		err = d.engine.Settle(ctx, n.SessionID)
		d.engine.Forget(n.SessionID)
	default:
		d.logger.Warn().
			Str("kind", string(n.Kind)).
			Str("session", n.SessionID).
			Msg("unknown notification kind")
		return
	}

	if err != nil {
		if isNoSession(err) {
			d.logger.Debug().
				Str("session", n.SessionID).
				Str("kind", string(n.Kind)).
				Msg("notification for destroyed session dropped")
			return
		}
		d.logger.Error().Err(err).
			Str("session", n.SessionID).
			Str("kind", string(n.Kind)).
			Msg("notification handling failed")
	}
}

// Package bridge relays module state events to NATS for upstream consumers
// (home automation, dashboards, alerting). Publishing is fire-and-forget:
// a broker outage never slows down frame handling.
package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/PicklesTheWise/Pickle-Reef/errors"
	"github.com/PicklesTheWise/Pickle-Reef/metric"
	"github.com/PicklesTheWise/Pickle-Reef/modstate"
)

// Bridge publishes module events onto {prefix}.module.{status,alarm,cycle}.
// It implements the state store's notifier interface.
type Bridge struct {
	conn    *nats.Conn
	prefix  string
	metrics *metric.Metrics
	logger  *slog.Logger
}

// Connect dials the broker. Reconnection is handled by the NATS client;
// publishes while disconnected are buffered or dropped by the client, never
// surfaced to callers.
func Connect(url, prefix string, metrics *metric.Metrics, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "reef"
	}

	b := &Bridge{prefix: prefix, metrics: metrics, logger: logger}

	conn, err := nats.Connect(url,
		nats.Name("reefgate-bridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.setConnected(false)
			logger.Warn("bridge disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.setConnected(true)
			logger.Info("bridge reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			b.setConnected(false)
			logger.Info("bridge connection closed")
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "Bridge", "Connect", "NATS dial")
	}

	b.conn = conn
	b.setConnected(true)
	logger.Info("bridge connected", "url", conn.ConnectedUrl(), "prefix", prefix)
	return b, nil
}

func (b *Bridge) setConnected(connected bool) {
	if b.metrics != nil {
		b.metrics.RecordBridgeStatus(connected)
	}
}

// publish marshals and sends one event. Failures are logged and counted,
// never returned: event relay is best-effort.
func (b *Bridge) publish(subject string, event any) {
	if b.conn == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("bridge event marshal failed", "subject", subject, "err", err)
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Warn("bridge publish failed", "subject", subject, "err", err)
		return
	}
	if b.metrics != nil {
		b.metrics.RecordBridgePublished(subject)
	}
}

// ModuleStatus publishes a reconciled status payload.
func (b *Bridge) ModuleStatus(moduleID string, payload map[string]any) {
	b.publish(fmt.Sprintf("%s.module.status", b.prefix), map[string]any{
		"module_id": moduleID,
		"payload":   payload,
	})
}

// ModuleAlarm publishes an alarm transition.
func (b *Bridge) ModuleAlarm(moduleID string, alarm modstate.AlarmEntry) {
	b.publish(fmt.Sprintf("%s.module.alarm", b.prefix), map[string]any{
		"module_id": moduleID,
		"alarm":     alarm,
	})
}

// ModuleCycle publishes a completed activation cycle.
func (b *Bridge) ModuleCycle(entry modstate.CycleEntry) {
	b.publish(fmt.Sprintf("%s.module.cycle", b.prefix), entry)
}

// Close flushes pending publishes and drops the connection.
func (b *Bridge) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("bridge drain failed", "err", err)
		b.conn.Close()
	}
	b.setConnected(false)
}

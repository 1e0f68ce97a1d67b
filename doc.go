// Package picklereef is the root of the reefgate aquarium automation
// gateway. Reefgate terminates websocket connections from tank hardware
// modules (roller filters, auto top-off pumps, heaters, sensors), reconciles
// their partial status frames into authoritative records, derives consumable
// usage and activation history from raw counters, and serves an operator
// REST API alongside Prometheus metrics.
//
// # Architecture
//
//	┌───────────────────────────────┐
//	│       Hardware Modules        │  roller / ATO / heater firmware
//	└──────────────┬────────────────┘
//	               │  websocket frames (status, config, alarm, activations)
//	┌──────────────▼────────────────┐
//	│         gateway/ws            │  normalize, identify, queue, dispatch
//	└──────────────┬────────────────┘
//	┌──────────────▼────────────────┐
//	│          modstate             │  in-memory reconciliation + derivation
//	│  (usage, cycles, alarms,      │
//	│   classification, subsystems) │
//	└───────┬───────────────┬───────┘
//	        │ async         │ events
//	┌───────▼───────┐ ┌─────▼───────┐
//	│     store     │ │   bridge    │
//	│ (SQLite WAL)  │ │ (NATS relay)│
//	└───────────────┘ └─────────────┘
//
// Operators interact through gateway/api: module inventory, control
// commands, cycle and usage history, telemetry, and the websocket trace.
//
// # Packages
//
//   - frame: wire frame normalization and identity resolution
//   - modstate: the authoritative module state table and derivation rules
//   - store: SQLite persistence, retention pruning, trace, rehydration
//   - registry: live connection table for targeted command delivery
//   - gateway/ws: module-facing websocket endpoint
//   - gateway/api: operator-facing REST surface
//   - bridge: fire-and-forget NATS event relay
//   - config: YAML configuration with environment overrides
//   - metric: Prometheus registry and core gateway metrics
//   - errors: classified error handling (transient / invalid / fatal)
//   - pkg/buffer, pkg/retry, pkg/timestamp: shared utilities
//
// # Binary
//
//	go build ./cmd/reefgate
//	./reefgate -config reefgate.yaml
package picklereef

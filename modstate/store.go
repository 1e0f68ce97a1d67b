package modstate

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PicklesTheWise/Pickle-Reef/errors"
	"github.com/PicklesTheWise/Pickle-Reef/frame"
	"github.com/PicklesTheWise/Pickle-Reef/pkg/retry"
	"github.com/PicklesTheWise/Pickle-Reef/pkg/timestamp"
)

// Persister mirrors state mutations to durable storage. All append methods
// are invoked from background goroutines; implementations must be safe for
// concurrent use.
type Persister interface {
	UpsertModule(ctx context.Context, rec Record) error
	AppendSnapshot(ctx context.Context, entry SnapshotEntry) error
	AppendUsage(ctx context.Context, entry UsageEntry) error
	AppendCycle(ctx context.Context, entry CycleEntry) error
	PurgeModule(ctx context.Context, moduleID string) (PurgeCounts, error)
}

// PurgeCounts reports how many dependent rows a purge removed.
type PurgeCounts struct {
	Modules   int64 `json:"modules"`
	Usage     int64 `json:"usage"`
	Cycles    int64 `json:"cycles"`
	Snapshots int64 `json:"snapshots"`
}

// Notifier receives fire-and-forget state events for upstream relay.
// Implementations must not block; a nil Notifier disables relay.
type Notifier interface {
	ModuleStatus(moduleID string, payload map[string]any)
	ModuleAlarm(moduleID string, alarm AlarmEntry)
	ModuleCycle(entry CycleEntry)
}

// Store is the authoritative in-memory module table with asynchronous durable
// mirroring. In-memory mutation is synchronous under one lock, so
// read-after-write within the process is always consistent; the durable copy
// lags and is drained at shutdown.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record

	persister Persister
	notifier  Notifier
	logger    *slog.Logger
	now       func() int64

	pending         sync.WaitGroup
	persistFailures atomic.Int64
	pendingWrites   atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier attaches an upstream event notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() int64) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store backed by the given persister.
func NewStore(persister Persister, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		records:   make(map[string]*Record),
		persister: persister,
		logger:    logger,
		now:       timestamp.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// getOrCreate returns the record for the id, creating a discovering record on
// first sight. Caller must hold s.mu.
func (s *Store) getOrCreate(moduleID string) *Record {
	if rec, ok := s.records[moduleID]; ok {
		return rec
	}
	rec := &Record{
		ModuleID: moduleID,
		Label:    moduleID,
		Status:   StatusDiscovering,
	}
	s.records[moduleID] = rec
	return rec
}

// ApplyStatus reconciles a status frame into the module record: marks it
// online, merges the spool fragment over the stored one (incoming wins
// field-by-field, absent fields preserved), mirrors any heater subsystem
// state, derives a usage delta, and appends a snapshot.
func (s *Store) ApplyStatus(ctx context.Context, moduleID string, payload map[string]any, clientIP string) Record {
	now := s.now()
	incoming := deepCopyMap(payload)
	if incoming == nil {
		incoming = make(map[string]any)
	}
	mirrorHeaterView(incoming)

	s.mu.Lock()
	rec := s.getOrCreate(moduleID)

	previousSpool := deepCopyMap(rec.spoolFragment())
	configSpool := deepCopyMap(rec.configSpool())

	storedSpool := rec.spoolFragment()
	incomingSpool, hasIncomingSpool := frame.Map(incoming, "spool")
	switch {
	case storedSpool != nil && hasIncomingSpool:
		incoming["spool"] = frame.MergeShallow(storedSpool, incomingSpool)
	case storedSpool != nil && !hasIncomingSpool:
		incoming["spool"] = deepCopyMap(storedSpool)
	}

	rec.StatusPayload = incoming
	rec.Status = StatusOnline
	rec.LastSeen = now
	if clientIP != "" {
		rec.IPAddress = clientIP
	}
	if firmware, ok := frame.Str(incoming, "firmware_version", "fw_version"); ok {
		rec.FirmwareVersion = firmware
	}
	if rssi, ok := frame.Num(incoming, "rssi"); ok {
		rec.RSSI = &rssi
	}

	var usage *UsageEntry
	if currentSpool, ok := frame.Map(incoming, "spool"); ok {
		if delta, ok := DeriveUsage(previousSpool, currentSpool, configSpool); ok {
			usage = &UsageEntry{
				ModuleID:       moduleID,
				DeltaEdges:     delta.DeltaEdges,
				DeltaMm:        delta.DeltaMm,
				TotalUsedEdges: delta.TotalUsedEdges,
				RecordedAt:     now,
			}
		}
	}

	snapshot := SnapshotEntry{
		ModuleID:   moduleID,
		Payload:    deepCopyMap(incoming),
		RecordedAt: now,
	}
	result := rec.clone()
	s.mu.Unlock()

	s.schedule(ctx, "UpsertModule", func(ctx context.Context) error {
		return s.persister.UpsertModule(ctx, result)
	})
	s.schedule(ctx, "AppendSnapshot", func(ctx context.Context) error {
		return s.persister.AppendSnapshot(ctx, snapshot)
	})
	if usage != nil {
		entry := *usage
		s.schedule(ctx, "AppendUsage", func(ctx context.Context) error {
			return s.persister.AppendUsage(ctx, entry)
		})
		s.logger.Debug("usage delta derived",
			"module_id", moduleID,
			"delta_edges", entry.DeltaEdges,
			"delta_mm", entry.DeltaMm)
	}
	if s.notifier != nil {
		s.notifier.ModuleStatus(moduleID, deepCopyMap(incoming))
	}
	return result
}

// ApplyConfig replaces the stored config wholesale.
func (s *Store) ApplyConfig(ctx context.Context, moduleID string, payload map[string]any) Record {
	now := s.now()

	s.mu.Lock()
	rec := s.getOrCreate(moduleID)
	rec.ConfigPayload = deepCopyMap(payload)
	rec.LastSeen = now
	if rec.Status == StatusDiscovering {
		rec.Status = StatusOnline
	}
	result := rec.clone()
	s.mu.Unlock()

	s.schedule(ctx, "UpsertModule", func(ctx context.Context) error {
		return s.persister.UpsertModule(ctx, result)
	})
	return result
}

// ApplyManifest merges a module_manifest object into the stored config and
// mirrors its submodules into the subsystems key so subsystem derivation sees
// the manifest ahead of any inferred list.
func (s *Store) ApplyManifest(ctx context.Context, moduleID string, payload map[string]any) Record {
	now := s.now()

	manifest, ok := frame.Map(payload, "module_manifest")
	if !ok {
		manifest = payload
	}
	manifest = deepCopyMap(manifest)

	s.mu.Lock()
	rec := s.getOrCreate(moduleID)
	if rec.ConfigPayload == nil {
		rec.ConfigPayload = make(map[string]any)
	}
	rec.ConfigPayload["module_manifest"] = manifest
	if submodules, ok := frame.Slice(manifest, "submodules"); ok && len(submodules) > 0 {
		rec.ConfigPayload["subsystems"] = submodules
	}
	rec.LastSeen = now
	if rec.Status == StatusDiscovering {
		rec.Status = StatusOnline
	}
	result := rec.clone()
	s.mu.Unlock()

	s.schedule(ctx, "UpsertModule", func(ctx context.Context) error {
		return s.persister.UpsertModule(ctx, result)
	})
	return result
}

// rollerHelperKeys are top-level spool_activations fields folded into the
// spool fragment for firmware that omits the nested object.
var rollerHelperKeys = []string{"activations", "percent_remaining", "used_edges", "remaining_edges", "empty_alarm"}

// pumpHelperKeys is the ato_activations equivalent.
var pumpHelperKeys = []string{"activations", "tank_level_ml", "tank_capacity_ml", "pump_running", "pump_speed", "timeout_alarm", "manual_mode"}

// ApplyActivations folds an activation-counter frame into the module record,
// synthesizing one cycle entry per counter increment and, for roller frames,
// deriving a usage delta from the merged spool state. The first counter
// observation only baselines; counter decreases re-baseline without events.
func (s *Store) ApplyActivations(ctx context.Context, moduleID string, payload map[string]any, kind ActivationKind) Record {
	now := s.now()

	fragmentKey := "spool"
	helperKeys := rollerHelperKeys
	if kind == KindPump {
		fragmentKey = "ato"
		helperKeys = pumpHelperKeys
	}

	fragment := make(map[string]any)
	if nested, ok := frame.Map(payload, fragmentKey); ok {
		fragment = deepCopyMap(nested)
	}
	for _, key := range helperKeys {
		if v, present := payload[key]; present {
			if _, exists := fragment[key]; !exists {
				fragment[key] = v
			}
		}
	}
	if _, exists := fragment["activations"]; !exists {
		if count, present := payload["count"]; present {
			fragment["activations"] = count
		}
	}

	s.mu.Lock()
	rec := s.getOrCreate(moduleID)

	if len(fragment) == 0 {
		result := rec.clone()
		s.mu.Unlock()
		return result
	}

	var stored map[string]any
	if existing, ok := frame.Map(rec.StatusPayload, fragmentKey); ok {
		stored = existing
	}

	prevCount, hadPrevCount := frame.Int(stored, "activations")
	currCount, hasCurrCount := frame.Int(fragment, "activations")

	var prevLevel, currLevel *float64
	if kind == KindPump {
		if level, ok := frame.Num(stored, "tank_level_ml"); ok {
			prevLevel = &level
		}
		if level, ok := frame.Num(fragment, "tank_level_ml"); ok {
			currLevel = &level
		}
	}

	previousSpool := deepCopyMap(stored)
	configSpool := deepCopyMap(rec.configSpool())

	merged := frame.MergeShallow(stored, fragment)
	if rec.StatusPayload == nil {
		rec.StatusPayload = make(map[string]any)
	}
	rec.StatusPayload[fragmentKey] = merged
	rec.LastSeen = now
	if rec.Status == StatusDiscovering {
		rec.Status = StatusOnline
	}

	var cycles []CycleEntry
	if hadPrevCount && hasCurrCount {
		cycles = synthesizeCycles(kind, moduleID, prevCount, currCount, payload, prevLevel, currLevel, now)
	}

	var usage *UsageEntry
	if kind == KindRoller {
		if delta, ok := DeriveUsage(previousSpool, merged, configSpool); ok {
			usage = &UsageEntry{
				ModuleID:       moduleID,
				DeltaEdges:     delta.DeltaEdges,
				DeltaMm:        delta.DeltaMm,
				TotalUsedEdges: delta.TotalUsedEdges,
				RecordedAt:     now,
			}
		}
	}

	result := rec.clone()
	s.mu.Unlock()

	s.schedule(ctx, "UpsertModule", func(ctx context.Context) error {
		return s.persister.UpsertModule(ctx, result)
	})
	for _, cycle := range cycles {
		entry := cycle
		s.schedule(ctx, "AppendCycle", func(ctx context.Context) error {
			return s.persister.AppendCycle(ctx, entry)
		})
		if s.notifier != nil {
			s.notifier.ModuleCycle(entry)
		}
	}
	if usage != nil {
		entry := *usage
		s.schedule(ctx, "AppendUsage", func(ctx context.Context) error {
			return s.persister.AppendUsage(ctx, entry)
		})
	}
	return result
}

// ApplyAlarm reconciles an alarm frame into the module's active alarm set.
// Inactive alarms are removed rather than retained.
func (s *Store) ApplyAlarm(ctx context.Context, moduleID string, payload map[string]any) Record {
	now := s.now()

	alarmPayload, ok := frame.Map(payload, "alarm")
	if !ok {
		// Some firmware sends alarm fields flat.
		if _, hasCode := payload["code"]; hasCode {
			alarmPayload = payload
		}
	}

	entry, valid := normalizeAlarm(alarmPayload, now)

	s.mu.Lock()
	rec := s.getOrCreate(moduleID)
	if valid {
		enrichThermistorMeta(&entry, alarmPayload, rec.heaterSnapshot())
		rec.Alarms = replaceAlarm(rec.Alarms, entry)
	}
	rec.LastSeen = now
	if rec.Status == StatusDiscovering {
		rec.Status = StatusOnline
	}
	result := rec.clone()
	s.mu.Unlock()

	if !valid {
		return result
	}

	s.schedule(ctx, "UpsertModule", func(ctx context.Context) error {
		return s.persister.UpsertModule(ctx, result)
	})
	if s.notifier != nil {
		s.notifier.ModuleAlarm(moduleID, entry)
	}
	return result
}

// RecordCycleFrame appends a module-reported cycle_log frame verbatim.
func (s *Store) RecordCycleFrame(ctx context.Context, moduleID string, payload map[string]any) CycleEntry {
	now := s.now()

	cycleType, ok := frame.Str(payload, "cycle_type")
	if !ok {
		cycleType = "unknown"
	}
	entry := CycleEntry{
		ModuleID:   moduleID,
		CycleType:  cycleType,
		Timeout:    frame.Bool(payload, "timeout"),
		RecordedAt: now,
	}
	if trigger, ok := frame.Str(payload, "trigger", "reason", "source"); ok {
		entry.Trigger = trigger
	}
	if duration, ok := frame.Num(payload, "duration_ms"); ok {
		entry.DurationMs = &duration
	}
	if ts, ok := frame.Num(payload, "timestamp_s"); ok {
		entry.TimestampS = &ts
	}

	s.schedule(ctx, "AppendCycle", func(ctx context.Context) error {
		return s.persister.AppendCycle(ctx, entry)
	})
	if s.notifier != nil {
		s.notifier.ModuleCycle(entry)
	}
	return entry
}

// MarkOffline flags a module offline after its connection drops. Unknown ids
// are a no-op.
func (s *Store) MarkOffline(ctx context.Context, moduleID string) {
	now := s.now()

	s.mu.Lock()
	rec, ok := s.records[moduleID]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.Status = StatusOffline
	rec.LastSeen = now
	result := rec.clone()
	s.mu.Unlock()

	s.schedule(ctx, "UpsertModule", func(ctx context.Context) error {
		return s.persister.UpsertModule(ctx, result)
	})
}

// OperatorUpdate carries the operator-editable fields of a module record.
// Nil pointers leave the current value untouched.
type OperatorUpdate struct {
	Label           *string  `json:"label,omitempty"`
	FirmwareVersion *string  `json:"firmware_version,omitempty"`
	IPAddress       *string  `json:"ip_address,omitempty"`
	RSSI            *float64 `json:"rssi,omitempty"`
	Status          *string  `json:"status,omitempty"`
}

// UpsertOperator applies an operator-initiated update, creating a discovering
// record when the id is new.
func (s *Store) UpsertOperator(ctx context.Context, moduleID string, update OperatorUpdate) Record {
	now := s.now()

	s.mu.Lock()
	rec := s.getOrCreate(moduleID)
	if update.Label != nil && *update.Label != "" {
		rec.Label = *update.Label
	}
	if update.FirmwareVersion != nil {
		rec.FirmwareVersion = *update.FirmwareVersion
	}
	if update.IPAddress != nil {
		rec.IPAddress = *update.IPAddress
	}
	if update.RSSI != nil {
		rssi := *update.RSSI
		rec.RSSI = &rssi
	}
	if update.Status != nil && *update.Status != "" {
		rec.Status = *update.Status
	}
	rec.LastSeen = now
	result := rec.clone()
	s.mu.Unlock()

	s.schedule(ctx, "UpsertModule", func(ctx context.Context) error {
		return s.persister.UpsertModule(ctx, result)
	})
	return result
}

// Get returns a copy of the module record.
func (s *Store) Get(moduleID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[moduleID]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// List returns copies of all records ordered by label, then id.
func (s *Store) List() []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i].Label), strings.ToLower(out[j].Label)
		if li != lj {
			return li < lj
		}
		return out[i].ModuleID < out[j].ModuleID
	})
	return out
}

// Purge removes the module record and all dependent history rows, reporting
// removed counts. Purging an unknown id is a zero-count no-op.
func (s *Store) Purge(ctx context.Context, moduleID string) (PurgeCounts, error) {
	s.mu.Lock()
	_, existed := s.records[moduleID]
	delete(s.records, moduleID)
	s.mu.Unlock()

	counts, err := s.persister.PurgeModule(ctx, moduleID)
	if err != nil {
		return PurgeCounts{}, errors.WrapTransient(err, "Store", "Purge", "delete module rows")
	}
	if existed && counts.Modules == 0 {
		counts.Modules = 1
	}
	return counts, nil
}

// Seed installs a record loaded from durable storage without scheduling a
// write-back, used at startup.
func (s *Store) Seed(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := rec.clone()
	s.records[rec.ModuleID] = &copied
}

// Drain blocks until all scheduled persistence writes complete or the context
// expires.
func (s *Store) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Store", "Drain", "await pending writes")
	}
}

// PersistFailures returns the count of durable writes that have failed.
func (s *Store) PersistFailures() int64 {
	return s.persistFailures.Load()
}

// PendingWrites returns the number of scheduled writes not yet completed.
func (s *Store) PendingWrites() int64 {
	return s.pendingWrites.Load()
}

// schedule runs a persistence operation in the background, shielded from the
// caller's cancellation and retried with backoff against transient storage
// contention. Failures are logged and counted, never propagated: a lost
// durable write must not close the connection that triggered it.
func (s *Store) schedule(ctx context.Context, op string, fn func(context.Context) error) {
	s.pending.Add(1)
	s.pendingWrites.Add(1)
	bg := context.WithoutCancel(ctx)
	go func() {
		defer s.pending.Done()
		defer s.pendingWrites.Add(-1)
		err := retry.Do(bg, retry.DefaultConfig(), func() error {
			return fn(bg)
		})
		if err != nil {
			s.persistFailures.Add(1)
			s.logger.Error("durable write failed", "op", op, "err", err)
		}
	}()
}

// mirrorHeaterView scans a status payload's subsystems list for a heater
// entry with a state object and mirrors it to the heater/heaters keys, giving
// alarm enrichment and classification a single access path regardless of
// firmware schema version. Existing heater keys are left alone.
func mirrorHeaterView(payload map[string]any) {
	if _, exists := payload["heater"]; exists {
		return
	}
	subsystems, ok := frame.Slice(payload, "subsystems")
	if !ok {
		return
	}
	for _, item := range subsystems {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if !isHeaterEntry(entry) {
			continue
		}
		state, ok := frame.Map(entry, "state")
		if !ok {
			continue
		}
		payload["heater"] = state
		if _, exists := payload["heaters"]; !exists {
			payload["heaters"] = []any{state}
		}
		return
	}
}

func isHeaterEntry(entry map[string]any) bool {
	if kind, ok := frame.Str(entry, "kind", "type", "category"); ok {
		if strings.Contains(strings.ToLower(kind), "heat") {
			return true
		}
	}
	if key, ok := frame.Str(entry, "key", "id", "name"); ok {
		if strings.Contains(strings.ToLower(key), "heat") {
			return true
		}
	}
	return false
}

// MergedSpoolState overlays the status spool over the config spool, the view
// the module list endpoint exposes. Nil when neither declares a spool.
func MergedSpoolState(rec *Record) map[string]any {
	configSpool := rec.configSpool()
	statusSpool := rec.spoolFragment()
	if configSpool == nil && statusSpool == nil {
		return nil
	}
	return frame.MergeShallow(configSpool, statusSpool)
}

package door

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nranderson/doggydoor/internal/infrastructure/database"
	"github.com/nranderson/doggydoor/internal/infrastructure/mqtt"
	"github.com/nranderson/doggydoor/internal/lock"
	"github.com/nranderson/doggydoor/internal/proximity"
)

// Triggers recorded against lock transitions.
const (
	TriggerProximity = "proximity"
	TriggerDeparture = "departure"
	TriggerTimeout   = "timeout"
	TriggerMQTT      = "mqtt"
	TriggerAPI       = "api"
	TriggerShutdown  = "shutdown"
)

// ErrAlreadyRunning is returned by Start when the orchestrator is running.
var ErrAlreadyRunning = errors.New("door: orchestrator already running")

// actuationTimeout bounds lock operations that run without a
// caller-supplied context (remote commands, timer callbacks, shutdown).
const actuationTimeout = 10 * time.Second

// LockController is the interface the orchestrator needs from the lock
// package.
type LockController interface {
	Unlock(ctx context.Context) error
	Lock(ctx context.Context) error
	Status() lock.Status
	SetOnAutoRelock(callback func(err error))
}

// ProximityMonitor is the interface the orchestrator needs from the
// proximity package. Events must deliver one event per transition.
type ProximityMonitor interface {
	Events() <-chan proximity.Transition
	Status() proximity.Status
}

// Publisher is the interface for the MQTT surface. May be absent.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// EventStore is the interface for the event journal. May be absent.
type EventStore interface {
	RecordEvent(ctx context.Context, e database.Event) (string, error)
	PruneEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// Telemetry is the interface for time-series output. May be absent.
type Telemetry interface {
	WriteProximity(close bool, distanceFeet float64, rssi int)
	WriteLockEvent(state string, trigger string)
	WriteStatus(lockState string, tagsSeen int, uptime time.Duration)
}

// TagCounter reports how many tags the registry currently tracks.
type TagCounter interface {
	Len() int
}

// Logger is the logging interface for the orchestrator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds orchestrator tuning.
type Config struct {
	// StatusInterval is the period of the status report. Zero
	// disables the reporter.
	StatusInterval time.Duration

	// EventRetention is how long journal rows are kept. The sweep
	// runs daily; zero disables it. Ignored without an event store.
	EventRetention time.Duration
}

// Deps collects the orchestrator's collaborators. Lock and Monitor are
// required; the rest may be nil.
type Deps struct {
	Lock      LockController
	Monitor   ProximityMonitor
	MQTT      Publisher
	Store     EventStore
	Telemetry Telemetry
	Tags      TagCounter
}

// Snapshot is a point-in-time view for the status API and reporter.
type Snapshot struct {
	Lock          lock.Status
	Monitor       proximity.Status
	TagsSeen      int
	Uptime        time.Duration
	MQTTConnected bool
}

// Orchestrator runs the detect-decide-actuate loop.
//
// Thread Safety: Start, Stop via context, ForceLock, ForceUnlock, and
// Snapshot are safe for concurrent use.
type Orchestrator struct {
	cfg    Config
	lock   LockController
	mon    ProximityMonitor
	mqtt   Publisher
	store  EventStore
	tsdb   Telemetry
	tags   TagCounter
	logger Logger
	topics mqtt.Topics

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	done      chan struct{}
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Lock == nil {
		return nil, errors.New("door: lock controller is required")
	}
	if deps.Monitor == nil {
		return nil, errors.New("door: proximity monitor is required")
	}
	return &Orchestrator{
		cfg:    cfg,
		lock:   deps.Lock,
		mon:    deps.Monitor,
		mqtt:   deps.MQTT,
		store:  deps.Store,
		tsdb:   deps.Telemetry,
		tags:   deps.Tags,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the orchestrator.
func (o *Orchestrator) SetLogger(logger Logger) {
	if logger != nil {
		o.logger = logger
	}
}

// Start launches the event loop. The loop runs until ctx is cancelled;
// on exit it performs a best-effort final lock so the door is never
// left open by a shutdown.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	o.startedAt = time.Now()
	o.done = make(chan struct{})
	o.mu.Unlock()

	o.lock.SetOnAutoRelock(o.handleAutoRelock)

	if o.mqtt != nil {
		if err := o.mqtt.Subscribe(o.topics.LockCommand(), 1, o.handleCommand); err != nil {
			o.logger.Warn("lock command subscription failed", "error", err)
		}
	}

	o.recordSystemEvent(ctx, "started", "")
	o.logger.Info("door orchestrator started", "status_interval", o.cfg.StatusInterval)

	go o.loop(ctx)
	return nil
}

// Done returns a channel closed when the event loop has exited.
// Returns nil if the orchestrator was never started.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Snapshot returns the current combined system state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	startedAt := o.startedAt
	o.mu.Unlock()

	s := Snapshot{
		Lock:    o.lock.Status(),
		Monitor: o.mon.Status(),
	}
	if !startedAt.IsZero() {
		s.Uptime = time.Since(startedAt)
	}
	if o.tags != nil {
		s.TagsSeen = o.tags.Len()
	}
	if o.mqtt != nil {
		s.MQTTConnected = o.mqtt.IsConnected()
	}
	return s
}

// ForceUnlock unlocks the door on behalf of an external trigger. The
// auto-relock timer arms as usual. A no-op when already unlocked.
func (o *Orchestrator) ForceUnlock(ctx context.Context, trigger string) error {
	if o.lock.Status().State == lock.StateUnlocked {
		return nil
	}
	if err := o.lock.Unlock(ctx); err != nil {
		o.recordLockEvent(ctx, string(lock.StateLocked), trigger, err.Error())
		return err
	}
	o.announceLockState(ctx, lock.StateUnlocked, trigger)
	return nil
}

// ForceLock locks the door on behalf of an external trigger. A no-op
// when already locked.
func (o *Orchestrator) ForceLock(ctx context.Context, trigger string) error {
	if o.lock.Status().State == lock.StateLocked {
		return nil
	}
	if err := o.lock.Lock(ctx); err != nil {
		o.recordLockEvent(ctx, string(lock.StateUnlocked), trigger, err.Error())
		return err
	}
	o.announceLockState(ctx, lock.StateLocked, trigger)
	return nil
}

// loop consumes monitor transitions and the status ticker until the
// context is cancelled.
func (o *Orchestrator) loop(ctx context.Context) {
	defer func() {
		o.shutdown()
		o.mu.Lock()
		o.running = false
		done := o.done
		o.mu.Unlock()
		close(done)
		o.logger.Info("door orchestrator stopped")
	}()

	var statusCh <-chan time.Time
	if o.cfg.StatusInterval > 0 {
		ticker := time.NewTicker(o.cfg.StatusInterval)
		defer ticker.Stop()
		statusCh = ticker.C
	}

	var pruneCh <-chan time.Time
	if o.cfg.EventRetention > 0 && o.store != nil {
		o.pruneJournal(ctx)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		pruneCh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-o.mon.Events():
			o.handleTransition(ctx, tr)
		case <-statusCh:
			o.reportStatus()
		case <-pruneCh:
			o.pruneJournal(ctx)
		}
	}
}

// pruneJournal deletes journal rows older than the retention period.
func (o *Orchestrator) pruneJournal(ctx context.Context) {
	cutoff := time.Now().Add(-o.cfg.EventRetention)
	deleted, err := o.store.PruneEvents(ctx, cutoff)
	if err != nil {
		o.logger.Error("journal prune failed", "error", err)
		return
	}
	if deleted > 0 {
		o.logger.Info("journal pruned", "deleted", deleted, "cutoff", cutoff)
	}
}

// handleTransition records and publishes a proximity transition, then
// drives the lock in the matching direction.
func (o *Orchestrator) handleTransition(ctx context.Context, tr proximity.Transition) {
	state := "far"
	if tr.Close {
		state = "close"
	}
	o.logger.Info("proximity transition",
		"state", state,
		"distance_feet", tr.DistanceFeet,
		"rssi", tr.RSSI,
	)

	o.recordProximityEvent(ctx, tr, state)
	o.publishProximityState(tr, state)
	if o.tsdb != nil {
		o.tsdb.WriteProximity(tr.Close, finiteOrZero(tr.DistanceFeet), tr.RSSI)
	}

	if tr.Close {
		if err := o.ForceUnlock(ctx, TriggerProximity); err != nil {
			o.logger.Error("proximity unlock failed", "error", err)
		}
		return
	}
	if err := o.ForceLock(ctx, TriggerDeparture); err != nil {
		o.logger.Error("departure lock failed", "error", err)
	}
}

// handleAutoRelock runs after the controller's timer has attempted a
// lock. Successful attempts are announced like any other transition.
func (o *Orchestrator) handleAutoRelock(err error) {
	ctx, cancel := context.WithTimeout(context.Background(), actuationTimeout)
	defer cancel()

	if err != nil {
		o.recordLockEvent(ctx, string(lock.StateUnlocked), TriggerTimeout, err.Error())
		return
	}
	o.announceLockState(ctx, lock.StateLocked, TriggerTimeout)
}

// handleCommand processes remote lock commands. Payloads are "lock" or
// "unlock"; anything else is rejected.
func (o *Orchestrator) handleCommand(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), actuationTimeout)
	defer cancel()

	switch string(payload) {
	case "lock":
		return o.ForceLock(ctx, TriggerMQTT)
	case "unlock":
		return o.ForceUnlock(ctx, TriggerMQTT)
	default:
		return fmt.Errorf("door: unknown command %q on %s", payload, topic)
	}
}

// shutdown performs the best-effort final lock and journals the stop.
func (o *Orchestrator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), actuationTimeout)
	defer cancel()

	if o.lock.Status().State != lock.StateLocked {
		o.logger.Info("locking door before shutdown")
		if err := o.ForceLock(ctx, TriggerShutdown); err != nil {
			o.logger.Error("final lock failed, door may be unlocked", "error", err)
		}
	}
	o.recordSystemEvent(ctx, "stopped", "")
}

// announceLockState journals, publishes, and writes telemetry for a
// completed lock transition.
func (o *Orchestrator) announceLockState(ctx context.Context, state lock.State, trigger string) {
	o.logger.Info("lock state changed", "state", state, "trigger", trigger)
	o.recordLockEvent(ctx, string(state), trigger, "")
	o.publishLockState(state, trigger)
	if o.tsdb != nil {
		o.tsdb.WriteLockEvent(string(state), trigger)
	}
}

// reportStatus emits the periodic status report.
func (o *Orchestrator) reportStatus() {
	snap := o.Snapshot()
	o.logger.Info("status report",
		"lock_state", snap.Lock.State,
		"monitor_state", snap.Monitor.State,
		"close", snap.Monitor.Close,
		"tags_seen", snap.TagsSeen,
		"uptime", snap.Uptime.Round(time.Second),
	)
	o.publishStatusReport(snap)
	if o.tsdb != nil {
		o.tsdb.WriteStatus(string(snap.Lock.State), snap.TagsSeen, snap.Uptime)
	}
}

// --- journal helpers ---

func (o *Orchestrator) recordProximityEvent(ctx context.Context, tr proximity.Transition, state string) {
	if o.store == nil {
		return
	}
	e := database.Event{
		Kind:  database.EventKindProximity,
		State: state,
	}
	if tr.RSSI != 0 {
		d := tr.DistanceFeet
		r := tr.RSSI
		e.DistanceFeet = &d
		e.RSSI = &r
	}
	if _, err := o.store.RecordEvent(ctx, e); err != nil {
		o.logger.Warn("journaling proximity event failed", "error", err)
	}
}

func (o *Orchestrator) recordLockEvent(ctx context.Context, state, trigger, detail string) {
	if o.store == nil {
		return
	}
	if detail == "" {
		detail = trigger
	} else {
		detail = trigger + ": " + detail
	}
	e := database.Event{
		Kind:   database.EventKindLock,
		State:  state,
		Detail: detail,
	}
	if _, err := o.store.RecordEvent(ctx, e); err != nil {
		o.logger.Warn("journaling lock event failed", "error", err)
	}
}

func (o *Orchestrator) recordSystemEvent(ctx context.Context, state, detail string) {
	if o.store == nil {
		return
	}
	e := database.Event{
		Kind:   database.EventKindSystem,
		State:  state,
		Detail: detail,
	}
	if _, err := o.store.RecordEvent(ctx, e); err != nil {
		o.logger.Warn("journaling system event failed", "error", err)
	}
}

// --- MQTT payloads ---

type proximityPayload struct {
	State        string   `json:"state"`
	DistanceFeet *float64 `json:"distance_feet,omitempty"`
	RSSI         int      `json:"rssi,omitempty"`
	At           string   `json:"at"`
}

type lockPayload struct {
	State   string `json:"state"`
	Trigger string `json:"trigger"`
	At      string `json:"at"`
}

type statusPayload struct {
	LockState     string  `json:"lock_state"`
	MonitorState  string  `json:"monitor_state"`
	Close         bool    `json:"close"`
	TagsSeen      int     `json:"tags_seen"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	LastDetection string  `json:"last_detection,omitempty"`
	Timestamp     string  `json:"timestamp"`
}

func (o *Orchestrator) publishProximityState(tr proximity.Transition, state string) {
	if o.mqtt == nil {
		return
	}
	p := proximityPayload{
		State: state,
		RSSI:  tr.RSSI,
		At:    tr.At.UTC().Format(time.RFC3339),
	}
	// +Inf means the tag vanished; JSON has no encoding for it.
	if !math.IsInf(tr.DistanceFeet, 1) {
		d := tr.DistanceFeet
		p.DistanceFeet = &d
	}
	o.publish(o.topics.ProximityState(), p)
}

func (o *Orchestrator) publishLockState(state lock.State, trigger string) {
	if o.mqtt == nil {
		return
	}
	o.publish(o.topics.LockState(), lockPayload{
		State:   string(state),
		Trigger: trigger,
		At:      time.Now().UTC().Format(time.RFC3339),
	})
}

func (o *Orchestrator) publishStatusReport(snap Snapshot) {
	if o.mqtt == nil {
		return
	}
	p := statusPayload{
		LockState:     string(snap.Lock.State),
		MonitorState:  string(snap.Monitor.State),
		Close:         snap.Monitor.Close,
		TagsSeen:      snap.TagsSeen,
		UptimeSeconds: snap.Uptime.Seconds(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if !snap.Monitor.LastDetection.IsZero() {
		p.LastDetection = snap.Monitor.LastDetection.UTC().Format(time.RFC3339)
	}
	o.publish(o.topics.SystemStatus(), p)
}

func (o *Orchestrator) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.Warn("marshalling mqtt payload failed", "topic", topic, "error", err)
		return
	}
	if err := o.mqtt.PublishRetained(topic, data); err != nil {
		o.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// finiteOrZero maps the vanished-tag +Inf distance to zero for sinks
// that cannot represent infinity.
func finiteOrZero(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

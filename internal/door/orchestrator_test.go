package door

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nranderson/doggydoor/internal/infrastructure/database"
	"github.com/nranderson/doggydoor/internal/infrastructure/mqtt"
	"github.com/nranderson/doggydoor/internal/lock"
	"github.com/nranderson/doggydoor/internal/proximity"
)

// fakeLock is an in-memory lock controller with scripted failures.
type fakeLock struct {
	mu           sync.Mutex
	state        lock.State
	unlockErr    error
	lockErr      error
	onAutoRelock func(err error)
}

func newFakeLock() *fakeLock {
	return &fakeLock{state: lock.StateLocked}
}

func (f *fakeLock) Unlock(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unlockErr != nil {
		return f.unlockErr
	}
	f.state = lock.StateUnlocked
	return nil
}

func (f *fakeLock) Lock(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return f.lockErr
	}
	f.state = lock.StateLocked
	return nil
}

func (f *fakeLock) Status() lock.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lock.Status{State: f.state}
}

func (f *fakeLock) SetOnAutoRelock(callback func(err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAutoRelock = callback
}

func (f *fakeLock) currentState() lock.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// fakeMonitor feeds scripted transitions through an events channel.
type fakeMonitor struct {
	events chan proximity.Transition
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{events: make(chan proximity.Transition)}
}

func (f *fakeMonitor) Events() <-chan proximity.Transition { return f.events }

func (f *fakeMonitor) Status() proximity.Status {
	return proximity.Status{State: proximity.StateScanning}
}

// capturePublisher records retained publishes and the subscribed
// command handler.
type capturePublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	handlers map[string]mqtt.MessageHandler
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{
		messages: make(map[string][][]byte),
		handlers: make(map[string]mqtt.MessageHandler),
	}
}

func (p *capturePublisher) PublishRetained(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[topic] = append(p.messages[topic], payload)
	return nil
}

func (p *capturePublisher) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[topic] = handler
	return nil
}

func (p *capturePublisher) IsConnected() bool { return true }

func (p *capturePublisher) lastMessage(topic string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.messages[topic]
	if len(msgs) == 0 {
		return nil, false
	}
	return msgs[len(msgs)-1], true
}

func (p *capturePublisher) handler(topic string) (mqtt.MessageHandler, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handlers[topic]
	return h, ok
}

// memStore journals events in memory.
type memStore struct {
	mu     sync.Mutex
	events []database.Event
	pruned []time.Time
}

func (s *memStore) RecordEvent(_ context.Context, e database.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return "test-id", nil
}

func (s *memStore) PruneEvents(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = append(s.pruned, olderThan)
	return 0, nil
}

func (s *memStore) pruneCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pruned)
}

func (s *memStore) byKind(kind string) []database.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fixedTags struct{ n int }

func (f fixedTags) Len() int { return f.n }

type harness struct {
	orch    *Orchestrator
	lock    *fakeLock
	monitor *fakeMonitor
	pub     *capturePublisher
	store   *memStore
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		lock:    newFakeLock(),
		monitor: newFakeMonitor(),
		pub:     newCapturePublisher(),
		store:   &memStore{},
	}
	orch, err := New(cfg, Deps{
		Lock:    h.lock,
		Monitor: h.monitor,
		MQTT:    h.pub,
		Store:   h.store,
		Tags:    fixedTags{n: 1},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.orch = orch

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	if err := orch.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-orch.Done():
		case <-time.After(2 * time.Second):
			t.Error("orchestrator did not stop")
		}
	})
	return h
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOrchestrator_CloseTransitionUnlocks(t *testing.T) {
	h := newHarness(t, Config{})
	topics := mqtt.Topics{}

	h.monitor.events <- proximity.Transition{
		Close:        true,
		DistanceFeet: 2.1,
		RSSI:         -48,
		At:           time.Now(),
	}

	waitFor(t, func() bool { return h.lock.currentState() == lock.StateUnlocked },
		"door never unlocked after close transition")

	waitFor(t, func() bool {
		_, ok := h.pub.lastMessage(topics.LockState())
		return ok
	}, "lock state never published")

	msg, _ := h.pub.lastMessage(topics.LockState())
	var lp lockPayload
	if err := json.Unmarshal(msg, &lp); err != nil {
		t.Fatalf("unmarshalling lock payload: %v", err)
	}
	if lp.State != "unlocked" || lp.Trigger != TriggerProximity {
		t.Errorf("lock payload = %+v, want unlocked/proximity", lp)
	}

	msg, ok := h.pub.lastMessage(topics.ProximityState())
	if !ok {
		t.Fatal("proximity state never published")
	}
	var pp proximityPayload
	if err := json.Unmarshal(msg, &pp); err != nil {
		t.Fatalf("unmarshalling proximity payload: %v", err)
	}
	if pp.State != "close" || pp.DistanceFeet == nil || *pp.DistanceFeet != 2.1 {
		t.Errorf("proximity payload = %+v, want close at 2.1ft", pp)
	}

	waitFor(t, func() bool { return len(h.store.byKind(database.EventKindLock)) > 0 },
		"lock event never journaled")
	if events := h.store.byKind(database.EventKindProximity); len(events) != 1 {
		t.Errorf("proximity events journaled = %d, want 1", len(events))
	}
}

func TestOrchestrator_FarTransitionLocks(t *testing.T) {
	h := newHarness(t, Config{})
	topics := mqtt.Topics{}

	h.monitor.events <- proximity.Transition{Close: true, DistanceFeet: 1.5, RSSI: -45, At: time.Now()}
	waitFor(t, func() bool { return h.lock.currentState() == lock.StateUnlocked },
		"door never unlocked")

	h.monitor.events <- proximity.Transition{Close: false, DistanceFeet: 12.0, RSSI: -80, At: time.Now()}
	waitFor(t, func() bool { return h.lock.currentState() == lock.StateLocked },
		"door never relocked after far transition")

	waitFor(t, func() bool {
		msg, ok := h.pub.lastMessage(topics.LockState())
		return ok && strings.Contains(string(msg), TriggerDeparture)
	}, "departure lock never published")
}

func TestOrchestrator_VanishedTagOmitsDistance(t *testing.T) {
	h := newHarness(t, Config{})
	topics := mqtt.Topics{}

	h.monitor.events <- proximity.Transition{
		Close:        false,
		DistanceFeet: math.Inf(1),
		RSSI:         0,
		At:           time.Now(),
	}

	waitFor(t, func() bool {
		_, ok := h.pub.lastMessage(topics.ProximityState())
		return ok
	}, "proximity state never published")

	msg, _ := h.pub.lastMessage(topics.ProximityState())
	var pp proximityPayload
	if err := json.Unmarshal(msg, &pp); err != nil {
		t.Fatalf("unmarshalling proximity payload: %v", err)
	}
	if pp.DistanceFeet != nil {
		t.Errorf("DistanceFeet = %v, want omitted for vanished tag", *pp.DistanceFeet)
	}

	if events := h.store.byKind(database.EventKindProximity); len(events) == 1 {
		if events[0].DistanceFeet != nil || events[0].RSSI != nil {
			t.Error("journal row carries measurements for a vanished tag")
		}
	}
}

func TestOrchestrator_RemoteCommands(t *testing.T) {
	h := newHarness(t, Config{})
	topics := mqtt.Topics{}

	handler, ok := h.pub.handler(topics.LockCommand())
	if !ok {
		t.Fatal("lock command topic never subscribed")
	}

	if err := handler(topics.LockCommand(), []byte("unlock")); err != nil {
		t.Fatalf("unlock command error = %v", err)
	}
	if h.lock.currentState() != lock.StateUnlocked {
		t.Error("door not unlocked by remote command")
	}

	if err := handler(topics.LockCommand(), []byte("lock")); err != nil {
		t.Fatalf("lock command error = %v", err)
	}
	if h.lock.currentState() != lock.StateLocked {
		t.Error("door not locked by remote command")
	}

	if err := handler(topics.LockCommand(), []byte("open sesame")); err == nil {
		t.Error("unknown command error = nil, want error")
	}
}

func TestOrchestrator_ShutdownLocksDoor(t *testing.T) {
	h := newHarness(t, Config{})

	h.monitor.events <- proximity.Transition{Close: true, DistanceFeet: 2.0, RSSI: -50, At: time.Now()}
	waitFor(t, func() bool { return h.lock.currentState() == lock.StateUnlocked },
		"door never unlocked")

	h.cancel()
	select {
	case <-h.orch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}

	if h.lock.currentState() != lock.StateLocked {
		t.Error("door left unlocked after shutdown")
	}

	system := h.store.byKind(database.EventKindSystem)
	if len(system) < 2 || system[len(system)-1].State != "stopped" {
		t.Errorf("system events = %+v, want started then stopped", system)
	}
}

func TestOrchestrator_AutoRelockAnnounced(t *testing.T) {
	h := newHarness(t, Config{})
	topics := mqtt.Topics{}

	h.monitor.events <- proximity.Transition{Close: true, DistanceFeet: 2.0, RSSI: -50, At: time.Now()}
	waitFor(t, func() bool { return h.lock.currentState() == lock.StateUnlocked },
		"door never unlocked")

	// Simulate the controller's timer completing a relock.
	h.lock.mu.Lock()
	h.lock.state = lock.StateLocked
	callback := h.lock.onAutoRelock
	h.lock.mu.Unlock()
	if callback == nil {
		t.Fatal("auto-relock callback never registered")
	}
	callback(nil)

	waitFor(t, func() bool {
		msg, ok := h.pub.lastMessage(topics.LockState())
		return ok && strings.Contains(string(msg), TriggerTimeout)
	}, "auto-relock never published")
}

// The retention sweep runs once at startup, then daily.
func TestOrchestrator_JournalPruneOnStart(t *testing.T) {
	h := newHarness(t, Config{EventRetention: 30 * 24 * time.Hour})

	waitFor(t, func() bool {
		return h.store.pruneCalls() >= 1
	}, "journal prune never ran")
}

func TestOrchestrator_StatusReport(t *testing.T) {
	h := newHarness(t, Config{StatusInterval: 20 * time.Millisecond})
	topics := mqtt.Topics{}

	waitFor(t, func() bool {
		_, ok := h.pub.lastMessage(topics.SystemStatus())
		return ok
	}, "status report never published")

	msg, _ := h.pub.lastMessage(topics.SystemStatus())
	var sp statusPayload
	if err := json.Unmarshal(msg, &sp); err != nil {
		t.Fatalf("unmarshalling status payload: %v", err)
	}
	if sp.LockState != "locked" || sp.MonitorState != string(proximity.StateScanning) {
		t.Errorf("status payload = %+v, want locked/scanning", sp)
	}
	if sp.TagsSeen != 1 {
		t.Errorf("TagsSeen = %d, want 1", sp.TagsSeen)
	}
}

func TestOrchestrator_UnlockFailureJournaled(t *testing.T) {
	h := newHarness(t, Config{})

	h.lock.mu.Lock()
	h.lock.unlockErr = errors.New("bridge unreachable")
	h.lock.mu.Unlock()

	h.monitor.events <- proximity.Transition{Close: true, DistanceFeet: 2.0, RSSI: -50, At: time.Now()}

	waitFor(t, func() bool {
		for _, e := range h.store.byKind(database.EventKindLock) {
			if strings.Contains(e.Detail, "bridge unreachable") {
				return true
			}
		}
		return false
	}, "failed unlock never journaled")

	if h.lock.currentState() != lock.StateLocked {
		t.Error("state changed despite unlock failure")
	}
}

func TestOrchestrator_StartTwice(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.orch.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}, Deps{Monitor: newFakeMonitor()}); err == nil {
		t.Error("New() without lock controller error = nil, want error")
	}
	if _, err := New(Config{}, Deps{Lock: newFakeLock()}); err == nil {
		t.Error("New() without monitor error = nil, want error")
	}
}

package proximity

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/nranderson/doggydoor/internal/ble"
	"github.com/nranderson/doggydoor/internal/tag"
)

// State represents the monitor's lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateScanning State = "scanning"
)

// ErrAlreadyScanning is returned by Start when the monitor is running.
// Callers treat it as informational; the running loop is unaffected.
var ErrAlreadyScanning = errors.New("proximity: monitor already scanning")

// Transition is a proximity state change event.
//
// DistanceFeet is +Inf when the transition to FAR was caused by the tag
// disappearing rather than ranging over the threshold.
type Transition struct {
	Close        bool
	DistanceFeet float64
	RSSI         int
	At           time.Time
}

// Status is a point-in-time snapshot for status reporting.
type Status struct {
	State         State
	Close         bool
	DistanceFeet  float64
	LastEvaluated time.Time
	LastDetection time.Time
	LastRSSI      int
}

// Config contains monitor settings.
type Config struct {
	// ThresholdFeet is the CLOSE/FAR boundary. Must be > 0.
	ThresholdFeet float64

	// ScanWindow is the duration of a single discovery window.
	ScanWindow time.Duration

	// ScanInterval is the pause between consecutive windows.
	ScanInterval time.Duration

	// Calibration converts RSSI readings to distance.
	Calibration tag.Calibration
}

// Logger is the logging interface for the monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger discards all output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Monitor drives repeated scan cycles and reports proximity transitions.
//
// Thread Safety: Start, Stop, and Status are safe for concurrent use.
// The Events channel has a single producer (the scan loop).
type Monitor struct {
	cfg        Config
	scanner    ble.Scanner
	classifier *tag.Classifier
	events     chan Transition
	logger     Logger

	mu            sync.Mutex
	state         State
	stopRequested bool
	done          chan struct{}

	// lastClose is nil until the first evaluation, so the first result
	// always fires a transition regardless of direction.
	lastClose     *bool
	lastDistance  float64
	lastEvaluated time.Time
	lastDetection time.Time
	lastRSSI      int
}

// NewMonitor creates a proximity monitor.
//
// Parameters:
//   - cfg: Scan timing, threshold, and calibration
//   - scanner: Radio collaborator supplying scan windows
//   - classifier: Tag classifier for filtering samples
func NewMonitor(cfg Config, scanner ble.Scanner, classifier *tag.Classifier) *Monitor {
	return &Monitor{
		cfg:          cfg,
		scanner:      scanner,
		classifier:   classifier,
		events:       make(chan Transition),
		logger:       noopLogger{},
		state:        StateStopped,
		lastDistance: math.Inf(1),
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Events returns the transition channel. It delivers exactly one event
// per proximity boolean change. The channel stays open across restarts;
// use Done to observe loop exit.
func (m *Monitor) Events() <-chan Transition {
	return m.events
}

// Start launches the scan loop.
//
// Starting an already-scanning monitor is logged and returns
// ErrAlreadyScanning without disturbing the running loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateScanning {
		m.mu.Unlock()
		m.logger.Info("proximity monitor already scanning")
		return ErrAlreadyScanning
	}
	m.state = StateScanning
	m.stopRequested = false
	m.lastClose = nil
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("proximity monitoring started",
		"threshold_feet", m.cfg.ThresholdFeet,
		"scan_window", m.cfg.ScanWindow,
		"scan_interval", m.cfg.ScanInterval,
	)

	go m.loop(ctx)
	return nil
}

// Stop requests a cooperative shutdown of the scan loop. The current
// scan window and the following interval wait are still honoured before
// the loop exits; cancel the Start context for a prompt exit instead.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state != StateScanning {
		m.mu.Unlock()
		return
	}
	m.stopRequested = true
	m.mu.Unlock()
	m.logger.Info("proximity monitor stop requested")
}

// Done returns a channel closed when the scan loop has exited.
// Returns nil if the monitor was never started.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Status returns a snapshot of the monitor's current state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		State:         m.state,
		DistanceFeet:  m.lastDistance,
		LastEvaluated: m.lastEvaluated,
		LastDetection: m.lastDetection,
		LastRSSI:      m.lastRSSI,
	}
	if m.lastClose != nil {
		s.Close = *m.lastClose
	}
	return s
}

// loop runs scan cycles until stopped or the context is cancelled.
func (m *Monitor) loop(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.state = StateStopped
		done := m.done
		m.mu.Unlock()
		close(done)
		m.logger.Info("proximity monitoring stopped")
	}()

	for {
		if m.shouldStop() {
			return
		}

		m.runCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.ScanInterval):
		}
	}
}

// shouldStop reports whether Stop was requested.
func (m *Monitor) shouldStop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopRequested
}

// runCycle executes one scan window and reports any proximity change.
// Scan failures are sensing errors: logged, treated as a no-match cycle,
// and retried next interval.
func (m *Monitor) runCycle(ctx context.Context) {
	samples, err := m.scanner.Scan(ctx, m.cfg.ScanWindow)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("scan window failed, treating as no match", "error", err)
		samples = nil
	}

	detection, found := m.classifier.Closest(samples, m.cfg.Calibration)

	distance := math.Inf(1)
	rssi := 0
	if found {
		distance = detection.DistanceFeet
		rssi = detection.RSSI
		m.logger.Debug("tag detected",
			"address", detection.Sample.Address,
			"rssi", rssi,
			"distance_feet", distance,
		)
	}
	isClose := found && distance <= m.cfg.ThresholdFeet

	now := time.Now()
	m.mu.Lock()
	changed := m.lastClose == nil || *m.lastClose != isClose
	m.lastClose = &isClose
	m.lastDistance = distance
	m.lastEvaluated = now
	if found {
		m.lastDetection = now
		m.lastRSSI = rssi
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.Info("proximity state changed",
		"close", isClose,
		"distance_feet", distance,
	)

	// Blocking rendezvous: the consumer takes the event before the next
	// cycle can begin. Context cancellation breaks the deadlock if the
	// consumer is gone during shutdown.
	select {
	case m.events <- Transition{Close: isClose, DistanceFeet: distance, RSSI: rssi, At: now}:
	case <-ctx.Done():
	}
}

package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the controller's view of the door lock.
type State string

const (
	StateLocked   State = "locked"
	StateUnlocked State = "unlocked"
)

// Sentinel errors for actuation failures. Callers can use errors.Is to
// distinguish which operation failed; the actuator's own error is
// wrapped underneath.
var (
	ErrUnlockFailed = errors.New("unlock actuation failed")
	ErrLockFailed   = errors.New("lock actuation failed")
	ErrQueryFailed  = errors.New("lock state query failed")
)

// defaultActuatorTimeout bounds actuator calls made from the timer
// callback, which has no caller-supplied context.
const defaultActuatorTimeout = 10 * time.Second

// Actuator is the physical lock collaborator.
type Actuator interface {
	// SetLocked drives the lock to the requested position.
	SetLocked(ctx context.Context, locked bool) error
	// Locked reports the physically-observed lock position.
	Locked(ctx context.Context) (bool, error)
}

// Logger is the minimal logging interface the controller needs.
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

// Config holds controller tuning.
type Config struct {
	// RelockAfter is the auto-relock delay following a successful
	// unlock. Must be positive.
	RelockAfter time.Duration

	// FailSafe makes QueryState report locked when the actuator
	// cannot be read.
	FailSafe bool

	// ActuatorTimeout bounds actuator calls issued from the
	// auto-relock timer. Defaults to 10s when zero.
	ActuatorTimeout time.Duration
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State       State
	UnlockedAt  time.Time // zero when never unlocked
	RelockArmed bool
}

// Controller implements the lock state machine.
type Controller struct {
	cfg      Config
	actuator Actuator
	logger   Logger

	mu           sync.Mutex
	state        State
	unlockedAt   time.Time
	timer        *time.Timer
	timerGen     uint64
	onAutoRelock func(err error)

	now func() time.Time
}

// NewController builds a controller starting in the locked state.
func NewController(cfg Config, actuator Actuator) (*Controller, error) {
	if actuator == nil {
		return nil, errors.New("lock: actuator is required")
	}
	if cfg.RelockAfter <= 0 {
		return nil, errors.New("lock: relock delay must be positive")
	}
	if cfg.ActuatorTimeout <= 0 {
		cfg.ActuatorTimeout = defaultActuatorTimeout
	}
	return &Controller{
		cfg:      cfg,
		actuator: actuator,
		logger:   noopLogger{},
		state:    StateLocked,
		now:      time.Now,
	}, nil
}

// SetLogger replaces the controller's logger.
func (c *Controller) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetOnAutoRelock registers a callback invoked after each auto-relock
// attempt, with the attempt's error (nil on success). The callback runs
// on its own goroutine and may call back into the controller.
func (c *Controller) SetOnAutoRelock(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAutoRelock = callback
}

// Unlock drives the door to unlocked and arms the auto-relock timer.
// A no-op when already unlocked. On actuator failure the state stays
// locked and no timer is armed.
func (c *Controller) Unlock(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUnlocked {
		c.logger.Debug("unlock requested while already unlocked")
		return nil
	}
	if err := c.actuator.SetLocked(ctx, false); err != nil {
		c.logger.Error("unlock actuation failed, staying locked", "error", err)
		return fmt.Errorf("%w: %w", ErrUnlockFailed, err)
	}
	c.state = StateUnlocked
	c.unlockedAt = c.now()
	c.armRelockLocked()
	c.logger.Info("door unlocked", "relock_after", c.cfg.RelockAfter)
	return nil
}

// Lock drives the door to locked and cancels any armed auto-relock
// timer. A no-op when already locked. On actuator failure the in-memory
// state stays unlocked and the timer stays armed, so a later automatic
// attempt can still close the door.
func (c *Controller) Lock(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lockLocked(ctx)
}

// lockLocked performs the lock transition. Caller holds c.mu.
func (c *Controller) lockLocked(ctx context.Context) error {
	if c.state == StateLocked {
		c.logger.Debug("lock requested while already locked")
		return nil
	}
	if err := c.actuator.SetLocked(ctx, true); err != nil {
		c.logger.Error("lock actuation failed, physical state unknown", "error", err)
		return fmt.Errorf("%w: %w", ErrLockFailed, err)
	}
	c.state = StateLocked
	c.cancelRelockLocked()
	c.logger.Info("door locked")
	return nil
}

// QueryState returns the physically-reported lock state. When the
// actuator cannot be read and fail-safe mode is enabled, the unknown
// state is reported as locked.
func (c *Controller) QueryState(ctx context.Context) (State, error) {
	locked, err := c.actuator.Locked(ctx)
	if err != nil {
		if c.cfg.FailSafe {
			c.logger.Warn("lock state query failed, fail-safe reports locked", "error", err)
			return StateLocked, nil
		}
		return "", fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	if locked {
		return StateLocked, nil
	}
	return StateUnlocked, nil
}

// Status returns the in-memory controller snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:       c.state,
		UnlockedAt:  c.unlockedAt,
		RelockArmed: c.timer != nil,
	}
}

// armRelockLocked arms a fresh auto-relock timer, invalidating any
// previous one. Caller holds c.mu.
func (c *Controller) armRelockLocked() {
	c.cancelRelockLocked()
	c.timerGen++
	gen := c.timerGen
	c.timer = time.AfterFunc(c.cfg.RelockAfter, func() {
		c.autoRelock(gen)
	})
}

// cancelRelockLocked disarms the active timer, if any. The generation
// bump makes an already-fired callback a no-op. Caller holds c.mu.
func (c *Controller) cancelRelockLocked() {
	if c.timer == nil {
		return
	}
	c.timer.Stop()
	c.timer = nil
	c.timerGen++
}

// autoRelock is the timer callback. A stale generation means the timer
// was cancelled or superseded after the callback was scheduled.
func (c *Controller) autoRelock(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.timerGen {
		return
	}
	c.timer = nil
	if c.state != StateUnlocked {
		return
	}

	c.logger.Info("auto-relock timeout elapsed, locking")
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ActuatorTimeout)
	defer cancel()
	err := c.lockLocked(ctx)
	if err != nil {
		c.logger.Error("auto-relock failed", "error", err)
	}
	if c.onAutoRelock != nil {
		go c.onAutoRelock(err)
	}
}

package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockActuator records SetLocked calls and returns scripted errors.
type mockActuator struct {
	mu        sync.Mutex
	setCalls  []bool
	setErr    error
	locked    bool
	lockedErr error
}

func (m *mockActuator) SetLocked(_ context.Context, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls = append(m.setCalls, locked)
	if m.setErr != nil {
		return m.setErr
	}
	m.locked = locked
	return nil
}

func (m *mockActuator) Locked(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockedErr != nil {
		return false, m.lockedErr
	}
	return m.locked, nil
}

func (m *mockActuator) calls() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bool, len(m.setCalls))
	copy(out, m.setCalls)
	return out
}

func newTestController(t *testing.T, act Actuator, relockAfter time.Duration, failSafe bool) *Controller {
	t.Helper()
	c, err := NewController(Config{RelockAfter: relockAfter, FailSafe: failSafe}, act)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return c
}

func TestController_StartsLocked(t *testing.T) {
	c := newTestController(t, &mockActuator{locked: true}, time.Minute, true)
	st := c.Status()
	if st.State != StateLocked {
		t.Errorf("initial State = %v, want %v", st.State, StateLocked)
	}
	if !st.UnlockedAt.IsZero() {
		t.Errorf("initial UnlockedAt = %v, want zero", st.UnlockedAt)
	}
	if st.RelockArmed {
		t.Error("initial RelockArmed = true, want false")
	}
}

func TestController_UnlockArmsRelockTimer(t *testing.T) {
	act := &mockActuator{locked: true}
	c := newTestController(t, act, time.Minute, true)

	if err := c.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	st := c.Status()
	if st.State != StateUnlocked {
		t.Errorf("State = %v, want %v", st.State, StateUnlocked)
	}
	if st.UnlockedAt.IsZero() {
		t.Error("UnlockedAt is zero, want set")
	}
	if !st.RelockArmed {
		t.Error("RelockArmed = false, want true")
	}
	if got := act.calls(); len(got) != 1 || got[0] != false {
		t.Errorf("actuator calls = %v, want [false]", got)
	}
}

func TestController_UnlockWhileUnlockedIsNoOp(t *testing.T) {
	act := &mockActuator{locked: true}
	c := newTestController(t, act, time.Minute, true)

	if err := c.Unlock(context.Background()); err != nil {
		t.Fatalf("first Unlock() error = %v", err)
	}
	if err := c.Unlock(context.Background()); err != nil {
		t.Fatalf("second Unlock() error = %v", err)
	}
	if got := act.calls(); len(got) != 1 {
		t.Errorf("actuator calls = %v, want exactly one", got)
	}
}

// Locking before the timeout cancels the timer; once the timeout window
// has passed, no automatic actuation has happened.
func TestController_ManualLockCancelsRelock(t *testing.T) {
	act := &mockActuator{locked: true}
	c := newTestController(t, act, 50*time.Millisecond, true)

	ctx := context.Background()
	if err := c.Unlock(ctx); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if err := c.Lock(ctx); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if st := c.Status(); st.RelockArmed {
		t.Error("RelockArmed = true after manual lock, want false")
	}

	time.Sleep(150 * time.Millisecond)

	if got := act.calls(); len(got) != 2 {
		t.Errorf("actuator calls = %v, want [false true] and nothing from the timer", got)
	}
	if st := c.Status(); st.State != StateLocked {
		t.Errorf("State = %v, want %v", st.State, StateLocked)
	}
}

// With no intervening call, the timer relocks and the actuator sees
// exactly one lock call.
func TestController_AutoRelockFires(t *testing.T) {
	act := &mockActuator{locked: true}
	c := newTestController(t, act, 30*time.Millisecond, true)

	if err := c.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	deadline := time.After(time.Second)
	for c.Status().State != StateLocked {
		select {
		case <-deadline:
			t.Fatal("auto-relock never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Allow any stray callback to land before counting.
	time.Sleep(50 * time.Millisecond)
	got := act.calls()
	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Errorf("actuator calls = %v, want [false true]", got)
	}
	if st := c.Status(); st.RelockArmed {
		t.Error("RelockArmed = true after auto-relock, want false")
	}
}

func TestController_AutoRelockCallback(t *testing.T) {
	act := &mockActuator{locked: true}
	c := newTestController(t, act, 30*time.Millisecond, true)

	fired := make(chan error, 1)
	c.SetOnAutoRelock(func(err error) { fired <- err })

	if err := c.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	select {
	case err := <-fired:
		if err != nil {
			t.Errorf("auto-relock callback error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("auto-relock callback never fired")
	}
	if st := c.Status(); st.State != StateLocked {
		t.Errorf("State = %v, want %v", st.State, StateLocked)
	}
}

func TestController_UnlockFailureStaysLocked(t *testing.T) {
	act := &mockActuator{locked: true, setErr: errors.New("bridge unreachable")}
	c := newTestController(t, act, time.Minute, true)

	err := c.Unlock(context.Background())
	if !errors.Is(err, ErrUnlockFailed) {
		t.Fatalf("Unlock() error = %v, want ErrUnlockFailed", err)
	}

	st := c.Status()
	if st.State != StateLocked {
		t.Errorf("State = %v, want %v", st.State, StateLocked)
	}
	if st.RelockArmed {
		t.Error("RelockArmed = true after failed unlock, want false")
	}
}

func TestController_LockFailureLeavesStateUnlocked(t *testing.T) {
	act := &mockActuator{locked: true}
	c := newTestController(t, act, time.Minute, true)

	ctx := context.Background()
	if err := c.Unlock(ctx); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	act.mu.Lock()
	act.setErr = errors.New("bridge unreachable")
	act.mu.Unlock()

	err := c.Lock(ctx)
	if !errors.Is(err, ErrLockFailed) {
		t.Fatalf("Lock() error = %v, want ErrLockFailed", err)
	}

	st := c.Status()
	if st.State != StateUnlocked {
		t.Errorf("State = %v, want %v", st.State, StateUnlocked)
	}
	if !st.RelockArmed {
		t.Error("RelockArmed = false after failed lock, want timer still armed")
	}
}

func TestController_QueryStateFailSafe(t *testing.T) {
	act := &mockActuator{lockedErr: errors.New("bridge unreachable")}

	t.Run("fail-safe reports locked", func(t *testing.T) {
		c := newTestController(t, act, time.Minute, true)
		got, err := c.QueryState(context.Background())
		if err != nil {
			t.Fatalf("QueryState() error = %v", err)
		}
		if got != StateLocked {
			t.Errorf("QueryState() = %v, want %v", got, StateLocked)
		}
	})

	t.Run("without fail-safe the error surfaces", func(t *testing.T) {
		c := newTestController(t, act, time.Minute, false)
		_, err := c.QueryState(context.Background())
		if !errors.Is(err, ErrQueryFailed) {
			t.Errorf("QueryState() error = %v, want ErrQueryFailed", err)
		}
	})
}

func TestController_QueryStateReportsPhysical(t *testing.T) {
	act := &mockActuator{locked: false}
	c := newTestController(t, act, time.Minute, true)

	// In-memory state is locked, the physical door says unlocked. The
	// query reflects the physical reading.
	got, err := c.QueryState(context.Background())
	if err != nil {
		t.Fatalf("QueryState() error = %v", err)
	}
	if got != StateUnlocked {
		t.Errorf("QueryState() = %v, want %v", got, StateUnlocked)
	}
}

func TestNewController_Validation(t *testing.T) {
	if _, err := NewController(Config{RelockAfter: time.Minute}, nil); err == nil {
		t.Error("NewController(nil actuator) error = nil, want error")
	}
	if _, err := NewController(Config{}, &mockActuator{}); err == nil {
		t.Error("NewController(zero relock delay) error = nil, want error")
	}
}

package proximity

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/nranderson/doggydoor/internal/ble"
	"github.com/nranderson/doggydoor/internal/tag"
)

// fakeScanner replays a scripted sequence of scan windows. After the
// script is exhausted it keeps returning the final entry.
type fakeScanner struct {
	mu      sync.Mutex
	windows [][]ble.Sample
	errs    []error
	calls   int
}

func (f *fakeScanner) Scan(_ context.Context, _ time.Duration) ([]ble.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	if idx >= len(f.windows) {
		idx = len(f.windows) - 1
	}
	f.calls++
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	return f.windows[idx], err
}

func (f *fakeScanner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func tagSample(rssi int) ble.Sample {
	return ble.Sample{
		Address:          "AA:BB:CC:DD:EE:FF",
		RSSI:             rssi,
		ManufacturerData: map[uint16][]byte{tag.AppleCompanyID: {0x12, 0x19}},
		ServiceUUIDs:     []string{"fd6f"},
	}
}

func newTestMonitor(t *testing.T, scanner ble.Scanner) *Monitor {
	t.Helper()
	classifier, err := tag.NewClassifier(tag.PolicyAnyTag, "", tag.NewRegistry(16, time.Minute))
	if err != nil {
		t.Fatalf("NewClassifier() error = %v", err)
	}
	return NewMonitor(Config{
		ThresholdFeet: 3.0,
		ScanWindow:    time.Millisecond,
		ScanInterval:  time.Millisecond,
		Calibration:   tag.DefaultCalibration(),
	}, scanner, classifier)
}

// collect drains n transitions or fails after the timeout.
func collect(t *testing.T, events <-chan Transition, n int, timeout time.Duration) []Transition {
	t.Helper()
	var got []Transition
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case tr := <-events:
			got = append(got, tr)
		case <-deadline:
			t.Fatalf("timed out after %v waiting for %d transitions, got %d", timeout, n, len(got))
		}
	}
	return got
}

// The first evaluation always fires, even when the result is FAR.
func TestMonitor_FirstEvaluationFires(t *testing.T) {
	scanner := &fakeScanner{windows: [][]ble.Sample{nil}}
	m := newTestMonitor(t, scanner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got := collect(t, m.Events(), 1, time.Second)
	if got[0].Close {
		t.Error("first transition Close = true, want false (no tag present)")
	}
	if !math.IsInf(got[0].DistanceFeet, 1) {
		t.Errorf("no-match transition DistanceFeet = %v, want +Inf", got[0].DistanceFeet)
	}
}

// One event per boolean change, none for repeated identical results.
func TestMonitor_FiresOnlyOnTransition(t *testing.T) {
	scanner := &fakeScanner{windows: [][]ble.Sample{
		{tagSample(-50)}, // close (≈1.17 ft)
		{tagSample(-50)}, // still close, no event
		{tagSample(-50)},
		{tagSample(-75)}, // far (≈20.7 ft)
		{tagSample(-75)},
		{tagSample(-50)}, // close again
	}}
	m := newTestMonitor(t, scanner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got := collect(t, m.Events(), 3, 2*time.Second)

	want := []bool{true, false, true}
	for i, tr := range got {
		if tr.Close != want[i] {
			t.Errorf("transition %d Close = %v, want %v", i, tr.Close, want[i])
		}
	}
	if got[0].DistanceFeet > 3.0 {
		t.Errorf("close transition distance = %v, want <= threshold", got[0].DistanceFeet)
	}
}

// Scan errors are sensing errors: the cycle counts as no-match and the
// loop keeps running.
func TestMonitor_ScanErrorTreatedAsNoMatch(t *testing.T) {
	scanner := &fakeScanner{
		windows: [][]ble.Sample{
			{tagSample(-50)}, // close
			nil,              // scan failure -> far
			{tagSample(-50)}, // close again, proving the loop survived
		},
		errs: []error{nil, errors.New("hci timeout"), nil},
	}
	m := newTestMonitor(t, scanner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got := collect(t, m.Events(), 3, 2*time.Second)
	want := []bool{true, false, true}
	for i, tr := range got {
		if tr.Close != want[i] {
			t.Errorf("transition %d Close = %v, want %v", i, tr.Close, want[i])
		}
	}
}

func TestMonitor_StartWhileScanning(t *testing.T) {
	scanner := &fakeScanner{windows: [][]ble.Sample{nil}}
	m := newTestMonitor(t, scanner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(ctx); !errors.Is(err, ErrAlreadyScanning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyScanning", err)
	}
	if got := m.Status().State; got != StateScanning {
		t.Errorf("Status().State = %v, want %v", got, StateScanning)
	}
}

func TestMonitor_StopExitsLoop(t *testing.T) {
	scanner := &fakeScanner{windows: [][]ble.Sample{nil}}
	m := newTestMonitor(t, scanner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Drain the first-evaluation event so the loop is not blocked on
	// delivery when Stop lands.
	collect(t, m.Events(), 1, time.Second)

	m.Stop()
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after Stop()")
	}
	if got := m.Status().State; got != StateStopped {
		t.Errorf("Status().State = %v, want %v", got, StateStopped)
	}
}

func TestMonitor_ContextCancelExitsLoop(t *testing.T) {
	scanner := &fakeScanner{windows: [][]ble.Sample{nil}}
	m := newTestMonitor(t, scanner)

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after context cancellation")
	}
}

func TestMonitor_StatusTracksDetections(t *testing.T) {
	scanner := &fakeScanner{windows: [][]ble.Sample{{tagSample(-50)}}}
	m := newTestMonitor(t, scanner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	collect(t, m.Events(), 1, time.Second)

	st := m.Status()
	if !st.Close {
		t.Error("Status().Close = false, want true")
	}
	if st.LastRSSI != -50 {
		t.Errorf("Status().LastRSSI = %d, want -50", st.LastRSSI)
	}
	if st.LastDetection.IsZero() {
		t.Error("Status().LastDetection is zero, want set")
	}
	if scanner.callCount() == 0 {
		t.Error("scanner was never called")
	}
}

// Package lock owns the door lock state machine.
//
// The controller is the single writer of the in-memory lock state. All
// transitions, including the auto-relock timer firing, run under one
// mutex, so a manual Lock or Unlock can never race the timer callback.
// The timer is a cancellable handle owned by the controller; arming a
// new one invalidates any previous handle via a generation counter.
//
// Physical actuation is delegated to an Actuator. The controller is
// fail-safe on that boundary: a failed unlock leaves the state LOCKED,
// and a failed state query reports LOCKED when fail-safe mode is on. A
// failed lock is the one case where in-memory state may diverge from
// the physical door, because the physical outcome is unknown; the error
// is surfaced to the caller rather than guessed at.
package lock

// Package proximity derives a debounced CLOSE/FAR state for the
// monitored tag from repeated BLE scan cycles.
//
// The Monitor runs one scan window per interval, reduces the window to
// the closest tag match (or none), and compares the resulting "within
// threshold" boolean against the last reported value. A Transition is
// delivered on the Events channel only when the boolean changes; the
// first evaluation after Start always counts as a change. A cycle with
// no match, including one whose scan failed, reports FAR with an
// infinite distance.
//
// Delivery is a blocking rendezvous on an unbuffered channel, so a
// transition is handed to the consumer before the next scan cycle can
// begin. Serialisation of the resulting lock actions against the
// auto-relock timer is the lock controller's job, not the monitor's.
package proximity

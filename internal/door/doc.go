// Package door wires proximity detection to the lock controller.
//
// The orchestrator consumes transition events from the proximity
// monitor and drives the lock: a tag arriving inside the threshold
// unlocks the door, a tag leaving locks it, and the controller's own
// auto-relock timer closes it after the configured timeout regardless.
//
// Around that core loop the orchestrator fans state out to the rest of
// the system: every transition and lock change is appended to the
// SQLite event journal, published as a retained MQTT message, and
// written to InfluxDB when telemetry is enabled. A remote command
// topic lets a home-automation hub force the lock either way, and a
// periodic status report covers dashboards that want a heartbeat.
//
// All collaborators except the lock controller and the monitor are
// optional; the orchestrator degrades to a pure detect-and-actuate
// loop when MQTT, the journal, or telemetry are absent.
package door

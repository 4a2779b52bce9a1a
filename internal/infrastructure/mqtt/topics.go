package mqtt

import "fmt"

// Topic prefixes for the doggy door MQTT surface.
//
// The service publishes retained state topics so a home-automation hub
// joining late still sees the current picture, and accepts commands on
// a single command topic.
const (
	// TopicPrefix is the base for all doggy door topics.
	TopicPrefix = "doggydoor"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "doggydoor/system"
)

// Topics provides builders for doggy door MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.LockState()
//	// Returns: "doggydoor/lock/state"
type Topics struct{}

// ProximityState returns the retained topic for proximity transitions.
//
// Example: doggydoor/proximity/state
func (Topics) ProximityState() string {
	return fmt.Sprintf("%s/proximity/state", TopicPrefix)
}

// LockState returns the retained topic for lock state changes.
//
// Example: doggydoor/lock/state
func (Topics) LockState() string {
	return fmt.Sprintf("%s/lock/state", TopicPrefix)
}

// LockCommand returns the topic remote lock commands arrive on.
// Payloads are "lock" or "unlock".
//
// Example: doggydoor/lock/command
func (Topics) LockCommand() string {
	return fmt.Sprintf("%s/lock/command", TopicPrefix)
}

// SystemStatus returns the system status topic. It carries the online
// payload, the graceful offline payload, the LWT crash payload, and the
// periodic status report.
//
// Example: doggydoor/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTopics returns a pattern matching all doggy door topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: doggydoor/#
func (Topics) AllTopics() string {
	return "doggydoor/#"
}

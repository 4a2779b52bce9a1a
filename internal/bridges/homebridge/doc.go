// Package homebridge drives the physical door lock through a
// Homebridge-style accessory HTTP API.
//
// The lock is modelled as a switch characteristic: on means locked.
// The client writes it with PUT /characteristics and reads it back
// with GET /characteristics?id=<aid>.<iid>, authenticating with a
// static bearer token when one is configured. It satisfies the lock
// package's Actuator interface.
package homebridge

// Package tag implements identification and ranging of the monitored
// beacon tag from raw BLE advertisement samples.
//
// Tags rotate their MAC address for privacy, so identity cannot be pinned
// to an address. Classification instead works on advertisement content:
// the vendor's manufacturer data gate, known tag-family service UUIDs,
// known advertising payload type bytes, and a short-lived memory of
// addresses that recently matched. The heuristic deliberately trades
// false positives (another accessory from the same vendor) for recall.
//
// Distance estimation uses the log-distance path-loss model calibrated
// with a reference RSSI at one metre and a path-loss exponent.
//
// The package is pure: no goroutines, no I/O. The only mutable state is
// the Registry of recently matched addresses, which is bounded by both
// capacity and age so long uptimes cannot leak memory.
package tag

package ble

import (
	"context"
	"time"
)

// Sample is one advertisement observed during a scan window.
//
// Addresses are ephemeral: privacy-focused tags rotate their MAC address,
// so a Sample's Address must never be treated as a stable identity.
// Samples are immutable and discarded after one classification pass.
type Sample struct {
	// Address is the advertiser's MAC address, upper-case colon form.
	Address string

	// RSSI is the received signal strength in dBm. Zero means no
	// usable reading was reported by the controller.
	RSSI int

	// Name is the advertised local name, if any.
	Name string

	// ManufacturerData maps Bluetooth SIG company identifiers to the
	// raw vendor payload that followed them.
	ManufacturerData map[uint16][]byte

	// ServiceUUIDs lists advertised service UUIDs in canonical
	// lower-case hex form (16-bit UUIDs as four hex digits).
	ServiceUUIDs []string

	// SeenAt is the wall-clock observation time.
	SeenAt time.Time
}

// HasService reports whether the sample advertised the given service UUID.
// Comparison is case-insensitive on the hex form.
func (s Sample) HasService(uuid string) bool {
	for _, u := range s.ServiceUUIDs {
		if equalFoldASCII(u, uuid) {
			return true
		}
	}
	return false
}

// equalFoldASCII compares two hex UUID strings ignoring ASCII case.
// Avoids strings.EqualFold's Unicode machinery on the hot scan path.
func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Scanner collects advertisement samples over bounded scan windows.
//
// Implementations must return every sample observed during the window,
// duplicates included; deduplication and selection are the caller's
// concern. A nil error with zero samples is a valid quiet window.
type Scanner interface {
	// Scan runs one passive discovery window of the given duration and
	// returns the samples observed. It returns early if ctx is cancelled.
	Scan(ctx context.Context, window time.Duration) ([]Sample, error)
}

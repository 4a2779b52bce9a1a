package tag

import (
	"fmt"
	"strings"

	"github.com/nranderson/doggydoor/internal/ble"
)

// AppleCompanyID is Apple's Bluetooth SIG company identifier, the
// manufacturer gate for the AirTag family.
const AppleCompanyID uint16 = 0x004C

// Known tag-family advertisement fingerprints.
var (
	// tagServiceUUIDs are the offline-finding (FD6F) and continuity
	// (FDAB) service UUIDs AirTags advertise.
	tagServiceUUIDs = []string{"fd6f", "fdab"}

	// tagPayloadTypes are the leading payload bytes of Apple
	// manufacturer data for offline finding (0x12) and nearby
	// action (0x1E) advertisements.
	tagPayloadTypes = []byte{0x12, 0x1E}
)

// tagNameHint matches advertised local names, lower-cased. Most tags
// advertise no name at all, so this rarely fires outside pairing mode.
const tagNameHint = "airtag"

// Policy selects how the classifier pins tag identity.
type Policy string

const (
	// PolicyAnyTag accepts any advertisement matching the tag-family
	// heuristics, regardless of address. This is the default: the
	// monitored tag's address rotates, so it cannot be pinned.
	PolicyAnyTag Policy = "any"

	// PolicyAddress additionally requires an exact address match.
	// Only useful for bench testing with address randomisation off.
	PolicyAddress Policy = "address"
)

// Logger is the minimal logging interface the classifier needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
}

// noopLogger discards all output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Classifier decides whether a single advertisement sample belongs to
// the monitored tag family.
//
// Checks run in order until one succeeds: manufacturer gate, service
// UUID intersection, payload type byte, local name, recent-address
// fallback. Absence
// of the manufacturer gate rejects immediately; registry membership
// alone never overrides a failed gate.
type Classifier struct {
	policy  Policy
	address string // exact address required under PolicyAddress
	recent  *Registry
	logger  Logger
}

// NewClassifier creates a classifier with the given policy.
//
// Parameters:
//   - policy: PolicyAnyTag or PolicyAddress
//   - address: required tag address under PolicyAddress, ignored otherwise
//   - recent: recent-match registry (required; owned by the caller)
//
// Returns:
//   - *Classifier: ready classifier
//   - error: if the policy is unknown or a required address is missing
func NewClassifier(policy Policy, address string, recent *Registry) (*Classifier, error) {
	if recent == nil {
		return nil, fmt.Errorf("classifier: recent-match registry is required")
	}
	switch policy {
	case PolicyAnyTag:
	case PolicyAddress:
		if address == "" {
			return nil, fmt.Errorf("classifier: policy %q requires a tag address", policy)
		}
	default:
		return nil, fmt.Errorf("classifier: unknown policy %q", policy)
	}
	return &Classifier{
		policy:  policy,
		address: normaliseAddress(address),
		recent:  recent,
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets a logger for classification match events.
func (c *Classifier) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// IsMatch reports whether the sample belongs to the monitored tag family.
//
// Positive service-UUID and payload matches register the sample's address
// in the recent-match registry so later content-poor advertisements from
// the same address still match.
func (c *Classifier) IsMatch(sample ble.Sample) bool {
	// Manufacturer gate: a tag from another maker never matches.
	payload, ok := sample.ManufacturerData[AppleCompanyID]
	if !ok {
		return false
	}

	if c.policy == PolicyAddress {
		return normaliseAddress(sample.Address) == c.address
	}

	for _, uuid := range tagServiceUUIDs {
		if sample.HasService(uuid) {
			c.logger.Debug("tag matched by service uuid",
				"address", sample.Address,
				"uuid", uuid,
			)
			c.recent.Add(sample.Address)
			return true
		}
	}

	if len(payload) > 0 {
		for _, pt := range tagPayloadTypes {
			if payload[0] == pt {
				c.logger.Debug("tag matched by payload type",
					"address", sample.Address,
					"payload_type", fmt.Sprintf("%#02x", pt),
				)
				c.recent.Add(sample.Address)
				return true
			}
		}
	}

	if sample.Name != "" && strings.Contains(strings.ToLower(sample.Name), tagNameHint) {
		c.logger.Debug("tag matched by local name",
			"address", sample.Address,
			"name", sample.Name,
		)
		c.recent.Add(sample.Address)
		return true
	}

	// Recency fallback: the tag does not advertise identical content
	// on every beacon interval.
	if c.recent.Contains(sample.Address) {
		c.logger.Debug("tag matched by recent address", "address", sample.Address)
		return true
	}

	return false
}

// Detection is the closest tag match found in one scan window.
type Detection struct {
	Sample       ble.Sample
	DistanceFeet float64
	RSSI         int
}

// Closest filters a scan window's samples through the classifier,
// converts RSSI to distance, and returns the minimum-distance match.
// Ties keep the first-seen sample. The second return is false when no
// sample matched.
func (c *Classifier) Closest(samples []ble.Sample, cal Calibration) (Detection, bool) {
	var (
		best  Detection
		found bool
	)
	for _, sample := range samples {
		if !c.IsMatch(sample) {
			continue
		}
		distance := cal.DistanceFeet(sample.RSSI)
		if !found || distance < best.DistanceFeet {
			best = Detection{
				Sample:       sample,
				DistanceFeet: distance,
				RSSI:         sample.RSSI,
			}
			found = true
		}
	}
	return best, found
}

// normaliseAddress upper-cases an address and unifies separator style so
// user-configured addresses compare against controller-reported ones.
func normaliseAddress(address string) string {
	return strings.ToUpper(strings.ReplaceAll(address, "-", ":"))
}

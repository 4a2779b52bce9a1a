package tag

import "math"

// metersToFeet converts the path-loss model's metric output to feet.
const metersToFeet = 3.28084

// Default calibration values. A reference RSSI of -59 dBm at one metre
// with a free-space exponent of 2.0 suits most small coin-cell beacons.
const (
	DefaultReferenceRSSI    = -59
	DefaultPathLossExponent = 2.0
)

// Calibration holds the RSSI-to-distance conversion parameters.
//
// ReferenceRSSI is the signal strength measured at one metre from the
// tag; PathLossExponent models the environment (2.0 free space, higher
// indoors with obstructions). Immutable after startup.
type Calibration struct {
	ReferenceRSSI    int
	PathLossExponent float64
}

// DefaultCalibration returns the free-space calibration.
func DefaultCalibration() Calibration {
	return Calibration{
		ReferenceRSSI:    DefaultReferenceRSSI,
		PathLossExponent: DefaultPathLossExponent,
	}
}

// DistanceFeet estimates the distance to a tag from one RSSI reading.
//
// An RSSI of zero means the controller had no usable reading; the result
// is +Inf so a threshold comparison always classifies it as far.
//
// The estimate follows the log-distance path-loss law:
//
//	distance_m = 10 ^ ((referenceRSSI - rssi) / (10 * pathLossExponent))
//
// Monotonic: a stronger (less negative) RSSI never yields a larger
// distance.
func (c Calibration) DistanceFeet(rssi int) float64 {
	if rssi == 0 {
		return math.Inf(1)
	}
	meters := math.Pow(10, float64(c.ReferenceRSSI-rssi)/(10*c.PathLossExponent))
	return meters * metersToFeet
}

// RSSIForDistance inverts DistanceFeet for diagnostics and logging.
//
// The result truncates to an integer and must never feed back into
// classification or threshold decisions; it exists only so status output
// can show an approximate RSSI alongside a distance.
func (c Calibration) RSSIForDistance(distanceFeet float64) int {
	meters := distanceFeet / metersToFeet
	return int(float64(c.ReferenceRSSI) - 10*c.PathLossExponent*math.Log10(meters))
}

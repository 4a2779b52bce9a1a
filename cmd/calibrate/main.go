// Calibrate measures RSSI for a tag at a known distance and derives the
// reference RSSI the distance model needs.
//
// Place the tag a measured distance from the doggy door's Bluetooth
// adapter, then run:
//
//	calibrate -address AA:BB:CC:DD:EE:FF -distance 3.0
//
// The tool collects RSSI samples across several scan windows, reports
// mean and spread, and prints the calibration block for config.yaml.
// Address randomisation must be quiet for the few minutes this takes;
// rerun with the current address if the tag rotates mid-calibration.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nranderson/doggydoor/internal/ble"
	"github.com/nranderson/doggydoor/internal/tag"
)

// metersPerFoot converts the operator-supplied distance for the
// path-loss formula, which works in metres.
const metersPerFoot = 1 / 3.28084

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	deviceID := flag.Int("device", 0, "HCI device number (0 for hci0)")
	address := flag.String("address", "", "tag MAC address (AA:BB:CC:DD:EE:FF)")
	distance := flag.Float64("distance", 0, "known distance to the tag in feet")
	samples := flag.Int("samples", 10, "number of scan windows to collect")
	window := flag.Duration("window", 3*time.Second, "scan window duration")
	pause := flag.Duration("pause", 2*time.Second, "pause between windows")
	exponent := flag.Float64("exponent", tag.DefaultPathLossExponent, "path-loss exponent")
	flag.Parse()

	if *address == "" {
		return fmt.Errorf("-address is required")
	}
	if *distance <= 0 {
		return fmt.Errorf("-distance must be positive")
	}
	if *samples <= 0 {
		return fmt.Errorf("-samples must be positive")
	}
	target := normaliseAddress(*address)

	scanner, err := ble.NewHCIScanner(ble.Config{DeviceID: *deviceID})
	if err != nil {
		return fmt.Errorf("opening bluetooth controller: %w", err)
	}
	defer scanner.Close() //nolint:errcheck // Process exits right after

	fmt.Printf("Calibrating %s at %.1f feet, %d windows of %s\n\n", target, *distance, *samples, *window)

	var readings []int
	for i := 0; i < *samples; i++ {
		fmt.Printf("Window %d/%d... ", i+1, *samples)

		scanned, scanErr := scanner.Scan(ctx, *window)
		if scanErr != nil {
			fmt.Printf("scan failed: %v\n", scanErr)
		} else if rssi, found := strongestFor(scanned, target); found {
			readings = append(readings, rssi)
			fmt.Printf("RSSI %d dBm\n", rssi)
		} else {
			fmt.Println("tag not seen")
		}

		if i < *samples-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(*pause):
			}
		}
	}

	if len(readings) == 0 {
		return fmt.Errorf("no RSSI samples collected; make sure the tag is nearby and awake")
	}

	mean, stddev := stats(readings)
	low, high := bounds(readings)

	// Project the measured level back to the 1 m reference point.
	meters := *distance * metersPerFoot
	referenceRSSI := int(math.Round(mean + 10*(*exponent)*math.Log10(meters)))

	fmt.Println("\nCalibration results:")
	fmt.Printf("  Distance:       %.1f feet\n", *distance)
	fmt.Printf("  Samples:        %d of %d windows\n", len(readings), *samples)
	fmt.Printf("  Mean RSSI:      %.1f dBm\n", mean)
	fmt.Printf("  Std deviation:  %.1f dBm\n", stddev)
	fmt.Printf("  Range:          %d to %d dBm\n", low, high)

	fmt.Println("\nSuggested config.yaml block:")
	fmt.Println("calibration:")
	fmt.Printf("  reference_rssi: %d\n", referenceRSSI)
	fmt.Printf("  path_loss_exponent: %.1f\n", *exponent)
	return nil
}

// strongestFor returns the best RSSI the target advertised in one window.
func strongestFor(samples []ble.Sample, target string) (int, bool) {
	best := 0
	found := false
	for _, s := range samples {
		if normaliseAddress(s.Address) != target || s.RSSI == 0 {
			continue
		}
		if !found || s.RSSI > best {
			best = s.RSSI
			found = true
		}
	}
	return best, found
}

// normaliseAddress upper-cases and accepts dash-separated input.
func normaliseAddress(addr string) string {
	return strings.ToUpper(strings.ReplaceAll(addr, "-", ":"))
}

func stats(readings []int) (mean, stddev float64) {
	sum := 0
	for _, r := range readings {
		sum += r
	}
	mean = float64(sum) / float64(len(readings))

	if len(readings) < 2 {
		return mean, 0
	}
	var sq float64
	for _, r := range readings {
		d := float64(r) - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(readings)-1))
}

func bounds(readings []int) (low, high int) {
	low, high = readings[0], readings[0]
	for _, r := range readings[1:] {
		if r < low {
			low = r
		}
		if r > high {
			high = r
		}
	}
	return low, high
}

// Tagscan is a discovery utility for configuring the doggy door service.
//
// It runs a single BLE scan window, classifies every advertisement with
// the same heuristics the service uses, and prints likely tracker tags
// separately from other same-vendor devices. Use it to confirm the
// collar tag is visible before wiring up the daemon.
//
// Tracker tags randomise their MAC address, so the printed addresses
// are transient; the service matches advertising patterns, not
// addresses.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/nranderson/doggydoor/internal/ble"
	"github.com/nranderson/doggydoor/internal/tag"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// device aggregates one advertiser's strongest appearance in the window.
type device struct {
	sample  ble.Sample
	isMatch bool
}

func run(ctx context.Context) error {
	deviceID := flag.Int("device", 0, "HCI device number (0 for hci0)")
	window := flag.Duration("window", 10*time.Second, "scan window duration")
	flag.Parse()

	scanner, err := ble.NewHCIScanner(ble.Config{DeviceID: *deviceID})
	if err != nil {
		return fmt.Errorf("opening bluetooth controller: %w", err)
	}
	defer scanner.Close() //nolint:errcheck // Process exits right after

	registry := tag.NewRegistry(64, 15*time.Minute)
	classifier, err := tag.NewClassifier(tag.PolicyAnyTag, "", registry)
	if err != nil {
		return fmt.Errorf("creating classifier: %w", err)
	}

	fmt.Printf("Scanning hci%d for %s...\n\n", *deviceID, *window)
	samples, err := scanner.Scan(ctx, *window)
	if err != nil {
		return fmt.Errorf("scanning: %w", err)
	}

	// Keep the strongest sample per address. An address counts as a
	// tag if any of its advertisements matched.
	byAddress := make(map[string]ble.Sample)
	matched := make(map[string]bool)
	for _, s := range samples {
		if classifier.IsMatch(s) {
			matched[s.Address] = true
		}
		best, seen := byAddress[s.Address]
		if !seen || s.RSSI > best.RSSI {
			byAddress[s.Address] = s
		}
	}

	var tags, apple []device
	for addr, s := range byAddress {
		d := device{sample: s, isMatch: matched[addr]}
		switch {
		case d.isMatch:
			tags = append(tags, d)
		case hasAppleData(s):
			apple = append(apple, d)
		}
	}
	sortByRSSI(tags)
	sortByRSSI(apple)

	cal := tag.DefaultCalibration()

	if len(tags) > 0 {
		fmt.Println("Likely tracker tags:")
		for _, d := range tags {
			fmt.Printf("  %s  %-20s  RSSI %d dBm  ~%.1f ft\n",
				d.sample.Address, nameOrUnknown(d.sample), d.sample.RSSI,
				cal.DistanceFeet(d.sample.RSSI))
		}
		fmt.Println()
	}

	if len(apple) > 0 {
		fmt.Println("Other Apple devices:")
		for _, d := range apple {
			fmt.Printf("  %s  %-20s  RSSI %d dBm\n",
				d.sample.Address, nameOrUnknown(d.sample), d.sample.RSSI)
		}
		fmt.Println()
	}

	if len(tags) == 0 && len(apple) == 0 {
		fmt.Println("No Apple devices or tracker tags found.")
		fmt.Println("Tips:")
		fmt.Println("  - Make sure the tag is nearby")
		fmt.Println("  - Move the tag to wake it up")
		fmt.Println("  - Check that Bluetooth is enabled")
		return nil
	}

	fmt.Printf("Advertisements seen: %d across %d devices\n", len(samples), len(byAddress))
	return nil
}

func hasAppleData(s ble.Sample) bool {
	_, ok := s.ManufacturerData[tag.AppleCompanyID]
	return ok
}

func nameOrUnknown(s ble.Sample) string {
	if s.Name == "" {
		return "(unknown)"
	}
	return s.Name
}

func sortByRSSI(devices []device) {
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].sample.RSSI > devices[j].sample.RSSI
	})
}

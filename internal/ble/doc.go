// Package ble provides Bluetooth Low Energy scanning for Doggy Door.
//
// It wraps the rigado/ble HCI stack behind a small Scanner interface:
// collect one bounded scan window of advertisement samples, then stop.
// Everything above this package (classification, distance estimation,
// proximity monitoring) works on the Sample value type and never touches
// the radio stack directly, which keeps the core testable with fakes.
//
// # Usage
//
//	scanner, err := ble.NewHCIScanner(ble.Config{DeviceID: 0})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer scanner.Close()
//
//	samples, err := scanner.Scan(ctx, 2*time.Second)
//
// # Thread Safety
//
// HCIScanner serialises scan windows internally; the HCI controller only
// supports one active discovery session at a time.
package ble

package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	rble "github.com/rigado/ble"
	"github.com/rigado/ble/linux"
)

// companyIDLen is the length of the company identifier prefix in
// advertisement manufacturer data (little-endian uint16).
const companyIDLen = 2

// Sentinel errors for scanner operations.
var (
	// ErrDeviceUnavailable indicates the HCI device could not be opened.
	ErrDeviceUnavailable = errors.New("ble: hci device unavailable")

	// ErrScanFailed indicates a scan window failed before completing.
	ErrScanFailed = errors.New("ble: scan failed")
)

// Config contains HCI scanner settings.
type Config struct {
	// DeviceID selects the HCI controller (0 for hci0).
	DeviceID int
}

// HCIScanner is a Scanner backed by a Linux HCI Bluetooth controller.
//
// One discovery session runs at a time; concurrent Scan calls queue on an
// internal mutex rather than fighting over the controller.
type HCIScanner struct {
	dev *linux.Device
	mu  sync.Mutex
}

// NewHCIScanner opens the HCI controller and prepares it for passive scanning.
//
// Parameters:
//   - cfg: Scanner configuration (HCI device selection)
//
// Returns:
//   - *HCIScanner: Ready scanner; callers own Close()
//   - error: ErrDeviceUnavailable (wrapped) if the controller cannot be opened
func NewHCIScanner(cfg Config) (*HCIScanner, error) {
	dev, err := linux.NewDevice(rble.OptDeviceID(cfg.DeviceID))
	if err != nil {
		return nil, fmt.Errorf("%w: hci%d: %v", ErrDeviceUnavailable, cfg.DeviceID, err)
	}
	return &HCIScanner{dev: dev}, nil
}

// Scan implements Scanner.
//
// The window ends on timeout or ctx cancellation; both are normal
// completion, not errors. Controller failures mid-window are wrapped in
// ErrScanFailed.
func (s *HCIScanner) Scan(ctx context.Context, window time.Duration) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scanCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var (
		sampleMu sync.Mutex
		samples  []Sample
	)
	handler := func(a rble.Advertisement) {
		sample := fromAdvertisement(a)
		sampleMu.Lock()
		samples = append(samples, sample)
		sampleMu.Unlock()
	}

	err := s.dev.Scan(scanCtx, true, handler)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}

	sampleMu.Lock()
	defer sampleMu.Unlock()
	return samples, nil
}

// Close releases the HCI controller.
func (s *HCIScanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil
	}
	err := s.dev.Stop()
	s.dev = nil
	if err != nil {
		return fmt.Errorf("closing hci device: %w", err)
	}
	return nil
}

// fromAdvertisement converts a rigado/ble advertisement into a Sample.
func fromAdvertisement(a rble.Advertisement) Sample {
	sample := Sample{
		Address:          strings.ToUpper(a.Addr().String()),
		RSSI:             a.RSSI(),
		Name:             a.LocalName(),
		ManufacturerData: parseManufacturerData(a.ManufacturerData()),
		SeenAt:           time.Now(),
	}
	for _, u := range a.Services() {
		sample.ServiceUUIDs = append(sample.ServiceUUIDs, u.String())
	}
	return sample
}

// parseManufacturerData splits raw AD manufacturer data into a company-ID
// keyed map. The first two bytes are the little-endian company identifier;
// the remainder is the vendor payload.
func parseManufacturerData(raw []byte) map[uint16][]byte {
	if len(raw) < companyIDLen {
		return nil
	}
	company := uint16(raw[0]) | uint16(raw[1])<<8
	payload := make([]byte, len(raw)-companyIDLen)
	copy(payload, raw[companyIDLen:])
	return map[uint16][]byte{company: payload}
}

// Package services implements business logic for the application
package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/versatilecz/evac/internal/advert"
	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/message"
	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/protocol"
	"github.com/versatilecz/evac/internal/state"
)

// ScanProcessor defines the interface for scanner traffic processing
type ScanProcessor interface {
	Process(ctx context.Context, from netip.AddrPort, msg protocol.Message) error
	ProcessDetection(ctx context.Context, req *models.DetectionRequest) error
}

// ScannerService dispatches scanner messages against the shared state
type ScannerService struct {
	state *state.State
	log   *logrus.Entry
}

// NewScannerService creates a new scanner service
func NewScannerService(st *state.State) *ScannerService {
	return &ScannerService{state: st, log: logging.Component("scanner")}
}

var _ ScanProcessor = (*ScannerService)(nil)

// Process handles one decoded datagram received from from
func (s *ScannerService) Process(ctx context.Context, from netip.AddrPort, msg protocol.Message) error {
	switch c := msg.Content.(type) {
	case protocol.Register:
		return s.register(c.Mac, from)
	case protocol.ScanResult:
		return s.state.Update(func(tx *state.Tx) error {
			scanner, ok := tx.Scanners().Resolve(from)
			if !ok {
				s.log.WithField("addr", from).Debug("Scan result from unregistered scanner dropped")
				return nil
			}
			return handleScan(tx, scanner, c.Mac, c.RSSI, c.Data)
		})
	case protocol.Ping, protocol.Pong, protocol.Ok, protocol.Error:
		return s.state.Update(func(tx *state.Tx) error {
			if scanner, ok := tx.Scanners().Resolve(from); ok {
				tx.Scanners().Touch(scanner.UUID, tx.Now())
			}
			return nil
		})
	case protocol.Hello, protocol.Set, protocol.Restart, protocol.Nope:
		// server to scanner messages
		s.log.WithFields(logrus.Fields{"addr": from, "message": msg.String()}).Debug("Ignoring message")
		return nil
	default:
		return fmt.Errorf("unhandled message %s", msg)
	}
}

func (s *ScannerService) register(mac models.MAC, from netip.AddrPort) error {
	return s.state.Update(func(tx *state.Tx) error {
		before, known := tx.Scanners().ByMac(mac)
		scanner, created, displaced := tx.Scanners().Register(mac, from, tx.Now())

		if created {
			s.log.WithFields(logrus.Fields{"mac": mac, "addr": from}).Info("New scanner registered")
		} else {
			// a rebooted scanner gets its configuration back
			tx.Send(protocol.Outbound{
				Target:  scanner.UUID,
				Addr:    from,
				Message: protocol.NewMessage(protocol.SetFromScanner(scanner)),
			})
		}
		if created || !known || before.IP != scanner.IP || before.Port != scanner.Port || len(displaced) > 0 {
			tx.MarkDirty()
		}
		for _, other := range displaced {
			s.log.WithFields(logrus.Fields{"mac": other.Mac, "addr": from}).Info("Scanner address taken over")
			tx.Publish(message.New(message.Scanner.Detail(), other))
		}
		tx.Publish(message.New(message.Scanner.Detail(), scanner))
		return nil
	})
}

// ProcessDetection handles a scan result posted over HTTP. The scanner is
// identified by its mac instead of its socket address.
func (s *ScannerService) ProcessDetection(ctx context.Context, req *models.DetectionRequest) error {
	scannerMac, err := models.ParseMAC(req.ScannerMac)
	if err != nil || len(scannerMac) == 0 {
		return invalid("scanner mac %q", req.ScannerMac)
	}
	mac, err := models.ParseMAC(req.Mac)
	if err != nil || len(mac) == 0 {
		return invalid("device mac %q", req.Mac)
	}
	data, err := hex.DecodeString(strings.TrimSpace(req.Data))
	if err != nil {
		return invalid("advertisement data: %v", err)
	}

	return s.state.Update(func(tx *state.Tx) error {
		scanner, created := tx.Scanners().Ensure(scannerMac, tx.Now())
		if created {
			s.log.WithField("mac", scannerMac).Info("New HTTP scanner registered")
			tx.MarkDirty()
			tx.Publish(message.New(message.Scanner.Detail(), scanner))
		}
		return handleScan(tx, scanner, mac, req.RSSI, data)
	})
}

// handleScan applies one observation of mac by scanner
func handleScan(tx *state.Tx, scanner models.Scanner, mac models.MAC, rssi int32, data []byte) error {
	now := tx.Now()
	tx.Scanners().Touch(scanner.UUID, now)

	device, created := tx.Devices().GetOrCreate(mac, now)
	if created {
		tx.MarkDirty()
		tx.Publish(message.New(message.Device.Detail(), device))
	}

	device.LastActivity = now
	res := advert.Interpret(&device, data)
	if err := tx.Devices().Put(device); err != nil {
		return fmt.Errorf("failed to update device %s: %w", device.Mac, err)
	}
	if res.Changed {
		tx.MarkDirty()
		tx.Publish(message.New(message.Device.Detail(), device))
	}

	if device.Enabled && tx.Tracker().Push(device.UUID, scanner.UUID, now, rssi) {
		if best, ok := tx.Tracker().Best(device.UUID); ok {
			tx.Publish(message.New(message.KindActivity, best))
		}
	}

	for _, kind := range res.Events {
		attributed := scanner.UUID
		if best, ok := tx.Tracker().Best(device.UUID); ok {
			attributed = best.Scanner
		}
		id := device.UUID
		event, _ := tx.Events().Record(models.Event{
			Device:    &id,
			Scanner:   attributed,
			Kind:      kind,
			Timestamp: now,
		})
		tx.Publish(message.New(message.Event.Detail(), event))
	}
	return nil
}

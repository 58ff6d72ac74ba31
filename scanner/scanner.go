package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/rsslink/internal/device"
	"github.com/srg/rsslink/internal/groutine"
	"github.com/srg/rsslink/pkg/stream"
)

// Handler receives the outcome of a matching scan.
type Handler interface {
	OnPeripheralFound(adv device.Advertisement)
	OnScanFailed(err error)
}

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceInfo is a snapshot of one advertiser seen during a scan.
type DeviceInfo struct {
	Address     string
	Name        string
	RSSI        int
	TxPower     int
	Services    []string
	Connectable bool
	Seen        int
	LastSeen    time.Time
	Target      bool
}

type DeviceEvent struct {
	Type       DeviceEventType
	DeviceInfo DeviceInfo
}

// Scanner watches advertisements for a peripheral with a given local name.
//
// Every advertisement lands in a registry keyed by address. In matching mode
// (Start) the radio scan stops on the first name match and the handler is told
// about it; in survey mode (Scan) the scan runs until its context ends.
type Scanner struct {
	radio   device.Scanner
	name    string
	handler Handler
	logger  *logrus.Logger

	devices *hashmap.Map[string, *DeviceInfo]
	events  *stream.RingChannel[DeviceEvent]

	mu       sync.Mutex
	scanning bool
	survey   bool
}

// NewScanner creates a scanner looking for name on radio. handler may be nil.
func NewScanner(radio device.Scanner, name string, handler Handler, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		radio:   radio,
		name:    name,
		handler: handler,
		logger:  logger,
		devices: hashmap.New[string, *DeviceInfo](),
		events:  stream.NewRingChannel[DeviceEvent](100),
	}
}

// Start begins a matching scan. It is a no-op while a scan is running.
func (s *Scanner) Start() error {
	return s.start(false)
}

func (s *Scanner) start(survey bool) error {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return nil
	}
	s.scanning = true
	s.survey = survey
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"target": s.name,
		"survey": survey,
	}).Info("Starting BLE scan...")

	if err := s.radio.StartScan(s); err != nil {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
		return fmt.Errorf("failed to start scan: %w", device.NormalizeError(err))
	}
	return nil
}

// Stop ends the scan. Safe to call at any time.
func (s *Scanner) Stop() error {
	if !s.markStopped() {
		return nil
	}
	return s.stopRadio()
}

// Scanning reports whether a scan is running.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// Scan surveys the air until ctx is done and returns every device seen.
// A name match is flagged but does not stop the scan.
func (s *Scanner) Scan(ctx context.Context) ([]DeviceInfo, error) {
	if err := s.start(true); err != nil {
		return nil, err
	}

	<-ctx.Done()
	if err := s.Stop(); err != nil {
		return nil, err
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	return s.Devices(), nil
}

// Devices returns a snapshot of the registry ordered by address.
func (s *Scanner) Devices() []DeviceInfo {
	devs := make([]DeviceInfo, 0, s.devices.Len())

	s.devices.Range(func(_ string, value *DeviceInfo) bool {
		s.mu.Lock()
		info := *value
		s.mu.Unlock()
		devs = append(devs, info)
		return true
	})

	sort.Slice(devs, func(i, j int) bool { return devs[i].Address < devs[j].Address })
	return devs
}

// Events returns a read-only channel of device events.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// OnScanResult implements device.ScanCallback.
func (s *Scanner) OnScanResult(adv device.Advertisement) {
	event, match := s.record(adv)
	s.events.Send(event)

	if !match {
		return
	}

	s.mu.Lock()
	matched := s.scanning && !s.survey
	if matched {
		s.scanning = false
	}
	s.mu.Unlock()

	if !matched {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"name":    adv.LocalName(),
		"address": adv.Addr(),
		"rssi":    adv.RSSI(),
	}).Info("Found target peripheral")

	if err := s.stopRadio(); err != nil {
		s.logger.WithError(err).Warn("Failed to stop scan after match")
	}
	if s.handler != nil {
		groutine.Guard(s.logger, "scanner.found", func() { s.handler.OnPeripheralFound(adv) })
	}
}

// OnScanFailed implements device.ScanCallback.
func (s *Scanner) OnScanFailed(err error) {
	s.markStopped()
	err = device.NormalizeError(err)
	s.logger.WithError(err).Error("BLE scan failed")

	if s.handler != nil {
		groutine.Guard(s.logger, "scanner.failed", func() { s.handler.OnScanFailed(err) })
	}
}

func (s *Scanner) record(adv device.Advertisement) (DeviceEvent, bool) {
	address := adv.Addr()
	info, existing := s.devices.GetOrInsert(address, &DeviceInfo{Address: address})

	s.mu.Lock()
	if name := adv.LocalName(); name != "" {
		info.Name = name
	}
	info.RSSI = adv.RSSI()
	info.TxPower = adv.TxPowerLevel()
	info.Connectable = adv.Connectable()
	if services := adv.Services(); len(services) > 0 {
		info.Services = device.NormalizeUUIDs(services)
	}
	info.Seen++
	info.LastSeen = time.Now()
	match := s.name != "" && adv.LocalName() == s.name
	if match {
		info.Target = true
	}
	snapshot := *info
	s.mu.Unlock()

	event := DeviceEvent{Type: EventNew, DeviceInfo: snapshot}
	if existing {
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  snapshot.Name,
			"address": snapshot.Address,
			"rssi":    snapshot.RSSI,
		}).Debug("Discovered new device")
	}
	return event, match
}

func (s *Scanner) markStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.scanning
	s.scanning = false
	return was
}

func (s *Scanner) stopRadio() error {
	if err := s.radio.StopScan(); err != nil {
		return fmt.Errorf("failed to stop scan: %w", device.NormalizeError(err))
	}
	return nil
}

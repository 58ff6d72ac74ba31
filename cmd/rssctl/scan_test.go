package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/rsslink/internal/testutils"
)

type ScanTestSuite struct {
	CommandTestSuite
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}

// scan runs the scan command while the sorter and one other device advertise.
func (s *ScanTestSuite) scan(args ...string) (string, string) {
	other := testutils.NewAdvertisementBuilder().
		WithAddress("11:22:33:44:55:66").
		WithRSSI(-80).
		WithServices("180F").
		Build()

	type result struct {
		stdout string
		stderr string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stdout, stderr, err := s.ExecuteCommand(append([]string{"scan", "--duration", "300ms"}, args...)...)
		done <- result{stdout, stderr, err}
	}()

	s.Require().Eventually(func() bool {
		return s.Adapter.Advertise(s.WithPeripheral().Advertisement())
	}, testutils.DefaultWait, 5*time.Millisecond, "scan MUST start")
	s.Require().True(s.Adapter.Advertise(other))
	s.Require().True(s.Adapter.Advertise(other))

	r := <-done
	s.Require().NoError(r.err)
	return r.stdout, r.stderr
}

func (s *ScanTestSuite) TestScanTable() {
	stdout, stderr := s.scan()

	testutils.AssertText(s.T(), stdout, `
ADDRESS            NAME                    RSSI  SEEN  SERVICES
11:22:33:44:55:66  -                       -80   2     Battery Service (180f)
AA:BB:CC:DD:EE:01  Robotic Sorting System  -60   1     -                       <- sorter

2 device(s) found.
`)
	s.False(s.Adapter.Scanning(), "scan MUST stop the radio")

	s.Contains(stderr, "  found AA:BB:CC:DD:EE:01 (Robotic Sorting System) -60 dBm\n")
	s.Contains(stderr, "  found 11:22:33:44:55:66 -80 dBm\n")
	s.Equal(1, strings.Count(stderr, "found 11:22:33:44:55:66"), "repeat advertisements are not reported again")
}

func (s *ScanTestSuite) TestScanJSON() {
	stdout, stderr := s.scan("--format", "json")
	s.NotContains(stderr, "found")

	testutils.AssertJSON(s.T(), stdout, `[
		{"address": "11:22:33:44:55:66", "rssi": -80, "tx_power": 0, "services": ["180f"], "connectable": true, "seen": 2, "target": false},
		{"address": "AA:BB:CC:DD:EE:01", "name": "Robotic Sorting System", "rssi": -60, "tx_power": 0, "connectable": true, "seen": 1, "target": true}
	]`, testutils.WithIgnoredFields("last_seen"))
}

func (s *ScanTestSuite) TestScanNothingFound() {
	stdout, stderr, err := s.ExecuteCommand("scan", "--duration", "50ms")
	s.Require().NoError(err)
	s.Contains(stderr, "Scanning for 50ms...")
	testutils.AssertText(s.T(), stdout, "No devices found.")
}

func (s *ScanTestSuite) TestScanInvalidFormat() {
	_, _, err := s.ExecuteCommand("scan", "--format", "yaml")
	s.Require().Error(err)
	s.Contains(err.Error(), "invalid format 'yaml'")

	started, _ := s.Adapter.ScanCounts()
	s.Zero(started)
}

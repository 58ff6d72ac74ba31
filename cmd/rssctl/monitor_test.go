package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/rsslink/internal/device"
	"github.com/srg/rsslink/internal/metrics"
	"github.com/srg/rsslink/internal/session"
	"github.com/srg/rsslink/internal/testutils"
	"github.com/srg/rsslink/pkg/rss"
)

type MonitorTestSuite struct {
	CommandTestSuite
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}

func (s *MonitorTestSuite) seeded(g *testutils.FakeGatt) bool {
	log := strings.Join(g.Log(), "\n")
	return strings.Contains(log, "read 4f5641bf") && strings.Contains(log, "read 89097689")
}

func (s *MonitorTestSuite) TestMonitorPrintsUpdatesAndReconnects() {
	type result struct {
		stdout string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stdout, _, err := s.ExecuteCommand("monitor", "--duration", "1500ms")
		done <- result{stdout, err}
	}()

	s.Require().Eventually(func() bool {
		return s.Adapter.Advertise(s.WithPeripheral().Advertisement())
	}, testutils.DefaultWait, 5*time.Millisecond)
	s.Require().Eventually(func() bool {
		g := s.Adapter.LastGatt()
		return g != nil && s.seeded(g)
	}, testutils.DefaultWait, 5*time.Millisecond)

	s.Gatt().Notify(testutils.RSSWeight, []byte{5, 255, 0})
	s.Gatt().SimulateDisconnect(device.StatusSuccess)

	s.Require().Eventually(func() bool {
		return len(s.Adapter.Gatts()) == 2
	}, testutils.DefaultWait, 5*time.Millisecond, "monitor MUST reconnect after the link drops")

	r := <-done
	s.Require().NoError(r.err)
	s.Contains(r.stdout, "bin1=12 bin2=34 sensor=ok")
	s.Contains(r.stdout, "mode=size cutoff=20cm belt=running")
	s.Contains(r.stdout, "bin1=5 bin2=fault sensor=ok")
	s.Contains(r.stdout, "success(disconnected)")
	s.True(s.Adapter.LastGatt().Closed(), "monitor MUST release the connection on exit")
}

func (s *MonitorTestSuite) TestMonitorReconnectsAfterLinkLossWithFailureStatus() {
	done := make(chan error, 1)
	go func() {
		_, _, err := s.ExecuteCommand("monitor", "--duration", "1s")
		done <- err
	}()

	s.Require().Eventually(func() bool {
		return s.Adapter.Advertise(s.WithPeripheral().Advertisement())
	}, testutils.DefaultWait, 5*time.Millisecond)
	s.Require().Eventually(func() bool {
		g := s.Adapter.LastGatt()
		return g != nil && s.seeded(g)
	}, testutils.DefaultWait, 5*time.Millisecond)

	s.Gatt().SimulateDisconnect(device.StatusFailure)

	s.Require().Eventually(func() bool {
		gatts := s.Adapter.Gatts()
		return len(gatts) == 2 && s.seeded(gatts[1])
	}, testutils.DefaultWait, 5*time.Millisecond, "monitor MUST reconnect after the link is lost")

	s.Require().NoError(<-done)
}

func (s *MonitorTestSuite) TestMonitorRefresh() {
	done := make(chan error, 1)
	go func() {
		_, _, err := s.ExecuteCommand("monitor", "--duration", "1500ms", "--refresh", "50ms")
		done <- err
	}()

	s.Require().Eventually(func() bool {
		return s.Adapter.Advertise(s.WithPeripheral().Advertisement())
	}, testutils.DefaultWait, 5*time.Millisecond)

	// One seed read on connect, then at least two refreshes.
	s.Require().Eventually(func() bool {
		g := s.Adapter.LastGatt()
		if g == nil {
			return false
		}
		reads := 0
		for _, entry := range g.Log() {
			if entry == "read 4f5641bf" {
				reads++
			}
		}
		return reads >= 3
	}, testutils.DefaultWait, 5*time.Millisecond)

	s.Require().NoError(<-done)
	s.Len(s.Adapter.Gatts(), 1)
}

func (s *MonitorTestSuite) TestMonitorJSON() {
	stdout, _, err := s.ExecuteWithPeripheral("monitor", "--duration", "300ms", "--format", "json")
	s.Require().NoError(err)

	var weights int
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if strings.Contains(line, `"stream":"weight"`) {
			weights++
			testutils.AssertJSON(s.T(), line, `{
				"stream": "weight",
				"kind": "success",
				"data": {"bins": [12, 34], "sensor_status": 0, "sensor_ok": true, "raw": "0c 22 00"}
			}`, testutils.WithIgnoredFields("time"))
		}
	}
	s.GreaterOrEqual(weights, 1)
	s.Contains(stdout, `"data":{"state":"connected"}`)
}

func (s *MonitorTestSuite) TestMonitorRejectsBadMetricsAddress() {
	_, _, err := s.ExecuteCommand("monitor", "--metrics-addr", "not-an-address")
	s.Require().Error(err)
	s.Contains(err.Error(), "failed to listen")
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector()
	collector.Register(reg)
	collector.ConnectionAttempt(session.OutcomeSuccess)
	collector.StateChanged(session.Ready)

	srv := httptest.NewServer(metricsHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rsslink_connection_attempts_total{outcome="success"} 1`)
	assert.Contains(t, string(body), `rsslink_session_state{state="ready"} 1`)

	notFound, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	notFound.Body.Close()
	assert.Equal(t, http.StatusNotFound, notFound.StatusCode)
}

func TestEventPrinterText(t *testing.T) {
	var buf bytes.Buffer
	p := newEventPrinter(&buf, "text")
	p.now = func() time.Time { return time.Date(2024, 1, 2, 13, 4, 5, 6e6, time.UTC) }

	p.print(rss.StreamConnectionState, rss.KindLoading, "loading(scanning)", nil)
	p.print(rss.StreamWeight, rss.KindError, "error(read failed)", nil)

	testutils.AssertText(t, buf.String(), `
13:04:05.006  connection    loading(scanning)
13:04:05.006  weight        error(read failed)
`)
}

func TestEventPrinterJSONError(t *testing.T) {
	var buf bytes.Buffer
	p := newEventPrinter(&buf, "json")
	p.now = func() time.Time { return time.Date(2024, 1, 2, 13, 4, 5, 0, time.UTC) }

	p.print(rss.StreamConnectionState, rss.KindError, "", rss.Failure[rss.ConnectionStatePackage](errors.New("link lost")))

	testutils.AssertJSON(t, buf.String(),
		`{"time": "2024-01-02T13:04:05Z", "stream": "connection", "kind": "error", "message": "link lost"}`)
}

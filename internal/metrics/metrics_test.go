package metrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/rsslink/internal/metrics"
	"github.com/srg/rsslink/internal/queue"
	"github.com/srg/rsslink/internal/session"
)

func TestCollectorRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector()
	c.Register(reg)

	c.ConnectionAttempt(session.OutcomeSuccess)
	c.OperationDone(queue.Read, session.OutcomeSuccess)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"rsslink_connection_attempts_total",
		"rsslink_gatt_operations_total",
		"rsslink_session_state",
		"rsslink_operation_queue_depth",
	}, names)
}

func TestCollectorCounts(t *testing.T) {
	c := metrics.NewCollector()
	reg := prometheus.NewPedanticRegistry()
	c.Register(reg)

	c.ConnectionAttempt(session.OutcomeSuccess)
	c.ConnectionAttempt(session.OutcomeFailure)
	c.ConnectionAttempt(session.OutcomeFailure)
	c.OperationDone(queue.Read, session.OutcomeSuccess)
	c.OperationDone(queue.Read, session.OutcomeTimeout)
	c.OperationDone(queue.Write, session.OutcomeSuccess)
	c.QueueDepth(3)

	ops, err := testutil.GatherAndCount(reg, "rsslink_gatt_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 3, ops)

	expected := `
# HELP rsslink_connection_attempts_total Connection attempts by outcome.
# TYPE rsslink_connection_attempts_total counter
rsslink_connection_attempts_total{outcome="failure"} 2
rsslink_connection_attempts_total{outcome="success"} 1
# HELP rsslink_operation_queue_depth Operations queued or in flight.
# TYPE rsslink_operation_queue_depth gauge
rsslink_operation_queue_depth 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"rsslink_connection_attempts_total", "rsslink_operation_queue_depth"))
}

func TestStateGaugeIsOneHot(t *testing.T) {
	c := metrics.NewCollector()
	reg := prometheus.NewRegistry()
	c.Register(reg)

	c.StateChanged(session.Ready)

	expected := `
# HELP rsslink_session_state 1 for the current session state, 0 for the others.
# TYPE rsslink_session_state gauge
rsslink_session_state{state="connecting"} 0
rsslink_session_state{state="disconnected"} 0
rsslink_session_state{state="discovering services"} 0
rsslink_session_state{state="ready"} 1
rsslink_session_state{state="scanning"} 0
rsslink_session_state{state="uninitialized"} 0
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "rsslink_session_state"))
}

package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// Sorting system profile used across tests.
const (
	RSSName          = "Robotic Sorting System"
	RSSAddress       = "AA:BB:CC:DD:EE:01"
	RSSService       = "4f5a4acc-6434-4d33-a791-589fdca0daf5"
	RSSWeight        = "4f5641bf-1119-4d1f-932d-fff7840ddc02"
	RSSConfiguration = "89097689-8bc2-44cb-9142-f17c71ed24f8"
)

// DefaultWait bounds how long helpers wait for asynchronous results.
const DefaultWait = 2 * time.Second

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// NewRSSPeripheral returns a builder preloaded with the sorting system profile:
// weight is read/notify with two bins and a status byte, configuration is read/write.
func NewRSSPeripheral() *PeripheralBuilder {
	return NewPeripheralBuilder().
		WithName(RSSName).
		WithAddress(RSSAddress).
		WithService("1800").
		WithCharacteristic("2a00", "read", []byte(RSSName)).
		WithService(RSSService).
		WithCharacteristic(RSSWeight, "read,notify", []byte{12, 34, 0}).
		WithCharacteristic(RSSConfiguration, "read,write", []byte{1, 20, 0, 1})
}

// Receive waits for the next value on ch. It fails the test on timeout or a closed channel.
func Receive[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting for a value")
		}
		return v
	case <-time.After(DefaultWait):
		t.Fatalf("timed out after %s waiting for a value", DefaultWait)
	}
	var zero T
	return zero
}

// WaitFor skips values until match returns true and returns that value.
func WaitFor[T any](t testing.TB, ch <-chan T, match func(T) bool) T {
	t.Helper()

	deadline := time.After(DefaultWait)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed while waiting for a matching value")
			}
			if match(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out after %s waiting for a matching value", DefaultWait)
			var zero T
			return zero
		}
	}
}

// AssertQuiet fails the test if ch delivers anything within d.
func AssertQuiet[T any](t testing.TB, ch <-chan T, d time.Duration) {
	t.Helper()

	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value: %+v", v)
		}
	case <-time.After(d):
	}
}

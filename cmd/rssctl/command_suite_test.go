package main

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/srg/rsslink/internal/device"
	"github.com/srg/rsslink/internal/testutils"
)

// CommandTestSuite runs rssctl commands against a FakeAdapter.
// All cmd/rssctl test suites should embed this instead of FakePeripheralSuite.
type CommandTestSuite struct {
	testutils.FakePeripheralSuite

	originalFactory func(string, []string, *logrus.Logger) (device.Adapter, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.FakePeripheralSuite.SetupTest()

	s.originalFactory = adapterFactory
	adapterFactory = func(string, []string, *logrus.Logger) (device.Adapter, error) {
		return s.Adapter, nil
	}
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownTest() {
	adapterFactory = s.originalFactory
	s.FakePeripheralSuite.TearDownTest()
}

// ExecuteCommand runs rssctl with args on a fresh command tree.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (stdout, stderr string, err error) {
	// Logs and progress are written from several goroutines
	var out, errOut syncBuffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// ExecuteWithPeripheral runs rssctl with args while the peripheral advertises
// as soon as the command starts scanning.
func (s *CommandTestSuite) ExecuteWithPeripheral(args ...string) (string, string, error) {
	type result struct {
		stdout, stderr string
		err            error
	}
	done := make(chan result, 1)
	go func() {
		stdout, stderr, err := s.ExecuteCommand(args...)
		done <- result{stdout, stderr, err}
	}()

	adv := s.WithPeripheral().Advertisement()
	s.Require().Eventually(func() bool {
		return s.Adapter.Advertise(adv)
	}, testutils.DefaultWait, 5*time.Millisecond, "command MUST start scanning")

	select {
	case r := <-done:
		return r.stdout, r.stderr, r.err
	case <-time.After(2 * testutils.DefaultWait):
		s.FailNow("command did not finish")
		return "", "", nil
	}
}

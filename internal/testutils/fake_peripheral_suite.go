package testutils

import (
	"github.com/stretchr/testify/suite"
)

// FakePeripheralSuite provides a reusable test suite backed by a FakeAdapter.
//
// Basic usage (sorting system peripheral with default values):
//
//	type ManagerSuite struct {
//	    testutils.FakePeripheralSuite
//	}
//
//	func TestManagerSuite(t *testing.T) {
//	    suite.Run(t, new(ManagerSuite))
//	}
//
// Custom peripheral usage:
//
//	func (s *ManagerSuite) SetupTest() {
//	    s.WithPeripheral().WithSilentRead(testutils.RSSWeight)
//	    s.FakePeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type FakePeripheralSuite struct {
	suite.Suite

	Helper     *TestHelper
	Adapter    *FakeAdapter
	Peripheral *FakePeripheral

	builder *PeripheralBuilder
}

// WithPeripheral returns the builder for this test's peripheral, creating the default one on first use.
func (s *FakePeripheralSuite) WithPeripheral() *PeripheralBuilder {
	if s.builder == nil {
		s.builder = NewRSSPeripheral()
	}
	return s.builder
}

// SetupTest builds the peripheral and the adapter.
func (s *FakePeripheralSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Peripheral = s.WithPeripheral().Build()
	s.Adapter = NewFakeAdapter(s.Peripheral)
}

// TearDownTest resets the builder so the next test starts from the default profile.
func (s *FakePeripheralSuite) TearDownTest() {
	s.builder = nil
}

// Gatt returns the most recent handle, failing the test if none was opened.
func (s *FakePeripheralSuite) Gatt() *FakeGatt {
	g := s.Adapter.LastGatt()
	s.Require().NotNil(g, "no GATT connection was opened")
	return g
}

package rss

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/rsslink/internal/bledb"
	"github.com/srg/rsslink/internal/device"
	"github.com/srg/rsslink/internal/journal"
	"github.com/srg/rsslink/internal/queue"
	"github.com/srg/rsslink/internal/session"
	"github.com/srg/rsslink/pkg/stream"
	"github.com/srg/rsslink/scanner"
)

// Interface is what consumers of the sorting system use.
type Interface interface {
	Weight() *stream.Subscription[Result[WeightPackage]]
	Configuration() *stream.Subscription[Result[ConfigurationPackage]]
	ConnectionState() *stream.Subscription[Result[ConnectionStatePackage]]

	Receive()
	Reconnect()
	Disconnect()
	CloseConnection()
	Write(config []byte) error
}

// Stream names used in History.
const (
	StreamWeight          = "weight"
	StreamConfiguration   = "configuration"
	StreamConnectionState = "connection"
)

// Event is one published value as kept in History.
type Event struct {
	Time    time.Time
	Stream  string
	Kind    ResultKind
	Message string
}

// Manager ties the scanner and the GATT session together and publishes
// decoded characteristic values.
type Manager struct {
	identity PeripheralIdentity
	opts     Options
	logger   *logrus.Logger

	session *session.Session
	scanner *scanner.Scanner

	weight        *stream.Topic[Result[WeightPackage]]
	configuration *stream.Topic[Result[ConfigurationPackage]]
	connection    *stream.Topic[Result[ConnectionStatePackage]]
	history       *journal.Journal[Event]

	mu     sync.Mutex
	state  atomic.Int32
	closed atomic.Bool
}

var _ Interface = (*Manager)(nil)

// NewManager creates a manager for the peripheral described by identity on adapter.
// Nothing touches the radio until Receive.
func NewManager(adapter device.Adapter, identity PeripheralIdentity, opts Options, logger *logrus.Logger) (*Manager, error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter cannot be nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	opts = opts.withDefaults()

	history, err := journal.New[Event](opts.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create history: %w", err)
	}

	identity.register()

	m := &Manager{
		identity:      identity,
		opts:          opts,
		logger:        logger,
		weight:        stream.NewTopic[Result[WeightPackage]](StreamWeight, opts.StreamBuffer),
		configuration: stream.NewTopic[Result[ConfigurationPackage]](StreamConfiguration, opts.StreamBuffer),
		connection:    stream.NewTopic[Result[ConnectionStatePackage]](StreamConnectionState, opts.StreamBuffer),
		history:       history,
	}
	m.session = session.New(adapter, listener{m}, opts.sessionConfig(identity), logger)
	m.scanner = scanner.NewScanner(adapter, identity.Name, listener{m}, logger)
	return m, nil
}

// Weight subscribes to weight updates. The latest value is replayed first.
func (m *Manager) Weight() *stream.Subscription[Result[WeightPackage]] {
	return m.weight.Subscribe()
}

// Configuration subscribes to configuration updates. The latest value is replayed first.
func (m *Manager) Configuration() *stream.Subscription[Result[ConfigurationPackage]] {
	return m.configuration.Subscribe()
}

// ConnectionState subscribes to connection updates. The latest value is replayed first.
func (m *Manager) ConnectionState() *stream.Subscription[Result[ConnectionStatePackage]] {
	return m.connection.Subscribe()
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

// Identity returns the peripheral contract the manager matches against.
func (m *Manager) Identity() PeripheralIdentity {
	return m.identity
}

// Receive starts looking for the peripheral. A no-op while scanning, connecting or connected.
func (m *Manager) Receive() {
	if m.closed.Load() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.State().Active() || m.scanner.Scanning() {
		m.logger.WithField("state", m.session.State().String()).Debug("Receive ignored: session already active")
		return
	}

	if gate := m.opts.Permission; gate != nil {
		if err := gate.CheckScanPermission(); err != nil {
			m.logger.WithError(err).Warn("Scan not permitted")
			publish(m, m.connection, Failure[ConnectionStatePackage](err))
			return
		}
	}

	m.transition(Initializing)
	publish(m, m.connection, Loading[ConnectionStatePackage]("scanning for "+m.identity.Name))
	m.session.Scanning()
	if err := m.scanner.Start(); err != nil {
		m.session.ScanFailed(err)
	}
}

// Reconnect connects again to the last peripheral found. A no-op before any was found.
func (m *Manager) Reconnect() {
	m.session.Reconnect()
}

// Disconnect drops the link. A no-op without one.
func (m *Manager) Disconnect() {
	m.session.Disconnect()
}

// CloseConnection stops scanning, releases the connection and drops queued operations.
// Safe to call more than once.
func (m *Manager) CloseConnection() {
	if err := m.scanner.Stop(); err != nil {
		m.logger.WithError(err).Debug("Stopping scan failed")
	}
	m.session.Close()
}

// Write sends a raw configuration value. Invalid values are published as an
// Error on the configuration stream; without a live connection the write is dropped.
func (m *Manager) Write(config []byte) error {
	pkg, err := DecodeConfiguration(config)
	if err == nil {
		err = pkg.Validate()
	}
	if err != nil {
		m.logger.WithError(err).Warn("Configuration rejected")
		publish(m, m.configuration, Failure[ConfigurationPackage](err))
		return err
	}
	return m.write(pkg)
}

// WriteConfiguration validates and sends pkg.
func (m *Manager) WriteConfiguration(pkg ConfigurationPackage) error {
	return m.Write(pkg.Bytes())
}

func (m *Manager) write(pkg ConfigurationPackage) error {
	if st := m.State(); st != Connected {
		m.logger.WithField("state", st.String()).Warn("Write ignored: no live connection")
		return fmt.Errorf("%w: %s", device.ErrNotConnected, st)
	}

	m.logger.WithField("configuration", pkg.String()).Info("Writing configuration")
	return m.session.Write(m.identity.Configuration, pkg.Bytes())
}

// Refresh re-reads weight and configuration.
func (m *Manager) Refresh() error {
	return m.session.Resync()
}

// GattTable returns the services and characteristics of the connected peripheral, or nil.
func (m *Manager) GattTable() *session.GattTable {
	return m.session.Table()
}

// History returns the most recent published values, oldest first.
func (m *Manager) History() []Event {
	return m.history.Snapshot()
}

// HistoryMetrics reports how many values were recorded and how many of them
// have since been overwritten.
func (m *Manager) HistoryMetrics() journal.Metrics {
	return m.history.GetMetrics()
}

// Shutdown closes the connection, stops the session and closes every stream.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.logger.WithFields(logrus.Fields{
		StreamWeight:          m.weight.Subscribers(),
		StreamConfiguration:   m.configuration.Subscribers(),
		StreamConnectionState: m.connection.Subscribers(),
	}).Debug("Shutting down, closing subscriptions")

	m.CloseConnection()
	err := m.session.Shutdown(ctx)

	m.weight.Close()
	m.configuration.Close()
	m.connection.Close()
	return err
}

func publish[T any](m *Manager, topic *stream.Topic[Result[T]], r Result[T]) {
	topic.Publish(r)
	m.history.Record(Event{
		Time:    time.Now(),
		Stream:  topic.Name(),
		Kind:    r.Kind,
		Message: r.String(),
	})
}

// transition publishes Success(state) if state differs from the current one.
func (m *Manager) transition(state ConnectionState) {
	if ConnectionState(m.state.Swap(int32(state))) == state {
		return
	}
	publish(m, m.connection, Success(ConnectionStatePackage{State: state}))
}

func (m *Manager) decode(characteristic string, value []byte) {
	switch {
	case device.SameUUID(characteristic, m.identity.Weight):
		pkg, err := DecodeWeight(value)
		if err != nil {
			publish(m, m.weight, Failure[WeightPackage](err))
			return
		}
		publish(m, m.weight, Success(pkg))

	case device.SameUUID(characteristic, m.identity.Configuration):
		pkg, err := DecodeConfiguration(value)
		if err != nil {
			publish(m, m.configuration, Failure[ConfigurationPackage](err))
			return
		}
		publish(m, m.configuration, Success(pkg))

	default:
		m.logger.WithField("characteristic", bledb.Describe(characteristic)).Debug("Ignoring value of unknown characteristic")
	}
}

// listener receives session and scanner callbacks. Kept separate so the
// callbacks do not show up in Manager's public method set.
type listener struct{ m *Manager }

func (l listener) OnLoading(message string) {
	publish(l.m, l.m.connection, Loading[ConnectionStatePackage](message))
}

func (l listener) OnStateChanged(state session.State, err error) {
	m := l.m
	if err != nil {
		m.state.Store(int32(stateOf(state)))
		publish(m, m.connection, Failure[ConnectionStatePackage](err))
		return
	}
	m.transition(stateOf(state))
}

func (l listener) OnCharacteristicRead(characteristic string, value []byte) {
	l.m.decode(characteristic, value)
}

func (l listener) OnCharacteristicWritten(characteristic string, value []byte) {
	m := l.m
	m.logger.WithFields(logrus.Fields{
		"characteristic": bledb.Describe(characteristic),
		"value":          fmt.Sprintf("% x", value),
	}).Debug("Characteristic written")

	if m.opts.DisableWriteConfirm {
		m.decode(characteristic, value)
	}
}

func (l listener) OnOperationFailed(op queue.Operation, err error) {
	m := l.m

	var statusErr *device.StatusError
	if !errors.As(err, &statusErr) {
		err = fmt.Errorf("%s %s failed: %w", op.Kind, bledb.Describe(op.Characteristic), err)
	}

	m.logger.WithFields(logrus.Fields{
		"operation": op.String(),
	}).WithError(err).Warn("Operation failed")

	switch {
	case device.SameUUID(op.Characteristic, m.identity.Weight):
		publish(m, m.weight, Failure[WeightPackage](err))
	case device.SameUUID(op.Characteristic, m.identity.Configuration):
		publish(m, m.configuration, Failure[ConfigurationPackage](err))
	}
}

func (l listener) OnPeripheralFound(adv device.Advertisement) {
	publish(l.m, l.m.connection, Loading[ConnectionStatePackage]("found, connecting"))
	l.m.session.Connect(adv.Addr())
}

func (l listener) OnScanFailed(err error) {
	l.m.session.ScanFailed(fmt.Errorf("scan failed: %w", err))
}

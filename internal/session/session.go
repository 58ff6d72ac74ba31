// Package session supervises the GATT connection to one peripheral.
//
// A Session is an actor: a single goroutine owns the lifecycle state, the GATT
// handle, the retained device address and the operation queue. Public methods
// and hardware callbacks only post messages to its mailbox, so every state
// transition and every queue mutation happens on that goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/time/rate"

	"github.com/srg/rsslink/internal/bledb"
	"github.com/srg/rsslink/internal/device"
	"github.com/srg/rsslink/internal/groutine"
	"github.com/srg/rsslink/internal/queue"
)

// Listener receives everything the session reports. Calls are made on the
// actor goroutine and must not block or call back into the session synchronously.
type Listener interface {
	OnLoading(message string)
	// OnStateChanged reports a transition, or an error in the current state when err is non-nil.
	OnStateChanged(state State, err error)
	OnCharacteristicRead(characteristic string, value []byte)
	OnCharacteristicWritten(characteristic string, value []byte)
	OnOperationFailed(op queue.Operation, err error)
}

// GattTable lists discovered services with their characteristics in discovery order.
type GattTable = orderedmap.OrderedMap[string, []string]

// Session is the GATT session state machine.
type Session struct {
	connector device.Connector
	listener  Listener
	cfg       Config
	logger    *logrus.Logger

	mailbox  *mailbox
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	snapshot atomic.Int32
	table    atomic.Pointer[GattTable]

	// Owned by the actor goroutine.
	state       State
	address     string
	gatt        device.Gatt
	queue       *queue.Queue
	attempt     string
	attemptDone func(error)
	breaker     *gobreaker.TwoStepCircuitBreaker[struct{}]
	limiter     *rate.Limiter
	mtu         int
	mtuPending  bool

	// Cancel functions of pending scheduled callbacks.
	connectStop func()
	mtuStop     func()
	resyncStop  func()
}

// New creates a session and starts its actor goroutine.
func New(connector device.Connector, listener Listener, cfg Config, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		connector: connector,
		listener:  listener,
		cfg:       cfg,
		logger:    logger,
		mailbox:   newMailbox(),
		cancel:    cancel,
		done:      make(chan struct{}),
		limiter:   rate.NewLimiter(rate.Every(cfg.ResyncInterval), cfg.ResyncBurst),
	}

	s.queue = queue.New(dispatcher{s}, queue.Options{
		Timeout:   cfg.OperationTimeout,
		Schedule:  cfg.Schedule,
		Expired:   func(seq uint64) { s.post("expire", func() { s.queue.Expire(seq) }) },
		OnFailure: s.operationFailed,
		Logger:    logger,
	})

	s.breaker = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "connect",
		MaxRequests: 1,
		Timeout:     cfg.ReconnectCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ReconnectFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Info("Connection breaker state changed")
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})

	groutine.Go(ctx, "session-actor", s.run)
	return s
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.mailbox.wake:
			for _, msg := range s.mailbox.drain() {
				msg()
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// post hands fn to the actor. Messages posted after Shutdown are dropped.
func (s *Session) post(name string, fn func()) {
	ok := s.mailbox.post(func() {
		groutine.Guard(s.logger, name, fn)
	})
	if !ok {
		s.logger.WithField("message", name).Debug("Session stopped, message dropped")
	}
}

// State returns the most recent lifecycle phase.
func (s *Session) State() State {
	return State(s.snapshot.Load())
}

// Table returns the GATT table of the last successful discovery, or nil.
func (s *Session) Table() *GattTable {
	return s.table.Load()
}

// Scanning marks the session as looking for its peripheral.
func (s *Session) Scanning() {
	s.post("scanning", func() {
		if s.state.Active() {
			return
		}
		s.setState(Scanning, nil)
	})
}

// ScanFailed leaves the Scanning phase, reporting err with the transition to Disconnected.
// Ignored in any other phase.
func (s *Session) ScanFailed(err error) {
	s.post("scan-failed", func() {
		if s.state != Scanning {
			return
		}
		s.setState(Disconnected, err)
	})
}

// Connect starts a connection to address, which becomes the retained device reference.
// Ignored while a link is being established or in use.
func (s *Session) Connect(address string) {
	s.post("connect", func() { s.connect(address) })
}

// Reconnect connects again to the retained device reference.
// A no-op if no device was ever found or a link is already active.
func (s *Session) Reconnect() {
	s.post("reconnect", func() {
		if s.address == "" {
			s.logger.Debug("Reconnect ignored: no device reference")
			return
		}
		s.connect(s.address)
	})
}

// Disconnect asks the hardware to drop the link. A no-op without a handle.
func (s *Session) Disconnect() {
	s.post("disconnect", func() {
		if s.gatt == nil {
			s.logger.Debug("Disconnect ignored: no connection handle")
			return
		}
		if err := s.gatt.Disconnect(); err != nil {
			s.logger.WithError(err).Warn("Disconnect request failed, releasing handle")
			s.finishAttempt(context.Canceled)
			s.release()
			s.setState(Disconnected, nil)
		}
	})
}

// Write enqueues a write of payload to characteristic.
// Returns device.ErrNotConnected without enqueueing when the session is not ready.
func (s *Session) Write(characteristic string, payload []byte) error {
	if st := s.State(); st != Ready {
		return fmt.Errorf("%w: session is %s", device.ErrNotConnected, st)
	}

	payload = append([]byte(nil), payload...)
	s.post("write", func() {
		if s.state != Ready || s.gatt == nil {
			s.logger.WithField("state", s.state.String()).Warn("Write dropped: not connected")
			return
		}
		s.enqueue(queue.NewWrite(s.gatt, s.cfg.ServiceUUID, characteristic, payload))
	})
	return nil
}

// Resync re-reads every seed characteristic.
func (s *Session) Resync() error {
	if st := s.State(); st != Ready {
		return fmt.Errorf("%w: session is %s", device.ErrNotConnected, st)
	}
	s.post("resync", func() { s.requestResync("requested") })
	return nil
}

// Close releases the handle and flushes the queue. Safe to call more than once.
// The session can be started again afterwards.
func (s *Session) Close() {
	s.post("close", s.close)
}

// Shutdown closes the session and stops the actor. It waits for the actor to exit or ctx to end.
func (s *Session) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.post("shutdown", func() {
			s.close()
			s.cancel()
		})
		s.mailbox.close()
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// ----------------------------
// Actor-side handlers
// ----------------------------

func (s *Session) connect(address string) {
	if s.state.linkActive() {
		s.logger.WithField("state", s.state.String()).Debug("Connect ignored: link already active")
		return
	}

	done, err := s.breaker.Allow()
	if err != nil {
		s.cfg.Observer.ConnectionAttempt(OutcomeRejected)
		s.address = address
		s.setState(Disconnected, fmt.Errorf("reconnect suppressed after repeated failures: %w", err))
		return
	}

	s.attemptDone = done
	s.attempt = ulid.Make().String()
	s.address = address

	s.logger.WithFields(logrus.Fields{
		"address": address,
		"attempt": s.attempt,
	}).Info("Connecting to peripheral")

	s.setState(Connecting, nil)
	s.listener.OnLoading("connecting")

	g, err := s.connector.ConnectGatt(address, events{s})
	if err != nil {
		err = device.NormalizeError(err)
		s.finishAttempt(err)
		s.release()
		s.setState(Disconnected, fmt.Errorf("connection failed: %w", err))
		return
	}
	s.gatt = g
	s.connectStop = s.cfg.Schedule(s.cfg.ConnectTimeout, func() {
		s.post("connect-timeout", func() { s.connectTimedOut(g) })
	})
}

// connectTimedOut gives up on an attempt the hardware never answered and counts it as a failure.
func (s *Session) connectTimedOut(g device.Gatt) {
	if !s.current(g) || s.state != Connecting {
		return
	}
	s.connectStop = nil
	err := fmt.Errorf("connection failed: %w", device.ErrTimeout)
	s.logger.WithFields(logrus.Fields{
		"address": g.Address(),
		"attempt": s.attempt,
		"timeout": s.cfg.ConnectTimeout,
	}).Warn("Connection attempt timed out")
	s.finishAttempt(err)
	s.release()
	s.setState(Disconnected, err)
}

func (s *Session) onConnectionStateChange(g device.Gatt, status device.Status, link device.LinkState) {
	if !s.current(g) {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"address": g.Address(),
		"attempt": s.attempt,
		"status":  status.String(),
		"link":    link.String(),
	}).Debug("Connection state changed")

	switch {
	case link == device.LinkDisconnected && s.state != Connecting:
		// An established link went away. Whatever the status, this is a
		// disconnect, not a failed connection attempt.
		if !status.OK() {
			s.logger.WithFields(logrus.Fields{
				"address": g.Address(),
				"status":  status.String(),
			}).Warn("Link lost")
		}
		s.finishAttempt(context.Canceled)
		s.release()
		s.setState(Disconnected, nil)

	case !status.OK():
		err := &device.StatusError{Op: "connect", Status: status}
		s.finishAttempt(err)
		s.release()
		s.setState(Disconnected, fmt.Errorf("connection failed: %w", err))

	case link == device.LinkConnected:
		if s.state != Connecting {
			return
		}
		s.stop(&s.connectStop)
		s.finishAttempt(nil)
		s.setState(DiscoveringServices, nil)
		s.listener.OnLoading("discovering services")
		if err := g.DiscoverServices(); err != nil {
			s.abort(fmt.Errorf("service discovery failed: %w", device.NormalizeError(err)))
		}

	case link == device.LinkDisconnected:
		s.finishAttempt(context.Canceled)
		s.release()
		s.setState(Disconnected, nil)
	}
}

func (s *Session) onServicesDiscovered(g device.Gatt, status device.Status) {
	if !s.current(g) || s.state != DiscoveringServices {
		return
	}
	if !status.OK() {
		s.abort(fmt.Errorf("service discovery failed: %w", &device.StatusError{Op: "discover", Status: status}))
		return
	}

	table := buildTable(g)
	s.table.Store(table)
	for pair := table.Oldest(); pair != nil; pair = pair.Next() {
		s.logger.WithFields(logrus.Fields{
			"service":         pair.Key,
			"characteristics": pair.Value,
		}).Debug("Discovered service")
	}
	if _, ok := table.Get(bledb.Describe(s.cfg.ServiceUUID)); !ok {
		s.logger.WithField("service", s.cfg.ServiceUUID).Warn("Primary service not found on peripheral")
	}

	s.mtuPending = true
	if err := g.RequestMtu(s.cfg.MTU); err != nil {
		s.logger.WithError(err).Warn("MTU request failed, keeping default MTU")
		s.ready()
		return
	}
	s.mtuStop = s.cfg.Schedule(s.cfg.OperationTimeout, func() {
		s.post("mtu-timeout", func() {
			if s.mtuPending && s.current(g) {
				s.logger.Warn("MTU exchange timed out, keeping default MTU")
				s.ready()
			}
		})
	})
}

func (s *Session) onMtuChanged(g device.Gatt, mtu int, status device.Status) {
	if !s.current(g) || !s.mtuPending {
		return
	}
	if status.OK() {
		s.mtu = mtu
	}
	s.logger.WithFields(logrus.Fields{
		"mtu":    mtu,
		"status": status.String(),
	}).Info("MTU negotiated")
	s.ready()
}

func (s *Session) onCharacteristicRead(g device.Gatt, c device.Characteristic, value []byte, status device.Status) {
	if !s.current(g) {
		return
	}
	op, ok := s.peek(queue.Read, c.UUID())
	if !ok {
		return
	}

	if status.OK() {
		s.cfg.Observer.OperationDone(queue.Read, OutcomeSuccess)
		s.listener.OnCharacteristicRead(op.Characteristic, value)
	} else {
		s.cfg.Observer.OperationDone(queue.Read, OutcomeFailure)
		s.listener.OnOperationFailed(op, statusError(op, status))
	}

	s.queue.Complete(queue.Read, c.UUID())
	s.cfg.Observer.QueueDepth(s.queue.Len())
}

func (s *Session) onCharacteristicWrite(g device.Gatt, c device.Characteristic, status device.Status) {
	if !s.current(g) {
		return
	}
	op, ok := s.peek(queue.Write, c.UUID())
	if !ok {
		return
	}

	if status.OK() {
		s.cfg.Observer.OperationDone(queue.Write, OutcomeSuccess)
		s.listener.OnCharacteristicWritten(op.Characteristic, op.Payload)
		if !s.cfg.DisableWriteConfirm && c.Properties().CanRead() {
			s.enqueue(queue.NewRead(g, op.Service, op.Characteristic))
		}
	} else {
		s.cfg.Observer.OperationDone(queue.Write, OutcomeFailure)
		s.listener.OnOperationFailed(op, statusError(op, status))
	}

	s.queue.Complete(queue.Write, c.UUID())
	s.cfg.Observer.QueueDepth(s.queue.Len())
}

func (s *Session) onCharacteristicChanged(g device.Gatt, c device.Characteristic) {
	if !s.current(g) || s.state != Ready {
		return
	}
	s.logger.WithField("characteristic", bledb.Describe(c.UUID())).Debug("Characteristic changed")
	s.requestResync("notification")
}

// operationFailed handles failures the queue produced itself: dispatch errors and deadlines.
func (s *Session) operationFailed(op queue.Operation, err error) {
	outcome := OutcomeFailure
	if errors.Is(err, device.ErrTimeout) {
		outcome = OutcomeTimeout
	}
	s.cfg.Observer.OperationDone(op.Kind, outcome)
	s.listener.OnOperationFailed(op, err)
}

func (s *Session) close() {
	s.finishAttempt(context.Canceled)
	s.release()
	s.address = ""
	s.table.Store(nil)
	if s.state != Uninitialized && s.state != Disconnected {
		s.setState(Disconnected, nil)
	}
}

// ----------------------------
// Helpers
// ----------------------------

// current reports whether g is the live handle. Callbacks from released handles are dropped.
func (s *Session) current(g device.Gatt) bool {
	if g == nil || s.gatt == nil || g != s.gatt {
		s.logger.Debug("Ignoring callback from stale GATT handle")
		return false
	}
	return true
}

// peek returns the pending operation if it matches the completion.
func (s *Session) peek(kind queue.Kind, characteristic string) (queue.Operation, bool) {
	op, ok := s.queue.Pending()
	if !ok || op.Kind != kind || !device.SameUUID(op.Characteristic, characteristic) {
		s.logger.WithFields(logrus.Fields{
			"kind":           kind.String(),
			"characteristic": bledb.Describe(characteristic),
		}).Debug("Ignoring completion with no matching pending operation")
		return queue.Operation{}, false
	}
	return op, true
}

func (s *Session) enqueue(op queue.Operation) {
	s.queue.Enqueue(op)
	s.cfg.Observer.QueueDepth(s.queue.Len())
}

func (s *Session) ready() {
	s.mtuPending = false
	s.stop(&s.mtuStop)
	s.setState(Ready, nil)
	s.seed()
}

func (s *Session) seed() {
	for _, uuid := range s.cfg.SeedReads {
		s.enqueue(queue.NewRead(s.gatt, s.cfg.ServiceUUID, uuid))
	}
}

// requestResync seeds immediately when the limiter allows it, otherwise schedules
// a single deferred re-sync that absorbs every request arriving in the meantime.
func (s *Session) requestResync(reason string) {
	if s.resyncStop != nil {
		s.logger.WithField("reason", reason).Debug("Re-sync already scheduled")
		return
	}

	delay := s.limiter.Reserve().Delay()
	if delay == 0 {
		s.seed()
		return
	}

	s.logger.WithFields(logrus.Fields{
		"reason": reason,
		"delay":  delay,
	}).Debug("Re-sync deferred")
	s.resyncStop = s.cfg.Schedule(delay, func() {
		s.post("resync", func() {
			s.resyncStop = nil
			if s.state == Ready {
				s.seed()
			}
		})
	})
}

// abort reports err and asks the hardware to drop the link; the disconnect callback finishes teardown.
func (s *Session) abort(err error) {
	s.logger.WithError(err).Error("Aborting connection")
	s.listener.OnStateChanged(s.state, err)

	if s.gatt == nil {
		return
	}
	if derr := s.gatt.Disconnect(); derr != nil {
		s.release()
		s.setState(Disconnected, nil)
	}
}

// release flushes the queue and closes the native handle.
func (s *Session) release() {
	if dropped := s.queue.Flush(); dropped > 0 {
		s.logger.WithField("dropped", dropped).Info("Dropped queued operations")
	}
	s.cfg.Observer.QueueDepth(0)
	s.mtuPending = false
	s.stop(&s.connectStop)
	s.stop(&s.mtuStop)
	s.stop(&s.resyncStop)

	if s.gatt == nil {
		return
	}
	if err := s.gatt.Close(); err != nil {
		s.logger.WithError(err).Debug("Closing GATT handle failed")
	}
	s.gatt = nil
}

func (s *Session) stop(cancel *func()) {
	if *cancel != nil {
		(*cancel)()
		*cancel = nil
	}
}

// finishAttempt reports the outcome of the connection attempt in progress, if any, to the breaker.
func (s *Session) finishAttempt(err error) {
	if s.attemptDone == nil {
		return
	}
	done := s.attemptDone
	s.attemptDone = nil
	done(err)

	switch {
	case err == nil:
		s.cfg.Observer.ConnectionAttempt(OutcomeSuccess)
	case errors.Is(err, context.Canceled):
		s.cfg.Observer.ConnectionAttempt(OutcomeCanceled)
	default:
		s.cfg.Observer.ConnectionAttempt(OutcomeFailure)
	}
}

func (s *Session) setState(state State, err error) {
	from := s.state
	s.state = state
	s.snapshot.Store(int32(state))

	fields := logrus.Fields{
		"from":    from.String(),
		"to":      state.String(),
		"attempt": s.attempt,
	}
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("Session state changed")
	} else {
		s.logger.WithFields(fields).Info("Session state changed")
	}

	s.cfg.Observer.StateChanged(state)
	s.listener.OnStateChanged(state, err)
}

func statusError(op queue.Operation, status device.Status) error {
	return &device.StatusError{
		Op:             op.Kind.String(),
		Characteristic: bledb.Describe(op.Characteristic),
		Status:         status,
	}
}

func buildTable(g device.Gatt) *GattTable {
	table := orderedmap.New[string, []string]()
	for _, svc := range g.Services() {
		chars := make([]string, 0, len(svc.Characteristics()))
		for _, c := range svc.Characteristics() {
			chars = append(chars, fmt.Sprintf("%s [%s]", bledb.Describe(c.UUID()), c.Properties()))
		}
		table.Set(bledb.Describe(svc.UUID()), chars)
	}
	return table
}

// ----------------------------
// Queue dispatch
// ----------------------------

type dispatcher struct{ s *Session }

// Dispatch resolves the characteristic on the operation's handle and issues the request.
func (d dispatcher) Dispatch(op queue.Operation) error {
	g := op.Target
	if g == nil || g != d.s.gatt {
		return device.ErrNotConnected
	}

	c, err := g.GetCharacteristic(op.Service, op.Characteristic)
	if err != nil {
		return err
	}

	props := c.Properties()
	switch op.Kind {
	case queue.Read:
		if !props.CanRead() {
			return statusError(op, device.StatusReadNotPermitted)
		}
		return device.NormalizeError(g.ReadCharacteristic(c))

	case queue.Write:
		var withResponse bool
		switch {
		case props.Has(device.PropWrite):
			withResponse = true
		case props.Has(device.PropWriteWithoutResponse):
			withResponse = false
		default:
			return statusError(op, device.StatusWriteNotPermitted)
		}
		return device.NormalizeError(g.WriteCharacteristic(c, op.Payload, withResponse))

	default:
		return fmt.Errorf("%w: operation kind %s", device.ErrUnsupported, op.Kind)
	}
}

// ----------------------------
// Hardware callbacks
// ----------------------------

// events adapts backend callbacks, which may arrive on any goroutine, into actor messages.
type events struct{ s *Session }

func (e events) OnConnectionStateChange(g device.Gatt, status device.Status, state device.LinkState) {
	e.s.post("OnConnectionStateChange", func() { e.s.onConnectionStateChange(g, status, state) })
}

func (e events) OnServicesDiscovered(g device.Gatt, status device.Status) {
	e.s.post("OnServicesDiscovered", func() { e.s.onServicesDiscovered(g, status) })
}

func (e events) OnMtuChanged(g device.Gatt, mtu int, status device.Status) {
	e.s.post("OnMtuChanged", func() { e.s.onMtuChanged(g, mtu, status) })
}

func (e events) OnCharacteristicRead(g device.Gatt, c device.Characteristic, value []byte, status device.Status) {
	value = append([]byte(nil), value...)
	e.s.post("OnCharacteristicRead", func() { e.s.onCharacteristicRead(g, c, value, status) })
}

func (e events) OnCharacteristicWrite(g device.Gatt, c device.Characteristic, status device.Status) {
	e.s.post("OnCharacteristicWrite", func() { e.s.onCharacteristicWrite(g, c, status) })
}

func (e events) OnCharacteristicChanged(g device.Gatt, c device.Characteristic, _ []byte) {
	e.s.post("OnCharacteristicChanged", func() { e.s.onCharacteristicChanged(g, c) })
}

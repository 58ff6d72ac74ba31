package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/rsslink/internal/devicefactory"
	"github.com/srg/rsslink/internal/session"
	"github.com/srg/rsslink/pkg/config"
	"github.com/srg/rsslink/pkg/rss"
)

// adapterFactory creates the radio adapter (can be overridden in tests)
var adapterFactory = devicefactory.NewAdapter

func newManager(cfg *config.Config, logger *logrus.Logger, observer session.Observer) (*rss.Manager, error) {
	adapter, err := adapterFactory(cfg.Backend, []string{cfg.Peripheral.Service}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE adapter: %w", err)
	}
	opts := cfg.ManagerOptions()
	opts.Observer = observer
	return rss.NewManager(adapter, cfg.Identity(), opts, logger)
}

// snapshot is the peripheral state right after connecting.
type snapshot struct {
	Weight        rss.WeightPackage
	Configuration rss.ConfigurationPackage
}

func resultErr[T any](r rss.Result[T]) error {
	if r.Err != nil {
		return r.Err
	}
	return errors.New(r.Message)
}

// connect starts m and waits until it is connected and both characteristics
// have been read. progress receives every loading message.
func connect(ctx context.Context, m *rss.Manager, progress func(string)) (snapshot, error) {
	conn := m.ConnectionState()
	defer conn.Close()
	weight := m.Weight()
	defer weight.Close()
	configuration := m.Configuration()
	defer configuration.Close()

	m.Receive()

	var snap snapshot
	var connected, haveWeight, haveConfig bool
	for !connected || !haveWeight || !haveConfig {
		select {
		case <-ctx.Done():
			return snap, fmt.Errorf("waiting for %s: %w", m.Identity().Name, ctx.Err())

		case r, ok := <-conn.C():
			if !ok {
				return snap, ErrConnectionLost
			}
			switch {
			case r.IsError():
				return snap, resultErr(r)
			case r.IsLoading():
				progress(r.Message)
			case r.Data.State == rss.Connected:
				connected = true
				progress("connected")
			case r.Data.State == rss.Disconnected:
				return snap, ErrConnectionLost
			}

		case r, ok := <-weight.C():
			if !ok {
				return snap, ErrConnectionLost
			}
			if r.IsError() {
				return snap, fmt.Errorf("reading weight: %w", resultErr(r))
			}
			if r.IsSuccess() {
				snap.Weight, haveWeight = r.Data, true
			}

		case r, ok := <-configuration.C():
			if !ok {
				return snap, ErrConnectionLost
			}
			if r.IsError() {
				return snap, fmt.Errorf("reading configuration: %w", resultErr(r))
			}
			if r.IsSuccess() {
				snap.Configuration, haveConfig = r.Data, true
			}
		}
	}
	return snap, nil
}

// apply writes pkg and waits until the peripheral reports it back.
func apply(ctx context.Context, m *rss.Manager, pkg rss.ConfigurationPackage) error {
	configuration := m.Configuration()
	defer configuration.Close()
	conn := m.ConnectionState()
	defer conn.Close()

	// Both subscriptions replay the current value first.
	<-configuration.C()
	<-conn.C()

	if err := m.WriteConfiguration(pkg); err != nil {
		return err
	}

	want := pkg.Bytes()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for configuration confirmation: %w", ctx.Err())
		case r, ok := <-conn.C():
			if !ok || (r.IsSuccess() && r.Data.State == rss.Disconnected) {
				return ErrConnectionLost
			}
			if r.IsError() {
				return resultErr(r)
			}
		case r, ok := <-configuration.C():
			if !ok {
				return ErrConnectionLost
			}
			if r.IsError() {
				return fmt.Errorf("writing configuration: %w", resultErr(r))
			}
			if r.IsSuccess() && bytes.Equal(r.Data.Bytes(), want) {
				return nil
			}
		}
	}
}

// withDevice runs fn against a connected manager and always shuts it down.
func withDevice(ctx context.Context, cfg *config.Config, logger *logrus.Logger, progress *ProgressPrinter, fn func(ctx context.Context, m *rss.Manager, snap snapshot) error) error {
	m, err := newManager(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.OperationTimeout)
		defer cancel()
		if err := m.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Shutdown did not complete cleanly")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, cfg.DeviceTimeout)
	defer cancel()

	progress.Start()
	snap, err := connect(ctx, m, progress.Update)
	progress.Stop()
	if err != nil {
		return err
	}
	return fn(ctx, m, snap)
}

package rss

import (
	"time"

	"github.com/mcuadros/go-defaults"

	"github.com/srg/rsslink/internal/queue"
	"github.com/srg/rsslink/internal/session"
)

// PermissionGate decides whether the platform allows scanning.
type PermissionGate interface {
	CheckScanPermission() error
}

// PermissionFunc adapts a function to PermissionGate.
type PermissionFunc func() error

func (f PermissionFunc) CheckScanPermission() error { return f() }

// Options tunes a Manager. Zero fields take the defaults in the struct tags.
type Options struct {
	OperationTimeout time.Duration `default:"5s"`
	ConnectTimeout   time.Duration `default:"10s"`

	// DisableWriteConfirm publishes the written configuration directly instead
	// of reading it back from the peripheral.
	DisableWriteConfirm bool

	ResyncInterval    time.Duration `default:"1s"`
	ResyncBurst       int           `default:"2"`
	ReconnectFailures uint32        `default:"3"`
	ReconnectCooldown time.Duration `default:"30s"`

	// StreamBuffer is the per-subscriber buffer; slow subscribers lose their oldest values.
	StreamBuffer int    `default:"16"`
	HistorySize  uint32 `default:"256"`

	// Permission is consulted before every scan. Nil allows scanning.
	Permission PermissionGate
	// Observer receives session counters, e.g. a metrics collector.
	Observer session.Observer
	// Schedule overrides every session timer, mainly for tests.
	Schedule queue.Scheduler
}

func (o Options) withDefaults() Options {
	defaults.SetDefaults(&o)
	return o
}

func (o Options) sessionConfig(id PeripheralIdentity) session.Config {
	return session.Config{
		ServiceUUID:         id.Service,
		SeedReads:           []string{id.Weight, id.Configuration},
		MTU:                 id.MTU,
		OperationTimeout:    o.OperationTimeout,
		ConnectTimeout:      o.ConnectTimeout,
		DisableWriteConfirm: o.DisableWriteConfirm,
		ResyncInterval:      o.ResyncInterval,
		ResyncBurst:         o.ResyncBurst,
		ReconnectFailures:   o.ReconnectFailures,
		ReconnectCooldown:   o.ReconnectCooldown,
		Schedule:            o.Schedule,
		Observer:            o.Observer,
	}
}

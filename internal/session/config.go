package session

import (
	"time"

	"github.com/mcuadros/go-defaults"

	"github.com/srg/rsslink/internal/queue"
)

// Config is the immutable session setup. Zero fields take the defaults in the struct tags.
type Config struct {
	// ServiceUUID is the primary service every operation targets.
	ServiceUUID string
	// SeedReads are read in order once the link is ready and on every re-sync.
	SeedReads []string

	MTU              int           `default:"517"`
	OperationTimeout time.Duration `default:"5s"`
	// ConnectTimeout bounds a connection attempt the hardware never answers.
	ConnectTimeout time.Duration `default:"10s"`

	// DisableWriteConfirm skips the read that normally follows a successful write.
	DisableWriteConfirm bool

	// Re-syncs triggered by notifications are limited to one per ResyncInterval after a burst of ResyncBurst.
	ResyncInterval time.Duration `default:"1s"`
	ResyncBurst    int           `default:"2"`

	// After ReconnectFailures consecutive failed connection attempts, further
	// attempts are refused until ReconnectCooldown has passed.
	ReconnectFailures uint32        `default:"3"`
	ReconnectCooldown time.Duration `default:"30s"`

	// Schedule runs every session timer: operation deadlines, the connect and
	// MTU timeouts and deferred re-syncs. Tests swap it for a manual clock.
	Schedule queue.Scheduler
	Observer Observer
}

func (c Config) withDefaults() Config {
	defaults.SetDefaults(&c)
	if c.Schedule == nil {
		c.Schedule = queue.AfterFunc
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}

// Observer receives counters about the session. Implementations must not block.
type Observer interface {
	ConnectionAttempt(outcome string)
	OperationDone(kind queue.Kind, outcome string)
	StateChanged(state State)
	QueueDepth(depth int)
}

// Attempt and operation outcomes reported to Observer.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
	OutcomeRejected = "rejected"
)

type nopObserver struct{}

func (nopObserver) ConnectionAttempt(string)         {}
func (nopObserver) OperationDone(queue.Kind, string) {}
func (nopObserver) StateChanged(State)               {}
func (nopObserver) QueueDepth(int)                   {}

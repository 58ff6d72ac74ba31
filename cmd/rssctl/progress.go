package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/srg/rsslink/internal/groutine"
)

const (
	progressUpdateInterval = 250 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows the current connection phase with elapsed seconds.
//
// Usage:
//
//	p := NewProgressPrinter(w, "Connecting to sorter")
//	p.Start()
//	defer p.Stop()
//
// Stop is idempotent and must be called to release the ticker goroutine.
type ProgressPrinter struct {
	w      io.Writer
	prefix string

	mu      sync.Mutex
	phase   string
	start   time.Time
	stop    chan struct{}
	done    chan struct{}
	stopped bool
}

// NewProgressPrinter creates a printer writing to w. A nil w disables output.
func NewProgressPrinter(w io.Writer, prefix string) *ProgressPrinter {
	return &ProgressPrinter{w: w, prefix: prefix, phase: "starting"}
}

// Start begins redrawing the progress line. Subsequent calls are no-ops.
func (p *ProgressPrinter) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil || p.w == nil {
		return
	}
	p.start = time.Now()
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.drawLocked()

	groutine.Go(context.Background(), "progress-printer", func(_ context.Context) {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.mu.Lock()
				p.drawLocked()
				p.mu.Unlock()
			}
		}
	})
}

// Update sets the phase shown on the next redraw.
func (p *ProgressPrinter) Update(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
	if p.stop != nil && !p.stopped {
		p.drawLocked()
	}
}

// Stop clears the progress line.
func (p *ProgressPrinter) Stop() {
	p.mu.Lock()
	if p.stop == nil || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stop)
	p.mu.Unlock()

	<-p.done
	fmt.Fprint(p.w, clearLineSequence)
}

func (p *ProgressPrinter) drawLocked() {
	seconds := int(time.Since(p.start).Seconds())
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, p.phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, p.phase)
	}
}

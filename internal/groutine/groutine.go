package groutine

import (
	"context"
	"runtime/debug"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a goroutine with a name, optional parent context.
// Example usage:
//
//	groutine.Go(ctx, "session-actor", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Guard runs fn and recovers any panic, logging it with the given name.
// Hardware callbacks go through Guard so a faulty handler cannot take the process down.
// Returns true if fn panicked.
func Guard(logger *logrus.Logger, name string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			if logger == nil {
				logger = logrus.StandardLogger()
			}
			logger.WithFields(logrus.Fields{
				"callback": name,
				"panic":    r,
				"stack":    string(debug.Stack()),
			}).Error("Recovered from panic in callback")
		}
	}()

	fn()
	return false
}

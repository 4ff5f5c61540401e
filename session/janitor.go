package session

import (
	"context"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// DefaultJanitorInterval is how often the janitor sweeps when no interval is given.
const DefaultJanitorInterval = 5 * time.Minute

// ExpiredCallback is called after a sweep that removed at least one conversation.
type ExpiredCallback func(removed int)

// JanitorOptions configures StartJanitor.
type JanitorOptions struct {
	Interval  time.Duration
	Logger    logging.Logger
	OnExpired ExpiredCallback
}

// StartJanitor runs a background goroutine that expires conversations idle
// for longer than maxAge until ctx is cancelled. The returned channel is
// closed once the goroutine has exited.
func StartJanitor(ctx context.Context, store core.SessionStore, maxAge time.Duration, optFns ...func(o *JanitorOptions)) <-chan struct{} {
	opts := JanitorOptions{Interval: DefaultJanitorInterval}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultJanitorInterval
	}
	logger := logging.OrNoOp(opts.Logger)

	done := make(chan struct{})
	ticker := time.NewTicker(opts.Interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		logger.Info("session.janitor.started", "interval", opts.Interval, "max_age", maxAge)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, store, maxAge, logger, opts.OnExpired)
			case <-ctx.Done():
				logger.Info("session.janitor.stopped", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweep(ctx context.Context, store core.SessionStore, maxAge time.Duration, logger logging.Logger, onExpired ExpiredCallback) {
	n, err := store.Expire(ctx, maxAge)
	if err != nil {
		logger.Error("session.janitor.failed", "error", err)
		return
	}
	if n == 0 {
		return
	}
	logger.Info("session.janitor.expired", "count", n)
	if onExpired != nil {
		onExpired(n)
	}
}

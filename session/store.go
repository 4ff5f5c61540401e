package session

import (
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// Options are shared by all store implementations.
type Options struct {
	// Now overrides the clock, mainly for expiry tests.
	Now func() time.Time
}

func newOptions(optFns []func(o *Options)) Options {
	opts := Options{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}

// prepare fills the store-owned fields of turn.
func prepare(turn core.Turn, index int, now time.Time) core.Turn {
	t := turn.Clone()
	t.Index = index
	if t.ID == "" {
		t.ID = core.NewID()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	}
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	return t
}

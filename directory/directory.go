// Package directory maps agent names to lazily constructed core.Agent
// instances.
//
// Construction happens on first Resolve and is cached per (name, variant).
// The fast path takes a read lock only; a miss goes through a per-key
// singleflight guard which re-checks the cache before calling the factory, so
// concurrent first requests for the same key construct exactly once and
// unrelated keys never wait on each other.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Factory builds an agent for the requested variant.
type Factory func(ctx context.Context, variant core.Variant) (core.Agent, error)

// ErrDuplicate is returned when registering a name twice.
var ErrDuplicate = errors.New("agent already registered")

type entry struct {
	desc    core.AgentDescriptor
	factory Factory
}

type cacheKey struct {
	name    string
	variant core.Variant
}

// Options configures a Directory.
type Options struct {
	Logger logging.Logger
}

// Directory is the registry of available agents. It is safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	aliases map[string]string

	cacheMu sync.RWMutex
	cache   map[cacheKey]core.Agent
	group   singleflight.Group

	logger logging.Logger
}

// New creates an empty Directory.
func New(optFns ...func(o *Options)) *Directory {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Directory{
		entries: map[string]*entry{},
		aliases: map[string]string{},
		cache:   map[cacheKey]core.Agent{},
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Normalize lower-cases and trims a name.
func Normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Register adds a named factory. Name and Role are normalized. Descriptors
// with Enabled=false stay listed but never resolve.
func (d *Directory) Register(desc core.AgentDescriptor, factory Factory) error {
	name := Normalize(desc.Name)
	if name == "" {
		return errors.New("agent name is required")
	}
	if factory == nil {
		return fmt.Errorf("agent %q: factory is required", name)
	}
	desc.Name = name
	desc.Role = Normalize(desc.Role)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	if _, ok := d.aliases[name]; ok {
		return fmt.Errorf("%w: %s is an alias", ErrDuplicate, name)
	}
	d.entries[name] = &entry{desc: desc, factory: factory}
	d.order = append(d.order, name)
	return nil
}

// RegisterAgent registers a prebuilt agent under its own name for every variant.
func (d *Directory) RegisterAgent(a core.Agent, optFns ...func(desc *core.AgentDescriptor)) error {
	info := a.Describe()
	desc := core.AgentDescriptor{Name: info.Name, Description: info.Description, Enabled: true}
	for _, fn := range optFns {
		fn(&desc)
	}
	return d.Register(desc, func(context.Context, core.Variant) (core.Agent, error) { return a, nil })
}

// Alias makes alias resolve to the registered name target.
func (d *Directory) Alias(alias, target string) error {
	alias, target = Normalize(alias), Normalize(target)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[alias]; ok {
		return fmt.Errorf("%w: alias %s shadows an agent", ErrDuplicate, alias)
	}
	d.aliases[alias] = target
	return nil
}

// Canonical resolves aliases and normalizes name.
func (d *Directory) Canonical(name string) string {
	n := Normalize(name)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if target, ok := d.aliases[n]; ok {
		return target
	}
	return n
}

// List returns descriptors in registration order.
func (d *Directory) List() []core.AgentDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]core.AgentDescriptor, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.entries[name].desc)
	}
	return out
}

// Lookup returns the descriptor for name (aliases honoured).
func (d *Directory) Lookup(name string) (core.AgentDescriptor, bool) {
	n := d.Canonical(name)
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[n]
	if !ok {
		return core.AgentDescriptor{}, false
	}
	return e.desc, true
}

// Resolve returns a ready agent for name and variant, constructing it on
// first use. Unknown, disabled, failing or non-ready agents produce a
// *core.AgentUnavailableError.
func (d *Directory) Resolve(ctx context.Context, name string, variant core.Variant) (core.Agent, error) {
	n := d.Canonical(name)

	d.mu.RLock()
	e, ok := d.entries[n]
	d.mu.RUnlock()
	if !ok {
		return nil, &core.AgentUnavailableError{Name: n, Err: errors.New("not registered")}
	}
	if !e.desc.Enabled {
		return nil, &core.AgentUnavailableError{Name: n, Err: errors.New("disabled")}
	}

	key := cacheKey{name: n, variant: variant}
	if a, ok := d.cached(key); ok {
		return checkReady(n, a)
	}

	// Construction is shared by every waiter on key, so it must not inherit
	// the first caller's cancellation.
	buildCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan(key.String(), func() (any, error) {
		if a, ok := d.cached(key); ok {
			return a, nil
		}
		a, err := e.factory(buildCtx, variant)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, errors.New("factory returned nil agent")
		}
		d.cacheMu.Lock()
		d.cache[key] = a
		d.cacheMu.Unlock()
		d.logger.Debug("directory.agent.constructed", "agent", n, "variant", variant.String())
		return a, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, &core.AgentUnavailableError{Name: n, Err: ctx.Err()}
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		d.logger.Warn("directory.agent.unavailable", "agent", n, "variant", variant.String(), "shared", shared, "error", err)
		return nil, &core.AgentUnavailableError{Name: n, Err: err}
	}
	return checkReady(n, v.(core.Agent))
}

// Invalidate drops every cached instance of name.
func (d *Directory) Invalidate(name string) {
	n := d.Canonical(name)
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	for k := range d.cache {
		if k.name == n {
			delete(d.cache, k)
		}
	}
}

func (d *Directory) cached(key cacheKey) (core.Agent, bool) {
	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()
	a, ok := d.cache[key]
	return a, ok
}

func (k cacheKey) String() string { return k.name + "/" + k.variant.String() }

func checkReady(name string, a core.Agent) (core.Agent, error) {
	if !a.Ready() {
		return nil, &core.AgentUnavailableError{Name: name, Err: errors.New("not ready")}
	}
	return a, nil
}

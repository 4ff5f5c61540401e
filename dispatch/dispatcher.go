package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// ErrNoParticipants is returned when Dispatch is called with an empty selection.
var ErrNoParticipants = errors.New("no participants to dispatch to")

// Config controls per-agent deadlines and rate-limit retries.
type Config struct {
	// Timeout is the per-agent deadline covering every attempt and backoff wait.
	Timeout time.Duration
	// MaxAttempts caps attempts per agent (first call included).
	MaxAttempts int
	// InitialBackoff is the first wait after a rate limit.
	InitialBackoff time.Duration
	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration
}

// DefaultConfig is the default dispatcher configuration.
var DefaultConfig = Config{
	Timeout:        30 * time.Second,
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     8 * time.Second,
}

// OutputFilter screens successful agent output. *safety.Gate implements it.
type OutputFilter interface {
	FilterOutput(ctx context.Context, source, text string) (string, core.SafetyVerdict, bool)
}

// Options configures a Dispatcher.
type Options struct {
	Config
	Filter OutputFilter
	Logger logging.Logger
	Meter  metric.Meter
}

// CallOptions adjusts a single Dispatch call.
type CallOptions struct {
	Timeout time.Duration
}

// Dispatcher runs agents concurrently. It is safe for concurrent use.
type Dispatcher struct {
	cfg     Config
	filter  OutputFilter
	logger  logging.Logger
	metrics *instruments
}

// New creates a Dispatcher.
func New(optFns ...func(o *Options)) *Dispatcher {
	opts := Options{Config: DefaultConfig}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultConfig.Timeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	return &Dispatcher{
		cfg:     opts.Config,
		filter:  opts.Filter,
		logger:  logging.OrNoOp(opts.Logger),
		metrics: newInstruments(opts.Meter),
	}
}

// Dispatch sends message to every participant concurrently and waits for all
// of them. The returned slice has one result per participant in the same
// order. An *core.AllAgentsFailedError is returned only when every
// participant failed; the results are returned alongside it.
func (d *Dispatcher) Dispatch(ic *core.InvocationContext, message string, participants []core.Participant, optFns ...func(o *CallOptions)) ([]core.AgentInvocationResult, error) {
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	call := CallOptions{Timeout: d.cfg.Timeout}
	for _, fn := range optFns {
		fn(&call)
	}
	if call.Timeout <= 0 {
		call.Timeout = d.cfg.Timeout
	}

	results := make([]core.AgentInvocationResult, len(participants))

	var wg sync.WaitGroup
	for i, p := range participants {
		wg.Add(1)
		go func(i int, p core.Participant) {
			defer wg.Done()
			results[i] = d.invoke(ic, message, p, call.Timeout)
		}(i, p)
	}
	wg.Wait()

	failed := &core.AllAgentsFailedError{Causes: map[string]error{}}
	for _, r := range results {
		if r.Success {
			return results, nil
		}
		failed.Agents = append(failed.Agents, r.AgentName)
		failed.Causes[r.AgentName] = r.Err
	}
	return results, failed
}

func (d *Dispatcher) invoke(ic *core.InvocationContext, message string, p core.Participant, timeout time.Duration) core.AgentInvocationResult {
	start := time.Now()
	res := core.AgentInvocationResult{AgentName: p.Name}

	actx, cancel := context.WithTimeout(ic.Context, timeout)
	defer cancel()
	aic := ic.ForAgent(actx, core.AgentInfo{Name: p.Name, Description: p.Descriptor.Description})

	var content string
	op := func() error {
		res.Attempts++
		if err := ic.Budget.Spend(); err != nil {
			return backoff.Permanent(err)
		}
		out, err := respond(actx, p.Agent, aic, message)
		if err == nil {
			content = out
			return nil
		}
		if actx.Err() != nil || !errors.Is(err, core.ErrRateLimited) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		d.metrics.retry(ic.Context, p.Name)
		d.logger.Warn("dispatch.agent.rate_limited", "agent", p.Name, "attempt", res.Attempts, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, d.newBackOff(actx), notify)
	res.Latency = time.Since(start)
	res.Timestamp = time.Now()

	if err != nil {
		outcome := outcomeError
		switch {
		case errors.Is(actx.Err(), context.DeadlineExceeded) && ic.Context.Err() == nil:
			err = fmt.Errorf("%w after %s: %w", core.ErrAgentTimeout, timeout, err)
			outcome = outcomeTimeout
		case ic.Context.Err() != nil:
			outcome = outcomeCanceled
		case errors.Is(err, core.ErrRateLimited):
			outcome = outcomeRateLimited
		}
		res.Err = err
		res.ErrorMessage = err.Error()
		d.metrics.record(ic.Context, p.Name, outcome, res.Latency)
		d.logger.Warn("dispatch.agent.failed", "agent", p.Name, "outcome", outcome, "attempts", res.Attempts, "latency", res.Latency, "error", err)
		return res
	}

	res.Success = true
	res.Content = content
	if d.filter != nil {
		filteredContent, verdict, filtered := d.filter.FilterOutput(ic.Context, p.Name, content)
		res.Content = filteredContent
		res.Filtered = filtered
		res.Verdict = &verdict
		if filtered {
			d.metrics.filter(ic.Context, p.Name)
		}
	}

	d.metrics.record(ic.Context, p.Name, outcomeSuccess, res.Latency)
	d.logger.Info("dispatch.agent.completed", "agent", p.Name, "attempts", res.Attempts, "latency", res.Latency, "filtered", res.Filtered)
	return res
}

func (d *Dispatcher) newBackOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialBackoff
	eb.MaxInterval = d.cfg.MaxBackoff
	eb.MaxElapsedTime = 0 // bounded by the agent deadline instead
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.cfg.MaxAttempts-1)), ctx)
}

// respond runs the agent and abandons it when ctx is done, so an agent that
// ignores cancellation still honours the deadline.
func respond(ctx context.Context, agent core.Agent, ic *core.InvocationContext, message string) (string, error) {
	type result struct {
		out string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("agent panicked: %v", r)}
			}
		}()
		out, err := agent.Respond(ic, message)
		ch <- result{out, err}
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

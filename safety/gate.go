package safety

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// DefaultPlaceholder replaces unsafe output under the placeholder action.
const DefaultPlaceholder = "[Content removed due to safety policy]"

// Config holds gate policy.
type Config struct {
	Enabled            bool
	BlockUnsafeInput   bool
	FilterUnsafeOutput bool
	// Thresholds per category; missing categories use DefaultThreshold and
	// DisabledThreshold (-1) turns a category off.
	Thresholds   map[core.Category]int
	Blocklist    []string
	OutputAction core.OutputAction
	Placeholder  string
	// Timeout bounds each classifier call independently of agent deadlines.
	Timeout time.Duration
}

// DefaultConfig returns the baseline policy: enabled, every category at
// threshold 4, unsafe output replaced by the placeholder.
func DefaultConfig() Config {
	th := make(map[core.Category]int, 4)
	for _, c := range core.Categories() {
		th[c] = DefaultThreshold
	}
	return Config{
		Enabled:            true,
		BlockUnsafeInput:   true,
		FilterUnsafeOutput: true,
		Thresholds:         th,
		OutputAction:       core.OutputPlaceholder,
		Placeholder:        DefaultPlaceholder,
		Timeout:            5 * time.Second,
	}
}

// Validate reports configuration problems.
func (c Config) Validate() error {
	var problems []string
	for cat, th := range c.Thresholds {
		if th != DisabledThreshold && (th < 0 || th > core.MaxSeverity) {
			problems = append(problems, fmt.Sprintf("threshold for %s must be -1 or 0..%d, got %d", cat, core.MaxSeverity, th))
		}
	}
	switch c.OutputAction {
	case "", core.OutputPlaceholder, core.OutputRedact, core.OutputPassthrough:
	default:
		problems = append(problems, fmt.Sprintf("unknown output action %q", c.OutputAction))
	}
	if c.Timeout < 0 {
		problems = append(problems, "timeout must not be negative")
	}
	if len(problems) > 0 {
		return errors.New("invalid safety config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Options configures a Gate.
type Options struct {
	Config
	Classifier core.Classifier
	Logger     logging.Logger
}

// Gate screens content against the configured policy. It is safe for
// concurrent use.
type Gate struct {
	cfg        Config
	classifier core.Classifier
	logger     logging.Logger
}

// NewGate creates a Gate. Without a classifier only the blocklist applies and
// every verdict is reported as unavailable.
func NewGate(optFns ...func(o *Options)) *Gate {
	opts := Options{Config: DefaultConfig()}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := opts.Config
	th := make(map[core.Category]int, len(cfg.Thresholds))
	for k, v := range cfg.Thresholds {
		th[k] = v
	}
	cfg.Thresholds = th
	if cfg.OutputAction == "" {
		cfg.OutputAction = core.OutputPlaceholder
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = DefaultPlaceholder
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Gate{cfg: cfg, classifier: opts.Classifier, logger: logging.OrNoOp(opts.Logger)}
}

// Disabled returns a gate that passes everything.
func Disabled() *Gate {
	return NewGate(func(o *Options) { o.Enabled = false })
}

// Config returns a copy of the active policy.
func (g *Gate) Config() Config { return g.cfg }

// Classify scores text and applies the policy. It never returns an error:
// classifier failures yield an unavailable verdict.
func (g *Gate) Classify(ctx context.Context, text string) core.SafetyVerdict {
	if !g.cfg.Enabled {
		return skipped("text", "gate disabled")
	}
	if strings.TrimSpace(text) == "" {
		return skipped("text", "empty content")
	}

	local := matchBlocklist(text, g.cfg.Blocklist)
	raw, err := g.run(ctx, func(c context.Context) (core.SafetyVerdict, error) {
		return g.classifier.ClassifyText(c, text)
	})
	if err != nil {
		return g.unavailable("text", err, local)
	}

	v := Evaluate(raw.Severities, g.cfg.Thresholds, append(local, raw.BlocklistMatches...))
	v.MediaType = "text"
	return v
}

// ClassifyImage scores an image attachment and applies the policy.
func (g *Gate) ClassifyImage(ctx context.Context, img core.Image) core.SafetyVerdict {
	if !g.cfg.Enabled {
		return skipped("image", "gate disabled")
	}
	if len(img.Data) == 0 {
		return skipped("image", "empty content")
	}

	raw, err := g.run(ctx, func(c context.Context) (core.SafetyVerdict, error) {
		return g.classifier.ClassifyImage(c, img)
	})
	if err != nil {
		return g.unavailable("image", err, nil)
	}

	v := Evaluate(raw.Severities, g.cfg.Thresholds, raw.BlocklistMatches)
	v.MediaType = "image"
	return v
}

// IsAllowed reports whether content with this verdict may proceed.
func (g *Gate) IsAllowed(v core.SafetyVerdict) bool { return v.IsSafe }

// CheckInput screens an inbound message and its images. It returns a
// *core.PolicyViolationError when input blocking is enabled and the content
// is not allowed.
func (g *Gate) CheckInput(ctx context.Context, text string, images []core.Image) (core.SafetyVerdict, error) {
	if !g.cfg.Enabled || !g.cfg.BlockUnsafeInput {
		return skipped("text", "input check disabled"), nil
	}

	v := g.Classify(ctx, text)
	if !g.IsAllowed(v) {
		g.logger.Warn("safety.input.blocked", "categories", v.FlaggedNames(), "blocklist", v.BlocklistMatches)
		return v, core.NewPolicyViolation(core.StageInput, v)
	}

	for i, img := range images {
		iv := g.ClassifyImage(ctx, img)
		if !g.IsAllowed(iv) {
			g.logger.Warn("safety.input.image_blocked", "image", i, "categories", iv.FlaggedNames())
			return iv, core.NewPolicyViolation(core.StageInput, iv)
		}
	}

	return v, nil
}

// FilterOutput screens agent output. It returns the content to record, the
// verdict and whether the content was flagged. Flagged content is replaced
// according to the output action; passthrough leaves it unchanged.
func (g *Gate) FilterOutput(ctx context.Context, source, text string) (string, core.SafetyVerdict, bool) {
	if !g.cfg.Enabled || !g.cfg.FilterUnsafeOutput {
		return text, skipped("text", "output check disabled"), false
	}

	v := g.Classify(ctx, text)
	if g.IsAllowed(v) {
		return text, v, false
	}

	g.logger.Warn("safety.output.filtered", "source", source, "action", string(g.cfg.OutputAction), "summary", Summary(v))

	switch g.cfg.OutputAction {
	case core.OutputPassthrough:
		return text, v, true
	case core.OutputRedact:
		return "", v, true
	default:
		return g.cfg.Placeholder, v, true
	}
}

// Replaces reports whether flagged output is withheld (not passed through).
func (g *Gate) Replaces() bool { return g.cfg.OutputAction != core.OutputPassthrough }

// run invokes fn bounded by the gate timeout. A classifier that ignores its
// context is abandoned when the deadline passes; a panic becomes an error.
func (g *Gate) run(ctx context.Context, fn func(context.Context) (core.SafetyVerdict, error)) (core.SafetyVerdict, error) {
	if g.classifier == nil {
		return core.SafetyVerdict{}, fmt.Errorf("%w: no classifier configured", core.ErrClassifierUnavailable)
	}

	cctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	type result struct {
		v   core.SafetyVerdict
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("classifier panicked: %v", rec)}
			}
		}()
		v, err := fn(cctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return core.SafetyVerdict{}, fmt.Errorf("%w: %w", core.ErrClassifierUnavailable, r.err)
		}
		return r.v, nil
	case <-cctx.Done():
		return core.SafetyVerdict{}, fmt.Errorf("%w: %w", core.ErrClassifierUnavailable, cctx.Err())
	}
}

func (g *Gate) unavailable(media string, err error, local []string) core.SafetyVerdict {
	g.logger.Warn("safety.classifier.unavailable", "media", media, "error", err)
	matches := dedupe(local)
	return core.SafetyVerdict{
		Status:           core.VerdictUnavailable,
		IsSafe:           len(matches) == 0,
		BlocklistMatches: matches,
		MediaType:        media,
		Reason:           err.Error(),
		Err:              err,
	}
}

func skipped(media, reason string) core.SafetyVerdict {
	return core.SafetyVerdict{Status: core.VerdictSkipped, IsSafe: true, MediaType: media, Reason: reason}
}

package safety

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(c core.Classifier, optFns ...func(o *Options)) *Gate {
	return NewGate(append([]func(o *Options){func(o *Options) { o.Classifier = c }}, optFns...)...)
}

func TestEvaluate_ThresholdBoundary(t *testing.T) {
	th := map[core.Category]int{core.CategoryViolence: 4}

	v := Evaluate(map[core.Category]int{core.CategoryViolence: 3}, th, nil)
	assert.True(t, v.IsSafe)
	assert.Empty(t, v.Flagged)

	v = Evaluate(map[core.Category]int{core.CategoryViolence: 4}, th, nil)
	assert.False(t, v.IsSafe)
	assert.Equal(t, []core.Category{core.CategoryViolence}, v.Flagged)
}

func TestEvaluate_DisabledCategory(t *testing.T) {
	th := map[core.Category]int{core.CategoryHate: DisabledThreshold}
	v := Evaluate(map[core.Category]int{core.CategoryHate: 7}, th, nil)
	assert.True(t, v.IsSafe)
}

func TestEvaluate_BlocklistOnly(t *testing.T) {
	v := Evaluate(map[core.Category]int{}, nil, []string{"b", "a", "b"})
	assert.False(t, v.IsSafe)
	assert.Equal(t, []string{"a", "b"}, v.BlocklistMatches)
}

func TestGate_Classify_FlagsViolence(t *testing.T) {
	cls := testutil.NewStubClassifier().Score("fight", map[core.Category]int{core.CategoryViolence: 6})
	g := newTestGate(cls)

	v := g.Classify(context.Background(), "fight")
	assert.Equal(t, core.VerdictChecked, v.Status)
	assert.False(t, g.IsAllowed(v))
	assert.Equal(t, []core.Category{core.CategoryViolence}, v.Flagged)
	assert.Equal(t, "Content flagged - violence: 6/7", Summary(v))
}

func TestGate_Classify_LocalBlocklistCaseInsensitive(t *testing.T) {
	g := newTestGate(testutil.NewStubClassifier(), func(o *Options) { o.Blocklist = []string{"Secret Project"} })
	v := g.Classify(context.Background(), "tell me about the secret project")
	assert.False(t, v.IsSafe)
	assert.Equal(t, []string{"Secret Project"}, v.BlocklistMatches)
}

func TestGate_FailOpenOnClassifierError(t *testing.T) {
	cls := testutil.NewStubClassifier()
	cls.Err = errors.New("service down")
	g := newTestGate(cls)

	v := g.Classify(context.Background(), "anything")
	assert.Equal(t, core.VerdictUnavailable, v.Status)
	assert.True(t, g.IsAllowed(v))
	assert.ErrorIs(t, v.Err, core.ErrClassifierUnavailable)

	_, err := g.CheckInput(context.Background(), "anything", nil)
	assert.NoError(t, err)
}

type panickingClassifier struct{}

func (panickingClassifier) ClassifyText(context.Context, string) (core.SafetyVerdict, error) {
	panic("classifier bug")
}

func (panickingClassifier) ClassifyImage(context.Context, core.Image) (core.SafetyVerdict, error) {
	panic("classifier bug")
}

func TestGate_FailOpenOnClassifierPanic(t *testing.T) {
	g := newTestGate(panickingClassifier{})

	v := g.Classify(context.Background(), "anything")
	assert.Equal(t, core.VerdictUnavailable, v.Status)
	assert.True(t, g.IsAllowed(v))
	assert.ErrorIs(t, v.Err, core.ErrClassifierUnavailable)
	assert.Contains(t, v.Reason, "classifier bug")

	_, err := g.CheckInput(context.Background(), "anything", nil)
	assert.NoError(t, err)
}

func TestGate_FailOpenKeepsLocalBlocklist(t *testing.T) {
	cls := testutil.NewStubClassifier()
	cls.Err = errors.New("service down")
	g := newTestGate(cls, func(o *Options) { o.Blocklist = []string{"forbidden"} })

	v := g.Classify(context.Background(), "this is forbidden")
	assert.Equal(t, core.VerdictUnavailable, v.Status)
	assert.False(t, g.IsAllowed(v))
}

func TestGate_ClassifierTimeout(t *testing.T) {
	cls := testutil.NewStubClassifier()
	cls.Delay = time.Second
	g := newTestGate(cls, func(o *Options) { o.Timeout = 20 * time.Millisecond })

	start := time.Now()
	v := g.Classify(context.Background(), "slow")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, v.Unavailable())
	assert.True(t, v.IsSafe)
}

func TestGate_NoClassifierIsUnavailable(t *testing.T) {
	g := NewGate()
	v := g.Classify(context.Background(), "hello")
	assert.True(t, v.Unavailable())
	assert.True(t, g.IsAllowed(v))
}

func TestGate_EmptyAndDisabledAreSkipped(t *testing.T) {
	cls := testutil.NewStubClassifier()
	g := newTestGate(cls)
	assert.Equal(t, core.VerdictSkipped, g.Classify(context.Background(), "   ").Status)
	assert.Empty(t, cls.Calls())

	d := Disabled()
	v := d.Classify(context.Background(), "anything")
	assert.Equal(t, core.VerdictSkipped, v.Status)
	assert.True(t, v.IsSafe)
}

func TestGate_CheckInput_Violation(t *testing.T) {
	cls := testutil.NewStubClassifier().Score("bad", map[core.Category]int{core.CategoryHate: 5})
	g := newTestGate(cls)

	v, err := g.CheckInput(context.Background(), "bad", nil)
	require.Error(t, err)
	var pv *core.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, core.StageInput, pv.Stage)
	assert.Equal(t, []core.Category{core.CategoryHate}, pv.Categories)
	assert.False(t, v.IsSafe)
	assert.Equal(t, "Input blocked due to unsafe content: hate", err.Error())
}

func TestGate_CheckInput_DisabledBlocking(t *testing.T) {
	cls := testutil.NewStubClassifier().Score("bad", map[core.Category]int{core.CategoryHate: 5})
	g := newTestGate(cls, func(o *Options) { o.BlockUnsafeInput = false })
	_, err := g.CheckInput(context.Background(), "bad", nil)
	assert.NoError(t, err)
}

func TestGate_CheckInput_ImageFailOpen(t *testing.T) {
	cls := testutil.NewStubClassifier()
	cls.ImageErr = ErrImageUnsupported
	g := newTestGate(cls)
	_, err := g.CheckInput(context.Background(), "look", []core.Image{{Data: []byte{1, 2, 3}, MimeType: "image/png"}})
	assert.NoError(t, err)
}

func TestGate_FilterOutput_Actions(t *testing.T) {
	cls := testutil.NewStubClassifier().Score("bad", map[core.Category]int{core.CategorySexual: 7})

	tests := []struct {
		action core.OutputAction
		want   string
	}{
		{core.OutputPlaceholder, DefaultPlaceholder},
		{core.OutputRedact, ""},
		{core.OutputPassthrough, "bad"},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			g := newTestGate(cls, func(o *Options) { o.OutputAction = tt.action })
			out, v, filtered := g.FilterOutput(context.Background(), "alpha", "bad")
			assert.True(t, filtered)
			assert.False(t, v.IsSafe)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestGate_FilterOutput_Safe(t *testing.T) {
	g := newTestGate(testutil.NewStubClassifier())
	out, v, filtered := g.FilterOutput(context.Background(), "alpha", "good")
	assert.False(t, filtered)
	assert.True(t, v.IsSafe)
	assert.Equal(t, "good", out)
}

func TestGate_ConcurrentUse(t *testing.T) {
	cls := testutil.NewStubClassifier().Score("bad", map[core.Category]int{core.CategoryViolence: 6})
	g := newTestGate(cls)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := "good"
			if i%2 == 0 {
				text = "bad"
			}
			_, v, filtered := g.FilterOutput(context.Background(), "a", text)
			assert.Equal(t, text == "bad", filtered)
			assert.Equal(t, text != "bad", v.IsSafe)
		}(i)
	}
	wg.Wait()
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Thresholds[core.CategoryHate] = 9
	cfg.OutputAction = "explode"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold for hate")
	assert.Contains(t, err.Error(), "unknown output action")
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "Content is safe", Summary(core.SafetyVerdict{Status: core.VerdictChecked, IsSafe: true}))
	assert.Equal(t, "Content safety classifier unavailable", Summary(core.SafetyVerdict{Status: core.VerdictUnavailable, IsSafe: true}))
	assert.Equal(t, "Content safety check skipped", Summary(core.SafetyVerdict{Status: core.VerdictSkipped, IsSafe: true}))
}

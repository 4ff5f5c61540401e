package safety

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/agentrelay/core"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrImageUnsupported is returned by classifiers that only handle text.
var ErrImageUnsupported = errors.New("image classification not supported")

// OpenAIClassifierOptions configures an OpenAIClassifier.
type OpenAIClassifierOptions struct {
	Model   string
	APIKey  string
	BaseURL string
}

// OpenAIClassifier scores text with the OpenAI moderation endpoint. Category
// scores (0..1) are projected onto the 0..7 severity scale; related
// sub-categories fold into their parent by taking the maximum.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

// NewOpenAIClassifier creates a classifier using the official client.
func NewOpenAIClassifier(optFns ...func(o *OpenAIClassifierOptions)) *OpenAIClassifier {
	opts := OpenAIClassifierOptions{Model: openai.ModerationModelOmniModerationLatest}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)
	return &OpenAIClassifier{client: &client, model: opts.Model}
}

// NewOpenAIClassifierFromClient creates a classifier from an existing client.
func NewOpenAIClassifierFromClient(client *openai.Client, model string) *OpenAIClassifier {
	if model == "" {
		model = openai.ModerationModelOmniModerationLatest
	}
	return &OpenAIClassifier{client: client, model: model}
}

// ClassifyText implements core.Classifier.
func (c *OpenAIClassifier) ClassifyText(ctx context.Context, text string) (core.SafetyVerdict, error) {
	resp, err := c.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
		Model: c.model,
	})
	if err != nil {
		return core.SafetyVerdict{}, fmt.Errorf("openai moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return core.SafetyVerdict{}, errors.New("openai moderation: no results returned")
	}

	s := resp.Results[0].CategoryScores
	return core.SafetyVerdict{
		Status:    core.VerdictChecked,
		MediaType: "text",
		Severities: map[core.Category]int{
			core.CategoryHate:     scoreToSeverity(s.Hate, s.HateThreatening),
			core.CategorySelfHarm: scoreToSeverity(s.SelfHarm, s.SelfHarmIntent, s.SelfHarmInstructions),
			core.CategorySexual:   scoreToSeverity(s.Sexual, s.SexualMinors),
			core.CategoryViolence: scoreToSeverity(s.Violence, s.ViolenceGraphic),
		},
	}, nil
}

// ClassifyImage implements core.Classifier; images are not supported.
func (c *OpenAIClassifier) ClassifyImage(context.Context, core.Image) (core.SafetyVerdict, error) {
	return core.SafetyVerdict{}, ErrImageUnsupported
}

func scoreToSeverity(scores ...float64) int {
	top := 0.0
	for _, s := range scores {
		if s > top {
			top = s
		}
	}
	return ClampSeverity(int(math.Round(top * core.MaxSeverity)))
}

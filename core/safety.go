package core

import (
	"context"
	"strings"
)

// Category is a harm category scored by a Classifier.
type Category string

// Supported harm categories.
const (
	CategoryHate     Category = "hate"
	CategorySelfHarm Category = "self_harm"
	CategorySexual   Category = "sexual"
	CategoryViolence Category = "violence"
)

// Categories lists every supported category in canonical order.
func Categories() []Category {
	return []Category{CategoryHate, CategorySelfHarm, CategorySexual, CategoryViolence}
}

// ParseCategory normalizes provider spellings ("SelfHarm", "self-harm") to a Category.
func ParseCategory(s string) (Category, bool) {
	k := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	switch k {
	case "hate":
		return CategoryHate, true
	case "selfharm":
		return CategorySelfHarm, true
	case "sexual":
		return CategorySexual, true
	case "violence":
		return CategoryViolence, true
	}
	return "", false
}

// MaxSeverity is the top of the 0..7 severity scale.
const MaxSeverity = 7

// VerdictStatus tells whether a verdict is backed by an actual classification.
type VerdictStatus string

const (
	// VerdictChecked means the classifier scored the content.
	VerdictChecked VerdictStatus = "checked"
	// VerdictUnavailable means classification failed or timed out; the gate fails open.
	VerdictUnavailable VerdictStatus = "unavailable"
	// VerdictSkipped means the gate was disabled or there was nothing to classify.
	VerdictSkipped VerdictStatus = "skipped"
)

// SafetyVerdict is the outcome of classifying one piece of content.
// IsSafe holds exactly when Flagged and BlocklistMatches are both empty.
type SafetyVerdict struct {
	Status           VerdictStatus    `json:"status"`
	IsSafe           bool             `json:"is_safe"`
	Severities       map[Category]int `json:"severities,omitempty"`
	Flagged          []Category       `json:"flagged,omitempty"`
	BlocklistMatches []string         `json:"blocklist_matches,omitempty"`
	MediaType        string           `json:"media_type,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	Err              error            `json:"-"`
}

// Unavailable reports whether the verdict is a fail-open placeholder.
func (v SafetyVerdict) Unavailable() bool { return v.Status == VerdictUnavailable }

// FlaggedNames returns the flagged categories as strings.
func (v SafetyVerdict) FlaggedNames() []string {
	out := make([]string, 0, len(v.Flagged))
	for _, c := range v.Flagged {
		out = append(out, string(c))
	}
	return out
}

// Image is an attachment submitted alongside a message.
type Image struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
}

// Classifier scores content. Implementations return raw severities (and any
// backend blocklist hits); thresholds are applied by the caller.
type Classifier interface {
	ClassifyText(ctx context.Context, text string) (SafetyVerdict, error)
	ClassifyImage(ctx context.Context, img Image) (SafetyVerdict, error)
}

// OutputAction controls what replaces agent output that fails the output check.
type OutputAction string

const (
	// OutputPlaceholder replaces the content with a fixed notice.
	OutputPlaceholder OutputAction = "placeholder"
	// OutputRedact replaces the content with the empty string.
	OutputRedact OutputAction = "redact"
	// OutputPassthrough keeps the content and only tags it.
	OutputPassthrough OutputAction = "passthrough"
)

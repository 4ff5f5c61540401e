package safety

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentrelay/core"
)

// DefaultThreshold is the severity at or above which a category is flagged
// when no explicit threshold is configured.
const DefaultThreshold = 4

// DisabledThreshold turns off a category.
const DisabledThreshold = -1

// Evaluate applies thresholds and blocklist matches to raw severities and
// returns a checked verdict.
func Evaluate(severities map[core.Category]int, thresholds map[core.Category]int, matches []string) core.SafetyVerdict {
	v := core.SafetyVerdict{
		Status:     core.VerdictChecked,
		Severities: make(map[core.Category]int, len(severities)),
	}
	for cat, sev := range severities {
		v.Severities[cat] = sev
	}
	for _, cat := range core.Categories() {
		sev, ok := severities[cat]
		if !ok {
			continue
		}
		threshold, ok := thresholds[cat]
		if !ok {
			threshold = DefaultThreshold
		}
		if threshold == DisabledThreshold {
			continue
		}
		if sev >= threshold {
			v.Flagged = append(v.Flagged, cat)
		}
	}
	v.BlocklistMatches = dedupe(matches)
	v.IsSafe = len(v.Flagged) == 0 && len(v.BlocklistMatches) == 0
	return v
}

// Summary renders a short human readable description of a verdict.
func Summary(v core.SafetyVerdict) string {
	switch v.Status {
	case core.VerdictSkipped:
		return "Content safety check skipped"
	case core.VerdictUnavailable:
		if len(v.BlocklistMatches) > 0 {
			return fmt.Sprintf("Content safety classifier unavailable; blocklist: %s", strings.Join(v.BlocklistMatches, ", "))
		}
		return "Content safety classifier unavailable"
	}
	if v.IsSafe {
		return "Content is safe"
	}
	parts := make([]string, 0, len(v.Flagged)+1)
	for _, cat := range v.Flagged {
		parts = append(parts, fmt.Sprintf("%s: %d/%d", cat, v.Severities[cat], core.MaxSeverity))
	}
	if len(v.BlocklistMatches) > 0 {
		parts = append(parts, "blocklist: "+strings.Join(v.BlocklistMatches, ", "))
	}
	return "Content flagged - " + strings.Join(parts, "; ")
}

// matchBlocklist returns the configured terms contained in text, ignoring case.
func matchBlocklist(text string, terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	var out []string
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t != "" && strings.Contains(lower, t) {
			out = append(out, term)
		}
	}
	return out
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

// ClampSeverity keeps s within 0..MaxSeverity.
func ClampSeverity(s int) int {
	if s < 0 {
		return 0
	}
	if s > core.MaxSeverity {
		return core.MaxSeverity
	}
	return s
}

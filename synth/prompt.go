package synth

import (
	"strings"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
)

// DefaultPrompt is the template handed to the synthesis agent.
const DefaultPrompt = `Combine these expert responses into ONE coherent, helpful answer for the user.
{{if .Message}}
User question: {{.Message}}
{{end}}
{{range .Sources}}**{{.Label}} Response:**
{{.Text}}

{{end}}Please create a unified response that:
1. Combines the key information from all experts
2. Removes redundancy and resolves conflicting statements
3. Keeps a natural, conversational tone
4. Fully answers the user's original question
5. Credits specialist knowledge where relevant

Synthesized Response:`

// NoContent stands in for a blank answer in concatenated and prompt text.
const NoContent = "(no content)"

// Source is one agent answer fed into synthesis.
type Source struct {
	Name    string
	Label   string
	Content string
}

// Text returns the trimmed content, or NoContent when it is blank.
func (s Source) Text() string {
	if t := strings.TrimSpace(s.Content); t != "" {
		return t
	}
	return NoContent
}

type promptData struct {
	Message string
	Sources []Source
}

// BuildPrompt renders tmpl (DefaultPrompt when empty) for message and sources.
func BuildPrompt(tmpl, message string, sources []Source) (string, error) {
	if tmpl == "" {
		tmpl = DefaultPrompt
	}
	return util.RenderTemplate(tmpl, promptData{Message: message, Sources: sources})
}

// Concatenate joins sources as attributed blocks separated by blank lines.
func Concatenate(sources []Source) string {
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		label := s.Label
		if label == "" {
			label = s.Name
		}
		parts = append(parts, "**"+label+":**\n"+s.Text())
	}
	return strings.Join(parts, "\n\n")
}

func sourceNames(sources []Source) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.Name
	}
	return out
}

// sourcesFrom keeps every successful result, blank ones included, in its
// original order.
func sourcesFrom(results []core.AgentInvocationResult, label func(string) string) []Source {
	var out []Source
	for _, r := range core.Successful(results) {
		out = append(out, Source{Name: r.AgentName, Label: label(r.AgentName), Content: r.Content})
	}
	return out
}

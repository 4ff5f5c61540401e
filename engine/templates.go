package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// ErrUnknownTemplate is returned by ExecuteTemplate for unregistered names.
var ErrUnknownTemplate = errors.New("unknown template")

// Template output formats.
const (
	FormatUserFriendly = "user_friendly"
	FormatDetailed     = "detailed"
)

// Template is a predefined group chat: a fixed agent list with its own
// per-agent deadline and synthesis setting.
type Template struct {
	Name         string        `json:"name"`
	DisplayName  string        `json:"display_name"`
	Description  string        `json:"description"`
	Agents       []string      `json:"agents"`
	Format       string        `json:"format"`
	UseCases     []string      `json:"use_cases,omitempty"`
	Synthesis    bool          `json:"response_synthesis"`
	AgentTimeout time.Duration `json:"timeout_per_agent"`
}

// DefaultTemplates returns the built-in group chat templates.
func DefaultTemplates() []Template {
	return []Template{
		{
			Name:         "general_inquiry",
			DisplayName:  "General Inquiry",
			Description:  "General multi-agent inquiry with people lookup and knowledge search",
			Agents:       []string{"people_lookup", "knowledge_finder"},
			Format:       FormatUserFriendly,
			UseCases:     []string{"Employee questions", "Information lookup", "General assistance"},
			Synthesis:    true,
			AgentTimeout: 60 * time.Second,
		},
		{
			Name:         "comprehensive_research",
			DisplayName:  "Comprehensive Research",
			Description:  "Comprehensive research using all available agents",
			Agents:       []string{"general", "people_lookup", "knowledge_finder"},
			Format:       FormatDetailed,
			UseCases:     []string{"Complex research", "Multi-perspective analysis", "Detailed investigations"},
			Synthesis:    false,
			AgentTimeout: 90 * time.Second,
		},
		{
			Name:         "people_focused",
			DisplayName:  "People-Focused Inquiry",
			Description:  "People-focused inquiry with general assistance",
			Agents:       []string{"people_lookup", "general"},
			Format:       FormatUserFriendly,
			UseCases:     []string{"HR inquiries", "Team information", "Contact lookup"},
			Synthesis:    true,
			AgentTimeout: 45 * time.Second,
		},
		{
			Name:         "knowledge_deep_dive",
			DisplayName:  "Knowledge Deep Dive",
			Description:  "Deep knowledge search with expert analysis",
			Agents:       []string{"knowledge_finder", "general"},
			Format:       FormatUserFriendly,
			UseCases:     []string{"Policy questions", "Procedure lookup", "Documentation search"},
			Synthesis:    true,
			AgentTimeout: 75 * time.Second,
		},
	}
}

// Templates returns the configured templates in registration order.
func (e *Engine) Templates() []Template {
	out := make([]Template, 0, len(e.order))
	for _, name := range e.order {
		t := e.templates[name]
		t.Agents = append([]string(nil), t.Agents...)
		t.UseCases = append([]string(nil), t.UseCases...)
		out = append(out, t)
	}
	return out
}

// ExecuteTemplate runs message through the named template's agents.
func (e *Engine) ExecuteTemplate(ctx context.Context, name, message, sessionID string) (*core.WorkflowResult, error) {
	t, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	return e.Execute(ctx, core.Request{
		Message:          message,
		SessionID:        sessionID,
		Agents:           append([]string(nil), t.Agents...),
		DisableSynthesis: !t.Synthesis,
		AgentTimeout:     t.AgentTimeout,
	})
}

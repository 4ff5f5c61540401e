package router

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
)

// DefaultPrompt is the template handed to the delegate agent.
const DefaultPrompt = `You are a routing assistant for a team of specialist agents.
Choose the agents best suited to answer the user's message. Pick at most {{.MaxAgents}}.

Available agents:
{{range .Agents}}- {{.Name}}: {{.Description}}{{if .Tags}} (tags: {{join ", " .Tags}}){{end}}
{{end}}{{if .History}}
Recent conversation:
{{range .History}}{{.Speaker}}: {{truncate 500 .Content}}
{{end}}{{end}}
User message: {{.Message}}

Reply with a JSON array of agent names only, for example ["{{.Example}}"].`

type promptData struct {
	Agents    []core.AgentDescriptor
	History   []core.Turn
	Message   string
	MaxAgents int
	Example   string
}

func renderPrompt(tmpl string, data promptData) (string, error) {
	return util.RenderTemplate(tmpl, data)
}

// ParseAgentNames extracts agent names from a delegate reply. JSON arrays
// (bare or under an "agents" key) are preferred; otherwise the reply is split
// on commas, semicolons and newlines with list markers stripped.
func ParseAgentNames(reply string) []string {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil
	}

	if start, end := strings.Index(reply, "["), strings.LastIndex(reply, "]"); start >= 0 && end > start {
		var names []string
		if err := json.Unmarshal([]byte(reply[start:end+1]), &names); err == nil {
			return cleanNames(names)
		}
	}
	if start, end := strings.Index(reply, "{"), strings.LastIndex(reply, "}"); start >= 0 && end > start {
		var obj struct {
			Agents []string `json:"agents"`
		}
		if err := json.Unmarshal([]byte(reply[start:end+1]), &obj); err == nil && len(obj.Agents) > 0 {
			return cleanNames(obj.Agents)
		}
	}

	fields := strings.FieldsFunc(reply, func(r rune) bool { return r == ',' || r == ';' || r == '\n' })
	return cleanNames(fields)
}

func cleanNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimLeftFunc(s, func(r rune) bool {
			return unicode.IsSpace(r) || unicode.IsDigit(r) || strings.ContainsRune("-*•.)[\"'`", r)
		})
		s = strings.TrimRightFunc(s, func(r rune) bool {
			return unicode.IsSpace(r) || strings.ContainsRune(".]\"'`", r)
		})
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

package memory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentrelay/core"
)

// ContextHeader introduces the rendered facts.
const ContextHeader = "Known information about the user:"

// ContextString renders what store knows about the session as a bullet list
// sorted by key. It returns "" when nothing is known.
func ContextString(store core.MemoryStore, sessionID string) (string, error) {
	if store == nil || sessionID == "" {
		return "", nil
	}
	facts, err := store.Get(sessionID)
	if err != nil {
		return "", fmt.Errorf("load memory: %w", err)
	}
	if len(facts) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(ContextHeader)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %v", k, facts[k])
	}
	return b.String(), nil
}

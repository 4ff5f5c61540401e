package util

import (
	"bytes"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

// promptFuncs are available to every router and synthesis prompt.
var promptFuncs = template.FuncMap{
	"default": func(fallback, val any) any {
		if val == nil || val == "" {
			return fallback
		}
		return val
	},
	"upper": strings.ToUpper,
	"trim":  strings.TrimSpace,
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
	"truncate": Truncate,
}

// parsed caches templates by source text. Prompts are configured once and
// rendered on every routing or synthesis call.
var parsed sync.Map // map[string]*template.Template

// RenderTemplate executes text as a text/template against data. Prompts are
// plain text, so no HTML escaping is applied.
func RenderTemplate(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := lookup(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func lookup(text string) (*template.Template, error) {
	if t, ok := parsed.Load(text); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New("prompt").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return nil, err
	}
	actual, _ := parsed.LoadOrStore(text, t)
	return actual.(*template.Template), nil
}

// Truncate shortens s to at most n runes, marking the cut with "...".
// n <= 0 disables truncation.
func Truncate(n int, s string) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

// Package redact replaces secret values with a fixed marker before anything
// reaches durable storage or the search index.
package redact

import (
	"fmt"
	"regexp"
	"sort"
)

// DefaultMarker replaces every redacted value.
const DefaultMarker = "[REDACTED]"

// DefaultKeyPatterns match payload keys whose values are always secret.
var DefaultKeyPatterns = []string{
	`(?i)token`,
	`(?i)secret`,
	`(?i)passw(or)?d`,
	`(?i)api[_-]?key`,
	`(?i)private[_-]?key`,
	`(?i)access[_-]?key`,
	`(?i)credential`,
	`(?i)authorization`,
	`(?i)cookie`,
}

// TextRule rewrites secrets embedded in free text. Replace may reference
// capture groups the way regexp.ReplaceAllString does; the marker is
// appended after the replacement.
type TextRule struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

// DefaultTextRules catch common inline credential shapes.
var DefaultTextRules = []TextRule{
	{Pattern: `(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`, Replace: "${1}"},
	{Pattern: `(?i)(--?(?:token|password|secret|api-key)[= ])\S+`, Replace: "${1}"},
	{Pattern: `(?i)\b((?:token|password|passwd|secret|api_key|apikey)\s*[=:]\s*)[^\s,;"']+`, Replace: "${1}"},
}

type compiledText struct {
	re      *regexp.Regexp
	replace string
}

// Redactor applies key and text rules. The zero value redacts nothing;
// use New or Default.
type Redactor struct {
	keys   []*regexp.Regexp
	text   []compiledText
	marker string
}

// New compiles a redactor. An empty marker falls back to DefaultMarker.
func New(keyPatterns []string, textRules []TextRule, marker string) (*Redactor, error) {
	if marker == "" {
		marker = DefaultMarker
	}
	r := &Redactor{marker: marker}
	for _, p := range keyPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("key pattern %q: %w", p, err)
		}
		r.keys = append(r.keys, re)
	}
	for _, rule := range textRules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("text pattern %q: %w", rule.Pattern, err)
		}
		r.text = append(r.text, compiledText{re: re, replace: rule.Replace + marker})
	}
	return r, nil
}

// Default returns a redactor with the built-in rule set.
func Default() *Redactor {
	r, err := New(DefaultKeyPatterns, DefaultTextRules, DefaultMarker)
	if err != nil {
		panic(err)
	}
	return r
}

// Marker returns the replacement marker.
func (r *Redactor) Marker() string {
	return r.marker
}

// SensitiveKey reports whether a payload key names a secret.
func (r *Redactor) SensitiveKey(key string) bool {
	for _, re := range r.keys {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

// Text rewrites inline secrets in s.
func (r *Redactor) Text(s string) string {
	for _, rule := range r.text {
		s = rule.re.ReplaceAllString(s, rule.replace)
	}
	return s
}

// Payload returns a deep copy of m with secret values replaced. The boolean
// reports whether anything changed. The input is never modified.
func (r *Redactor) Payload(m map[string]any) (map[string]any, bool) {
	out, paths := r.PayloadPaths(m)
	return out, len(paths) > 0
}

// PayloadPaths is Payload but reports the key path of every rewritten
// value. Lists are opaque: a change inside a list is reported at the list's
// own path.
func (r *Redactor) PayloadPaths(m map[string]any) (map[string]any, [][]string) {
	if m == nil {
		return nil, nil
	}
	var paths [][]string
	out := r.walk(m, nil, &paths)
	return out.(map[string]any), paths
}

// Value redacts an arbitrary decoded JSON value.
func (r *Redactor) Value(v any) (any, bool) {
	var paths [][]string
	out := r.walk(v, nil, &paths)
	return out, len(paths) > 0
}

func (r *Redactor) walk(v any, path []string, paths *[][]string) any {
	mark := func() {
		*paths = append(*paths, append([]string(nil), path...))
	}
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for _, k := range sortedKeys(val) {
			elem := val[k]
			child := append(append([]string(nil), path...), k)
			if r.SensitiveKey(k) && elem != nil {
				out[k] = r.marker
				*paths = append(*paths, child)
				continue
			}
			out[k] = r.walk(elem, child, paths)
		}
		return out
	case []any:
		out := make([]any, len(val))
		var inner [][]string
		for i, elem := range val {
			out[i] = r.walk(elem, path, &inner)
		}
		if len(inner) > 0 {
			mark()
		}
		return out
	case string:
		red := r.Text(val)
		if red != val {
			mark()
		}
		return red
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

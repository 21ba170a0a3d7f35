// Package sanitize redacts credential-shaped strings from any value that
// leaves the host: response payloads, event payloads, and audit log text.
// The walk produces a fresh deep copy — the input is never mutated — plus
// the JSON-path list of every location where a redaction occurred.
package sanitize

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Sanitizer applies the built-in credential patterns in order. Created once
// at startup; thread-safe and stateless aside from compiled patterns.
type Sanitizer struct {
	patterns []*CompiledPattern
}

// New compiles the built-in patterns. Invalid patterns are logged and
// skipped so one bad expression cannot disable redaction entirely.
func New() *Sanitizer {
	s := &Sanitizer{}
	for _, def := range builtinPatterns {
		compiled, err := regexp.Compile(def.pattern)
		if err != nil {
			slog.Error("Failed to compile sanitizer pattern, skipping",
				"pattern", def.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        def.name,
			Regex:       compiled,
			Replacement: def.replacement,
			Description: def.description,
		})
	}
	return s
}

// Sanitize deep-walks a JSON-shaped value (scalar, slice, or string-keyed
// map) and returns a fresh copy with credential-shaped strings redacted,
// plus the JSON paths (e.g. "$.result.text", "$.items[2]") at which a
// redaction occurred. List indices and map key names are preserved; only
// string values are rewritten. Sanitize is idempotent.
func (s *Sanitizer) Sanitize(v any) (any, []string) {
	var paths []string
	out := s.walk(v, "$", &paths)
	return out, paths
}

// SanitizeString applies the patterns to a single string, reporting
// whether anything was redacted. Used for audit reason/error text.
func (s *Sanitizer) SanitizeString(in string) (string, bool) {
	out := in
	for _, p := range s.patterns {
		out = p.Regex.ReplaceAllString(out, p.Replacement)
	}
	return out, out != in
}

func (s *Sanitizer) walk(v any, path string, paths *[]string) any {
	switch tv := v.(type) {
	case string:
		out, redacted := s.SanitizeString(tv)
		if redacted {
			*paths = append(*paths, path)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(tv))
		// Deterministic walk order so reported paths are stable.
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = s.walk(tv[k], path+"."+escapeKey(k), paths)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = s.walk(e, fmt.Sprintf("%s[%d]", path, i), paths)
		}
		return out
	default:
		// Numbers, booleans, nil: nothing credential-shaped to redact.
		return v
	}
}

// escapeKey makes map keys containing path metacharacters unambiguous in
// reported JSON paths.
func escapeKey(k string) string {
	if strings.ContainsAny(k, ".[]") {
		return `"` + k + `"`
	}
	return k
}

// Package scrub redacts sensitive values in nested extras by field name,
// using compiled per-field regular expressions. Redaction is keyed by field
// name, not by value content: a field named "list" holding the string
// "token-bearer" is left untouched because "list" itself never matches a
// configured pattern, even though the word "token" appears inside it.
package scrub

import (
	"regexp"
)

// Scrubber redacts configured field names found anywhere in a nested
// extras structure (maps, slices, or scalar leaves).
type Scrubber struct {
	patterns    map[string]*regexp.Regexp
	replacement string
}

// New compiles patterns (field name -> regex) and stores the replacement
// token (default "***" when empty).
func New(patterns map[string]string, replacement string) (*Scrubber, error) {
	if replacement == "" {
		replacement = "***"
	}
	compiled := make(map[string]*regexp.Regexp, len(patterns))
	for field, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		compiled[field] = re
	}
	return &Scrubber{patterns: compiled, replacement: replacement}, nil
}

// DefaultPatterns returns the built-in field-name patterns: password,
// secret, token. The runtime falls back to them when the configuration
// supplies no scrub patterns.
func DefaultPatterns() map[string]string {
	return map[string]string{
		"password": ".*",
		"secret":   ".*",
		"token":    ".*",
	}
}

// Scrub returns a fresh copy of extra with every configured field name
// redacted wherever it appears in the nested structure. The input map is
// never mutated.
func (s *Scrubber) Scrub(extra map[string]any) map[string]any {
	out, _ := s.walkMap(extra).(map[string]any)
	if out == nil {
		return map[string]any{}
	}
	return out
}

// walkMap searches a value for mapping keys that match a configured field
// name. When found, the child value is redacted (scalars are regex-matched
// and replaced; containers have every leaf inside them replaced
// unconditionally, since the key itself already matched). When no key
// matches at this level, the walk simply recurses to look deeper.
func (s *Scrubber) walkMap(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			if re, ok := s.patterns[k]; ok {
				out[k] = s.redactMatched(child, re)
			} else {
				out[k] = s.walkMap(child)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.walkMap(item)
		}
		return out
	default:
		return value
	}
}

// redactMatched is used once a field name has already matched: scalar
// leaves are redacted only if the regex matches their stringified content;
// nested containers have every leaf inside redacted unconditionally,
// because the enclosing field name is the thing that matched, not any one
// leaf value.
func (s *Scrubber) redactMatched(value any, re *regexp.Regexp) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = s.redactMatched(child, re)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.redactMatched(item, re)
		}
		return out
	case string:
		if re.MatchString(v) {
			return s.replacement
		}
		return v
	case []byte:
		if re.Match(v) {
			return s.replacement
		}
		return v
	default:
		return value
	}
}

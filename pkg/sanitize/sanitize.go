// Package sanitize enforces payload bounds on a log event before it reaches
// the ring buffer or any sink: message length, extras depth/size/keys,
// context cardinality, and stack-trace frame count. Every enforced rule
// produces a diagnostic note; given the same inputs and limits the output
// is always identical (spec.md §4.3's determinism requirement).
package sanitize

import (
	"encoding/json"
	"sort"
)

// Limits are configuration-valued bounds, not per-event (spec.md §3).
type Limits struct {
	MessageMaxChars      int
	TruncateMessage      bool
	ExtraMaxKeys         int
	ExtraMaxValueChars   int
	ExtraMaxDepth        int
	ExtraMaxTotalBytes   int
	ContextMaxKeys       int
	ContextMaxValueChars int
	StacktraceMaxFrames  int
}

const truncatedMarker = "<truncated>"
const ellipsis = "…"

// Result is the sanitised payload plus diagnostic bookkeeping.
type Result struct {
	Message      string
	Extra        map[string]any
	ContextExtra map[string]any
	Stack        []string

	// Notes are sub-reasons for the payload_truncated diagnostic, e.g.
	// "extras_keys_truncated", "stacktrace_truncated".
	Notes []string

	// RejectReason is non-empty when sanitisation must fail the event
	// entirely (spec.md step 1: message_too_long with TruncateMessage=false).
	RejectReason string
}

// Sanitize applies spec.md §4.3's four ordered steps.
func Sanitize(limits Limits, message string, extra map[string]any, contextExtra map[string]any, stack []string) Result {
	res := Result{Message: message}

	// Step 1: message length.
	if limits.MessageMaxChars > 0 {
		runes := []rune(message)
		if len(runes) > limits.MessageMaxChars {
			if limits.TruncateMessage {
				res.Message = string(runes[:limits.MessageMaxChars]) + ellipsis
				res.Notes = append(res.Notes, "message_truncated")
			} else {
				res.RejectReason = "message_too_long"
				return res
			}
		}
	}

	// Step 2: extras.
	res.Extra, res.Notes = sanitizeExtras(limits, extra, res.Notes)

	// Step 3: context extras (keys/value-chars only, per spec.md §4.3).
	res.ContextExtra, res.Notes = sanitizeContextExtras(limits, contextExtra, res.Notes)

	// Step 4: stack trace.
	if limits.StacktraceMaxFrames > 0 && len(stack) > limits.StacktraceMaxFrames {
		res.Stack = append([]string(nil), stack[len(stack)-limits.StacktraceMaxFrames:]...)
		res.Notes = append(res.Notes, "stacktrace_truncated")
	} else {
		res.Stack = stack
	}

	return res
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sanitizeExtras(limits Limits, extra map[string]any, notes []string) (map[string]any, []string) {
	if extra == nil {
		return map[string]any{}, notes
	}

	keys := sortedKeys(extra)
	if limits.ExtraMaxKeys > 0 && len(keys) > limits.ExtraMaxKeys {
		keys = keys[:limits.ExtraMaxKeys]
		notes = append(notes, "extras_keys_truncated")
	}

	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = walkDepth(extra[k], limits.ExtraMaxDepth, limits.ExtraMaxValueChars, &notes)
	}

	if limits.ExtraMaxTotalBytes > 0 {
		if size, err := jsonSize(out); err == nil && size > limits.ExtraMaxTotalBytes {
			notes = append(notes, "extras_rejected")
			out = map[string]any{}
		}
	}

	return out, notes
}

func sanitizeContextExtras(limits Limits, extra map[string]any, notes []string) (map[string]any, []string) {
	if extra == nil {
		return map[string]any{}, notes
	}

	keys := sortedKeys(extra)
	if limits.ContextMaxKeys > 0 && len(keys) > limits.ContextMaxKeys {
		keys = keys[:limits.ContextMaxKeys]
		notes = append(notes, "context_keys_truncated")
	}

	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = truncateLeaf(extra[k], limits.ContextMaxValueChars, &notes, "context_value_truncated")
	}
	return out, notes
}

// walkDepth recursively bounds maps/slices to maxDepth, replacing anything
// beyond it with the literal truncation marker, and stringifies/truncates
// leaves exceeding maxValueChars.
func walkDepth(value any, maxDepth, maxValueChars int, notes *[]string) any {
	return walkDepthAt(value, 0, maxDepth, maxValueChars, notes)
}

func walkDepthAt(value any, depth, maxDepth, maxValueChars int, notes *[]string) any {
	if maxDepth > 0 && depth >= maxDepth {
		switch value.(type) {
		case map[string]any, []any:
			*notes = appendOnce(*notes, "extras_depth_truncated")
			return truncatedMarker
		}
	}

	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for _, k := range sortedKeys(v) {
			out[k] = walkDepthAt(v[k], depth+1, maxDepth, maxValueChars, notes)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = walkDepthAt(item, depth+1, maxDepth, maxValueChars, notes)
		}
		return out
	default:
		return truncateLeaf(value, maxValueChars, notes, "extras_value_truncated")
	}
}

func truncateLeaf(value any, maxValueChars int, notes *[]string, note string) any {
	s, ok := value.(string)
	if !ok || maxValueChars <= 0 {
		return value
	}
	runes := []rune(s)
	if len(runes) <= maxValueChars {
		return value
	}
	*notes = appendOnce(*notes, note)
	return string(runes[:maxValueChars]) + ellipsis
}

func appendOnce(notes []string, note string) []string {
	for _, n := range notes {
		if n == note {
			return notes
		}
	}
	return append(notes, note)
}

func jsonSize(v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

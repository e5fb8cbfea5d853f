// Package dump renders ring-buffer snapshots into shareable artefacts:
// templated text, canonical JSON, or HTML. It is grounded on the original
// DumpAdapter (original_source/.../adapters/dump.py), generalised to
// spec.md §4.11's larger placeholder set, format presets, theme precedence
// chain, and context/extra predicate filters.
package dump

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logcoreerr"
	"github.com/ssw-oss/logcore/pkg/logevent"
)

// Format selects the rendering mode.
type Format int

const (
	Text Format = iota
	JSON
	HTMLTable
	HTMLStyled
)

// Presets resolve to literal text templates (spec.md §4.11).
var Presets = map[string]string{
	"full":      "{timestamp} {LEVEL:<8} {logger_name} {event_id} {message}",
	"short":     "{hh}:{mm}:{ss} {level_code} {message}",
	"full_loc":  "{timestamp} {LEVEL:<8} {logger_name}[{process_id}] {event_id} {message}",
	"short_loc": "{hh}:{mm}:{ss} {level_code} {logger_name}[{process_id}] {message}",
}

// ansiByLevel is the built-in default palette, consulted last in the style
// lookup order.
var ansiByLevel = map[levels.Severity]string{
	levels.Debug:    "\x1b[36m",
	levels.Info:     "\x1b[32m",
	levels.Warning:  "\x1b[33m",
	levels.Error:    "\x1b[31m",
	levels.Critical: "\x1b[35m",
}

const ansiReset = "\x1b[0m"

// Predicate is a single context/extra filter term. Field names the
// top-level key to inspect (in context or extra, Field selects which);
// Mode selects the comparison.
type Predicate struct {
	Field         string
	Value         string
	Mode          PredicateMode
	CaseSensitive bool
}

// PredicateMode enumerates the comparison kinds spec.md §4.11 requires.
type PredicateMode int

const (
	Exact PredicateMode = iota
	Substring
	Regex // requires explicit opt-in; callers must not default to Regex
)

// Options configures a single Render call.
type Options struct {
	Format         Format
	MinLevel       levels.Severity
	HasMinLevel    bool
	Preset         string
	Template       string
	Theme          map[levels.Severity]string
	Colorize       bool
	ContextFilters []Predicate
	ExtraFilters   []Predicate
}

// Render formats events according to opts, applying filters first.
func Render(events []logevent.Event, opts Options) (string, error) {
	filtered := filterEvents(events, opts)

	switch opts.Format {
	case Text:
		return renderText(filtered, opts)
	case JSON:
		return renderJSON(filtered)
	case HTMLTable:
		return renderHTMLTable(filtered), nil
	case HTMLStyled:
		return renderHTMLStyled(filtered, opts)
	default:
		return "", logcoreerr.InvalidConfiguration("dump", "render", "unsupported dump format")
	}
}

func filterEvents(events []logevent.Event, opts Options) []logevent.Event {
	out := make([]logevent.Event, 0, len(events))
	for _, event := range events {
		if opts.HasMinLevel && event.Level < opts.MinLevel {
			continue
		}
		if !matchesAll(opts.ContextFilters, event.Context.ToMap()) {
			continue
		}
		if !matchesAll(opts.ExtraFilters, event.Extra) {
			continue
		}
		out = append(out, event)
	}
	return out
}

func matchesAll(predicates []Predicate, data map[string]any) bool {
	for _, p := range predicates {
		if !matches(p, data) {
			return false
		}
	}
	return true
}

func matches(p Predicate, data map[string]any) bool {
	raw, ok := data[p.Field]
	if !ok {
		return false
	}
	value := fmt.Sprint(raw)

	switch p.Mode {
	case Exact:
		if p.CaseSensitive {
			return value == p.Value
		}
		return strings.EqualFold(value, p.Value)
	case Substring:
		if p.CaseSensitive {
			return strings.Contains(value, p.Value)
		}
		return strings.Contains(strings.ToLower(value), strings.ToLower(p.Value))
	case Regex:
		re, err := regexp.Compile(p.Value)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	default:
		return false
	}
}

// placeholderPattern matches the minimum placeholder set from spec.md
// §4.11 plus a trailing optional format-spec ("{level:<8}") which Go's
// fmt can honour once we route the value through fmt.Sprintf's %v with a
// width. Width/alignment are approximated with strings padding below.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_]+)(?::([<>^]?)(\d+))?\}`)

func resolveTemplate(opts Options) (string, error) {
	if opts.Template != "" {
		return opts.Template, nil
	}
	if opts.Preset != "" {
		tmpl, ok := Presets[opts.Preset]
		if !ok {
			return "", logcoreerr.InvalidTemplate("dump", "render", "unknown dump format preset: "+opts.Preset)
		}
		return tmpl, nil
	}
	return "{timestamp} {LEVEL:<8} {logger_name} {event_id} {message}", nil
}

func renderText(events []logevent.Event, opts Options) (string, error) {
	if len(events) == 0 {
		return "", nil
	}
	tmpl, err := resolveTemplate(opts)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(events))
	for _, event := range events {
		line, err := formatLine(tmpl, event)
		if err != nil {
			return "", err
		}
		if opts.Colorize {
			line = colorize(line, event.Level, opts.Theme)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func formatLine(tmpl string, event logevent.Event) (string, error) {
	var rejected error
	result := placeholderPattern.ReplaceAllStringFunc(tmpl, func(token string) string {
		groups := placeholderPattern.FindStringSubmatch(token)
		name, align, widthRaw := groups[1], groups[2], groups[3]
		value, ok := placeholderValue(name, event)
		if !ok {
			rejected = logcoreerr.InvalidTemplate("dump", "render", "unknown placeholder: "+name)
			return token
		}
		if widthRaw == "" {
			return value
		}
		width, _ := strconv.Atoi(widthRaw)
		return pad(value, width, align)
	})
	if rejected != nil {
		return "", rejected
	}
	return result, nil
}

func pad(value string, width int, align string) string {
	if len(value) >= width {
		return value
	}
	gap := strings.Repeat(" ", width-len(value))
	if align == ">" {
		return gap + value
	}
	return value + gap
}

func placeholderValue(name string, event logevent.Event) (string, bool) {
	ctx := event.Context
	switch name {
	case "timestamp":
		return event.Timestamp.Format("2006-01-02T15:04:05.000000Z07:00"), true
	case "YYYY":
		return event.Timestamp.Format("2006"), true
	case "MM":
		return event.Timestamp.Format("01"), true
	case "DD":
		return event.Timestamp.Format("02"), true
	case "hh":
		return event.Timestamp.Format("15"), true
	case "mm":
		return event.Timestamp.Format("04"), true
	case "ss":
		return event.Timestamp.Format("05"), true
	case "level":
		return event.Level.Name(), true
	case "LEVEL":
		return strings.ToUpper(event.Level.Name()), true
	case "level_code":
		return event.Level.Code(), true
	case "level_icon":
		return event.Level.Icon(), true
	case "logger_name":
		return event.LoggerName, true
	case "event_id":
		return event.EventID, true
	case "message":
		return event.Message, true
	case "context":
		return fmt.Sprint(ctx.ToMap()), true
	case "extra":
		return fmt.Sprint(event.Extra), true
	case "context_fields":
		return formatContextFields(ctx.ToMap()), true
	case "service":
		return ctx.Service, true
	case "environment":
		return ctx.Environment, true
	case "job_id":
		return ctx.JobID, true
	case "request_id":
		return ctx.RequestID, true
	case "user_id":
		return ctx.UserID, true
	case "trace_id":
		return ctx.TraceID, true
	case "span_id":
		return ctx.SpanID, true
	case "user_name":
		return ctx.UserName, true
	case "hostname":
		return ctx.Hostname, true
	case "process_id":
		return strconv.Itoa(ctx.ProcessID), true
	case "process_id_chain":
		return chainString(ctx.ProcessIDChain), true
	default:
		return "", false
	}
}

func chainString(chain []int) string {
	parts := make([]string, len(chain))
	for i, pid := range chain {
		parts[i] = strconv.Itoa(pid)
	}
	return strings.Join(parts, ">")
}

func formatContextFields(ctx map[string]any) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		if k == "extra" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ctx[k]))
	}
	return strings.Join(parts, " ")
}

// colorize applies the style lookup order from spec.md §4.11:
// explicit-per-level theme entry -> runtime/default theme -> built-in
// palette. "Event-local theme hint" would be a per-event style override;
// this runtime carries no such field on Event, so that tier is a no-op.
func colorize(line string, level levels.Severity, theme map[levels.Severity]string) string {
	if colour, ok := theme[level]; ok && colour != "" {
		return colour + line + ansiReset
	}
	if colour, ok := ansiByLevel[level]; ok {
		return colour + line + ansiReset
	}
	return line
}

func renderJSON(events []logevent.Event) (string, error) {
	payload := make([]map[string]any, len(events))
	for i, event := range events {
		payload[i] = event.ToMap()
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func renderHTMLTable(events []logevent.Event) string {
	var rows strings.Builder
	for _, event := range events {
		ctx := event.Context
		rows.WriteString("<tr>")
		rows.WriteString("<td>" + html.EscapeString(event.Timestamp.Format("2006-01-02T15:04:05Z07:00")) + "</td>")
		rows.WriteString("<td>" + html.EscapeString(strings.ToUpper(event.Level.Name())) + "</td>")
		rows.WriteString("<td>" + html.EscapeString(event.LoggerName) + "</td>")
		rows.WriteString("<td>" + html.EscapeString(event.Message) + "</td>")
		rows.WriteString("<td>" + html.EscapeString(ctx.UserName) + "</td>")
		rows.WriteString("<td>" + html.EscapeString(ctx.Hostname) + "</td>")
		rows.WriteString("<td>" + html.EscapeString(strconv.Itoa(ctx.ProcessID)) + "</td>")
		rows.WriteString("<td>" + html.EscapeString(chainString(ctx.ProcessIDChain)) + "</td>")
		rows.WriteString("</tr>")
	}
	return "<html><head><title>logcore dump</title></head><body>" +
		"<table><thead><tr><th>Timestamp</th><th>Level</th><th>Logger</th><th>Message</th>" +
		"<th>User</th><th>Hostname</th><th>PID</th><th>PID Chain</th></tr></thead>" +
		"<tbody>" + rows.String() + "</tbody></table></body></html>"
}

func renderHTMLStyled(events []logevent.Event, opts Options) (string, error) {
	opts.Colorize = false // ANSI makes no sense in HTML; styling is per-line CSS below
	tmpl, err := resolveTemplate(opts)
	if err != nil {
		return "", err
	}
	var lines strings.Builder
	for _, event := range events {
		text, err := formatLine(tmpl, event)
		if err != nil {
			return "", err
		}
		css := cssClass(event.Level)
		lines.WriteString(fmt.Sprintf(`<div class="%s">%s</div>`, css, html.EscapeString(text)))
	}
	return "<html><head><title>logcore dump</title><style>" +
		".lvl-debug{color:#06c} .lvl-info{color:#0a0} .lvl-warning{color:#b80} " +
		".lvl-error{color:#c00} .lvl-critical{color:#909}" +
		"</style></head><body>" + lines.String() + "</body></html>", nil
}

func cssClass(level levels.Severity) string {
	return "lvl-" + level.Name()
}

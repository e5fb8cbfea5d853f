// Package levels defines the severity enum shared across the logging
// runtime: ordering, numeric/syslog mapping, and the short code/icon
// metadata the dump renderer and structured sinks need.
package levels

import (
	"fmt"
	"strconv"
	"strings"
)

// Severity is an ordered log level. Larger values are more severe; ordering
// is used directly for threshold comparisons ("sink emits when event >= T").
type Severity int

const (
	Debug    Severity = 10
	Info     Severity = 20
	Warning  Severity = 30
	Error    Severity = 40
	Critical Severity = 50
)

// All lists every severity in ascending order.
var All = []Severity{Debug, Info, Warning, Error, Critical}

var names = map[Severity]string{
	Debug:    "debug",
	Info:     "info",
	Warning:  "warning",
	Error:    "error",
	Critical: "critical",
}

var codes = map[Severity]string{
	Debug:    "DEBG",
	Info:     "INFO",
	Warning:  "WARN",
	Error:    "ERRO",
	Critical: "CRIT",
}

var icons = map[Severity]string{
	Debug:    "\U0001F41B", // 🐛
	Info:     "ℹ",     // ℹ
	Warning:  "⚠",     // ⚠
	Error:    "✖",     // ✖
	Critical: "☠",     // ☠
}

// syslogPriority maps a Severity to its RFC 5424 numeric priority.
var syslogPriority = map[Severity]int{
	Debug:    7,
	Info:     6,
	Warning:  4,
	Error:    3,
	Critical: 2,
}

// Name returns the lowercase severity name, e.g. "warning".
func (s Severity) Name() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Code returns the fixed 4-character code, e.g. "WARN".
func (s Severity) Code() string {
	if c, ok := codes[s]; ok {
		return c
	}
	return "????"
}

// Icon returns the glyph used by colourised console output.
func (s Severity) Icon() string {
	if i, ok := icons[s]; ok {
		return i
	}
	return "?"
}

// Syslog returns the RFC 5424 numeric priority for this severity.
func (s Severity) Syslog() int {
	if p, ok := syslogPriority[s]; ok {
		return p
	}
	return 5
}

// Valid reports whether s is one of the five defined severities.
func (s Severity) Valid() bool {
	_, ok := names[s]
	return ok
}

func (s Severity) String() string { return s.Name() }

// Parse accepts a severity name (case-insensitive) or its numeric value and
// returns the matching Severity.
func Parse(value string) (Severity, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("levels: empty severity")
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		s := Severity(n)
		if s.Valid() {
			return s, nil
		}
		return 0, fmt.Errorf("levels: unsupported numeric severity %d", n)
	}
	upper := strings.ToUpper(trimmed)
	for _, s := range All {
		if strings.ToUpper(s.Name()) == upper {
			return s, nil
		}
	}
	return 0, fmt.Errorf("levels: unknown severity %q", value)
}

//go:build !windows

package sinks

import (
	"context"
	"fmt"

	"github.com/ssw-oss/logcore/pkg/logevent"
)

// EventLogSink is a no-op stand-in off Windows.
type EventLogSink struct{}

func NewEventLogSink(string) (*EventLogSink, error) {
	return &EventLogSink{}, nil
}

func (e *EventLogSink) Emit(_ context.Context, _ logevent.Event) error {
	return fmt.Errorf("event log sink: unsupported on this platform")
}

func (e *EventLogSink) Close() error { return nil }

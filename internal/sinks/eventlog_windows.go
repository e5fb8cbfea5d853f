//go:build windows

package sinks

import (
	"context"

	"golang.org/x/sys/windows/svc/eventlog"

	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logevent"
)

// EventLogSink forwards events to the Windows Event Log, the platform
// analogue of the journald sink, via golang.org/x/sys's eventlog binding —
// the only Windows-native logging transport in the example pack.
type EventLogSink struct {
	log *eventlog.Log
}

// NewEventLogSink opens (registering if necessary) a Windows Event Log
// source named source.
func NewEventLogSink(source string) (*EventLogSink, error) {
	// InstallAsEventCreate errors if the source already exists, which is the
	// common case in a long-lived deployment, so its error is ignored.
	_ = eventlog.InstallAsEventCreate(source, eventlog.Info|eventlog.Warning|eventlog.Error)

	l, err := eventlog.Open(source)
	if err != nil {
		return nil, err
	}
	return &EventLogSink{log: l}, nil
}

// Emit reports event at its mapped Windows event type, implementing
// internal/pipeline.Sink.
func (e *EventLogSink) Emit(_ context.Context, event logevent.Event) error {
	line := event.LoggerName + ": " + event.Message
	eventID := uint32(1)
	switch event.Level {
	case levels.Debug, levels.Info:
		return e.log.Info(eventID, line)
	case levels.Warning:
		return e.log.Warning(eventID, line)
	default:
		return e.log.Error(eventID, line)
	}
}

// Close releases the Event Log handle.
func (e *EventLogSink) Close() error {
	return e.log.Close()
}

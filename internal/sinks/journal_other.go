//go:build !linux

package sinks

import (
	"context"
	"fmt"

	"github.com/ssw-oss/logcore/pkg/logevent"
)

// JournalSink is a no-op stand-in on platforms without a native syslog/
// journald transport. The composition root should skip wiring it outside
// Linux rather than rely on this fallback for production delivery.
type JournalSink struct{}

func NewJournalSink(string) (*JournalSink, error) {
	return &JournalSink{}, nil
}

func (j *JournalSink) Emit(_ context.Context, _ logevent.Event) error {
	return fmt.Errorf("journal sink: unsupported on this platform")
}

func (j *JournalSink) Close() error { return nil }

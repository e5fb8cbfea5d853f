// Package ringbuffer implements the bounded FIFO retention of recent log
// events used for dumps and introspection. Capacity is enforced at
// construction; eviction is oldest-first; snapshots are copies.
package ringbuffer

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ssw-oss/logcore/pkg/logcoreerr"
	"github.com/ssw-oss/logcore/pkg/logevent"
)

// RingBuffer retains up to Capacity of the most recent events.
type RingBuffer struct {
	capacity       int
	checkpointPath string
	logger         *logrus.Logger

	mu     sync.Mutex
	events []logevent.Event
	head   int // index of the oldest element
	size   int
	dirty  bool
}

// Config configures a RingBuffer.
type Config struct {
	Capacity       int
	CheckpointPath string // optional; newline-delimited canonical JSON
}

// New constructs a RingBuffer, rehydrating from CheckpointPath if present.
// Capacity must be positive.
func New(cfg Config, logger *logrus.Logger) (*RingBuffer, error) {
	if cfg.Capacity <= 0 {
		return nil, logcoreerr.InvalidConfiguration("ringbuffer", "new", "capacity must be positive")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	rb := &RingBuffer{
		capacity:       cfg.Capacity,
		checkpointPath: cfg.CheckpointPath,
		logger:         logger,
		events:         make([]logevent.Event, cfg.Capacity),
	}
	if cfg.CheckpointPath != "" {
		rb.loadCheckpoint(cfg.CheckpointPath)
	}
	return rb, nil
}

// Capacity returns the configured buffer size.
func (rb *RingBuffer) Capacity() int { return rb.capacity }

// Append adds event, evicting the oldest entry if the buffer is full.
func (rb *RingBuffer) Append(event logevent.Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size < rb.capacity {
		idx := (rb.head + rb.size) % rb.capacity
		rb.events[idx] = event
		rb.size++
	} else {
		rb.events[rb.head] = event
		rb.head = (rb.head + 1) % rb.capacity
	}
	rb.dirty = true
}

// Len returns the number of events currently stored.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Snapshot returns a point-in-time copy, oldest to newest.
func (rb *RingBuffer) Snapshot() []logevent.Event {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make([]logevent.Event, rb.size)
	for i := 0; i < rb.size; i++ {
		out[i] = rb.events[(rb.head+i)%rb.capacity]
	}
	return out
}

// Clear removes all buffered events.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head, rb.size = 0, 0
	rb.dirty = true
}

// Flush persists the buffer to the checkpoint path if configured, then
// marks the buffer clean. spec.md leaves ring-buffer flush semantics as
// "preserve, not clear" — see DESIGN.md's Open Question resolution.
func (rb *RingBuffer) Flush() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.checkpointPath == "" || !rb.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(rb.checkpointPath), 0o755); err != nil {
		return logcoreerr.InvalidConfiguration("ringbuffer", "flush", err.Error())
	}
	f, err := os.Create(rb.checkpointPath)
	if err != nil {
		return logcoreerr.InvalidConfiguration("ringbuffer", "flush", err.Error())
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i := 0; i < rb.size; i++ {
		event := rb.events[(rb.head+i)%rb.capacity]
		line, err := event.ToJSON()
		if err != nil {
			rb.logger.WithError(err).Warn("ringbuffer: skipping unserialisable event during flush")
			continue
		}
		if _, err := w.WriteString(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	rb.dirty = false
	return nil
}

// loadCheckpoint hydrates the buffer from a newline-delimited JSON
// checkpoint, silently skipping malformed lines per spec.md §4.6.
func (rb *RingBuffer) loadCheckpoint(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			rb.logger.WithError(err).Debug("ringbuffer: skipping malformed checkpoint line")
			continue
		}
		event, err := logevent.FromMap(raw)
		if err != nil {
			rb.logger.WithError(err).Debug("ringbuffer: skipping invalid checkpoint event")
			continue
		}
		rb.Append(event)
	}
	rb.dirty = false
}

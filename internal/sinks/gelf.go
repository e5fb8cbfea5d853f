package sinks

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ssw-oss/logcore/pkg/logcoreerr"
	"github.com/ssw-oss/logcore/pkg/logevent"
)

// GelfTransport selects the wire transport for the Graylog Extended Log
// Format sink.
type GelfTransport int

const (
	GelfUDP GelfTransport = iota
	GelfTCP
	GelfTLS
)

// GelfConfig configures a GelfSink.
type GelfConfig struct {
	Address   string // host:port
	Transport GelfTransport
	TLS       TLSConfig
	Compress  bool // gzip-compress UDP payloads (ignored for TCP/TLS, which are NUL-framed)
	Timeout   time.Duration
}

// GelfSink emits events as GELF messages to a Graylog-compatible
// collector. TCP/TLS messages are NUL-terminated per the GELF spec, and a
// failed TCP/TLS write drops the connection so the next Emit redials;
// UDP datagrams are optionally gzip-compressed via klauspost/compress,
// matching the compression library the rest of the pack favours over
// compress/gzip.
type GelfSink struct {
	cfg  GelfConfig
	host string

	mu   sync.Mutex
	conn net.Conn
}

// NewGelfSink dials cfg.Address using the configured transport.
func NewGelfSink(cfg GelfConfig, hostname string) (*GelfSink, error) {
	if cfg.Address == "" {
		return nil, logcoreerr.InvalidConfiguration("gelf_sink", "new", "address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	sink := &GelfSink{cfg: cfg, host: hostname}
	if err := sink.connect(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (g *GelfSink) connect() error {
	var conn net.Conn
	var err error

	switch g.cfg.Transport {
	case GelfUDP:
		conn, err = net.DialTimeout("udp", g.cfg.Address, g.cfg.Timeout)
	case GelfTCP:
		conn, err = net.DialTimeout("tcp", g.cfg.Address, g.cfg.Timeout)
	case GelfTLS:
		var tlsConfig *tls.Config
		tlsConfig, err = createTLSConfig(g.cfg.TLS)
		if err != nil {
			return logcoreerr.InvalidConfiguration("gelf_sink", "connect", err.Error())
		}
		dialer := &net.Dialer{Timeout: g.cfg.Timeout}
		conn, err = tls.DialWithDialer(dialer, "tcp", g.cfg.Address, tlsConfig)
	default:
		return logcoreerr.InvalidConfiguration("gelf_sink", "connect", "unknown transport")
	}
	if err != nil {
		return fmt.Errorf("gelf sink: dial %s: %w", g.cfg.Address, err)
	}

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	return nil
}

// gelfMessage is the wire shape GELF 1.1 expects: reserved fields plus
// caller fields prefixed with "_".
type gelfMessage struct {
	Version      string  `json:"version"`
	Host         string  `json:"host"`
	ShortMessage string  `json:"short_message"`
	Timestamp    float64 `json:"timestamp"`
	Level        int     `json:"level"`
	Extra        map[string]any `json:"-"`
}

func (g *GelfSink) encode(event logevent.Event) ([]byte, error) {
	msg := gelfMessage{
		Version:      "1.1",
		Host:         g.host,
		ShortMessage: event.Message,
		Timestamp:    float64(event.Timestamp.UnixNano()) / 1e9,
		Level:        event.Level.Syslog(),
	}

	fields := map[string]any{
		"version":       msg.Version,
		"host":          msg.Host,
		"short_message": msg.ShortMessage,
		"timestamp":     msg.Timestamp,
		"level":         msg.Level,
		"_event_id":     event.EventID,
		"_logger_name":  event.LoggerName,
	}
	for k, v := range event.Context.ToMap() {
		if k == "extra" || isEmptyValue(v) {
			continue
		}
		fields["_"+k] = v
	}
	for k, v := range event.Extra {
		fields["_"+strings.ReplaceAll(k, " ", "_")] = v
	}

	return json.Marshal(fields)
}

// Emit sends event as a single GELF datagram/frame, implementing
// internal/pipeline.Sink.
func (g *GelfSink) Emit(ctx context.Context, event logevent.Event) error {
	payload, err := g.encode(event)
	if err != nil {
		return err
	}

	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		if err := g.connect(); err != nil {
			return err
		}
		g.mu.Lock()
		conn = g.conn
		g.mu.Unlock()
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.Timeout))
	}

	if g.cfg.Transport == GelfUDP && g.cfg.Compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		_, err = conn.Write(buf.Bytes())
		return err
	}

	if g.cfg.Transport != GelfUDP {
		// GELF TCP/TLS framing is NUL-terminated, not newline-delimited.
		payload = append(payload, 0)
	}
	_, err = conn.Write(payload)
	if err != nil && g.cfg.Transport != GelfUDP {
		g.mu.Lock()
		if g.conn == conn {
			_ = conn.Close()
			g.conn = nil
		}
		g.mu.Unlock()
	}
	return err
}

// Close releases the underlying connection.
func (g *GelfSink) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}

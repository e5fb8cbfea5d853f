package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logcontext"
	"github.com/ssw-oss/logcore/pkg/logevent"
)

func mustGelfEvent(t *testing.T) logevent.Event {
	t.Helper()
	frame := logcontext.Frame{Service: "svc", Environment: "prod", JobID: "job-1"}
	event, err := logevent.New("id-1", time.Now(), "logger.a", levels.Error, "disk failure", frame, map[string]any{"disk": "sda1"}, "")
	require.NoError(t, err)
	return event
}

func TestNewGelfSinkRequiresAddress(t *testing.T) {
	_, err := NewGelfSink(GelfConfig{}, "host")
	require.Error(t, err)
}

func TestGelfSinkUDPEmitsValidGELFPayload(t *testing.T) {
	udpAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", udpAddr)
	require.NoError(t, err)
	defer conn.Close()

	sink, err := NewGelfSink(GelfConfig{Address: conn.LocalAddr().String(), Transport: GelfUDP}, "test-host")
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Emit(context.Background(), mustGelfEvent(t)))

	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf[:n], &decoded))
	require.Equal(t, "1.1", decoded["version"])
	require.Equal(t, "test-host", decoded["host"])
	require.Equal(t, "disk failure", decoded["short_message"])
	require.Equal(t, "sda1", decoded["_disk"])
	require.Equal(t, "id-1", decoded["_event_id"])
}

func TestGelfSinkTCPFramesWithNUL(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		line, err := reader.ReadBytes(0)
		if err == nil {
			received <- line
		}
	}()

	sink, err := NewGelfSink(GelfConfig{Address: ln.Addr().String(), Transport: GelfTCP}, "test-host")
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Emit(context.Background(), mustGelfEvent(t)))

	select {
	case payload := <-received:
		require.Equal(t, byte(0), payload[len(payload)-1])
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload[:len(payload)-1], &decoded))
		require.Equal(t, "disk failure", decoded["short_message"])
	case <-time.After(2 * time.Second):
		t.Fatal("tcp server never received a frame")
	}
}

// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package control

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/carmisergio/lumize-dmx-engine-2/internal/lightstate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	engine := &Engine{
		Table:               lightstate.NewTable(8),
		FPS:                 50,
		DefaultTransitionMs: 1000,
		PBResetDelay:        10 * time.Second,
	}
	notify := make(chan struct{}, 1)
	s := New("127.0.0.1:0", engine, notify, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, s.listener.Addr().String()
}

func TestServerSendsWelcomeBanner(t *testing.T) {
	_, addr := startTestServer(t)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read banner: %v", err)
	}
	if line != WelcomeBanner {
		t.Errorf("banner = %q, want %q", line, WelcomeBanner)
	}
}

func TestServerHandlesStatusRequest(t *testing.T) {
	_, addr := startTestServer(t)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("read banner: %v", err)
	}

	if _, err := conn.Write([]byte("sreq\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if line[:5] != "sres," {
		t.Errorf("reply = %q, want prefix 'sres,'", line)
	}
}

func TestServerRejectsConnectionBeyondCap(t *testing.T) {
	_, addr := startTestServer(t)

	var conns []net.Conn
	for i := 0; i < MaxClients; i++ {
		c, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conns = append(conns, c)
		br := bufio.NewReader(c)
		if _, err := br.ReadString('\n'); err != nil {
			t.Fatalf("read banner %d: %v", i, err)
		}
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	extra, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		t.Fatalf("dial extra: %v", err)
	}
	defer extra.Close()

	extra.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = extra.Read(buf)
	if err == nil {
		t.Error("expected the over-cap connection to be closed without a welcome banner")
	}
}

func TestServerMutationSignalsNotify(t *testing.T) {
	engine := &Engine{
		Table:               lightstate.NewTable(8),
		FPS:                 50,
		DefaultTransitionMs: 1000,
		PBResetDelay:        10 * time.Second,
	}
	notify := make(chan struct{}, 1)
	s := New("127.0.0.1:0", engine, notify, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn, err := net.DialTimeout("tcp", s.listener.Addr().String(), dialTimeout)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("read banner: %v", err)
	}
	if _, err := conn.Write([]byte("on,0,b255,t0\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-notify:
	case <-time.After(time.Second):
		t.Fatal("expected a notify signal after a successful mutation")
	}
}

// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package dmxout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigureValidatesRange(t *testing.T) {
	if err := Configure(0); err == nil {
		t.Error("expected error for 0 channels")
	}
	if err := Configure(513); err == nil {
		t.Error("expected error for 513 channels")
	}
	if err := Configure(1); err != nil {
		t.Errorf("expected 1 channel to be valid, got %v", err)
	}
	if err := Configure(512); err != nil {
		t.Errorf("expected 512 channels to be valid, got %v", err)
	}
}

func TestSendFrameDroppedWhileDisconnected(t *testing.T) {
	fake := &fakeAdapter{}
	out := newWithAdapter(fake, 10, testLogger())

	out.SendFrame(make([]byte, 10))
	if fake.frameCount() != 0 {
		t.Errorf("expected no frames sent before connection manager connects, got %d", fake.frameCount())
	}
}

func TestConnectionManagerConnectsAndSends(t *testing.T) {
	fake := &fakeAdapter{}
	out := newWithAdapter(fake, 10, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := out.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer out.Stop()

	waitUntil(t, func() bool { return fake.openCalls >= 1 })

	out.SendFrame(make([]byte, 10))
	waitUntil(t, func() bool { return fake.frameCount() >= 1 })

	frame := fake.frames[0]
	if len(frame) != 11 {
		t.Fatalf("expected 11-byte frame (start code + 10 channels), got %d", len(frame))
	}
	if frame[0] != 0 {
		t.Errorf("expected start code 0, got %d", frame[0])
	}
}

func TestSendFrameFailureTriggersReprobe(t *testing.T) {
	fake := &fakeAdapter{}
	out := newWithAdapter(fake, 4, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := out.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer out.Stop()

	waitUntil(t, func() bool { return fake.openCalls >= 1 })

	fake.mu.Lock()
	fake.writeErr = errors.New("simulated i/o failure")
	fake.mu.Unlock()

	out.SendFrame(make([]byte, 4))

	waitUntil(t, func() bool {
		out.mu.Lock()
		defer out.mu.Unlock()
		return !out.canSend
	})

	fake.mu.Lock()
	fake.writeErr = nil
	fake.mu.Unlock()

	waitUntil(t, func() bool { return fake.openCalls >= 2 })
}

func TestStopIsIdempotent(t *testing.T) {
	fake := &fakeAdapter{}
	out := newWithAdapter(fake, 4, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := out.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	out.Stop()
	out.Stop()
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

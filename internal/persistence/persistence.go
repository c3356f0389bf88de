// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package persistence writes and reads the outward-state snapshot that
// survives process restarts.
package persistence

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/carmisergio/lumize-dmx-engine-2/internal/lightstate"
)

// FileVersion is the persistence file format tag. A file whose version
// doesn't match is rejected wholesale; defaults are kept.
const FileVersion = "2.0"

// Writer is the Persistence Writer component: one goroutine that wakes on
// a timer or on notification and snapshots outward state to Path.
type Writer struct {
	table    *lightstate.Table
	path     string
	interval time.Duration
	notify   chan struct{}
	logger   *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a Writer. notify is shared with the Control Server: every
// successful mutation sends on it to wake an immediate write, coalesced
// with at most one write in flight since this goroutine processes wakes
// sequentially.
func New(table *lightstate.Table, path string, interval time.Duration, notify chan struct{}, logger *slog.Logger) *Writer {
	return &Writer{
		table:    table,
		path:     path,
		interval: interval,
		notify:   notify,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start validates configuration and spawns the writer loop. An error here
// maps to exit code 4.
func (w *Writer) Start() error {
	if w.path == "" {
		return fmt.Errorf("persistence: empty file path")
	}
	if w.interval <= 0 {
		return fmt.Errorf("persistence: write interval must be > 0")
	}
	w.startOnce.Do(func() {
		go w.loop()
	})
	return nil
}

// Stop signals the loop to exit and waits for it to finish.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
}

func (w *Writer) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.writeOnce()
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		case <-w.notify:
			w.drainNotify()
		}
	}
}

// drainNotify consumes any further pending wakes so a burst of control
// server mutations results in one write, not one per command.
func (w *Writer) drainNotify() {
	for {
		select {
		case <-w.notify:
		default:
			return
		}
	}
}

func (w *Writer) writeOnce() {
	snap := w.table.Snapshot()
	data := format(snap)
	if err := os.WriteFile(w.path, []byte(data), 0644); err != nil {
		w.logger.Warn("persistence: write failed, will retry next cycle", "path", w.path, "err", err)
	}
}

func format(states [lightstate.NumChannels]struct {
	On         bool
	Brightness uint8
}) string {
	var b strings.Builder
	b.WriteString(FileVersion)
	for _, s := range states {
		on := 0
		if s.On {
			on = 1
		}
		fmt.Fprintf(&b, ",%d-%d", on, s.Brightness)
	}
	return b.String()
}

// Read loads persisted outward state from path and applies it to table.
// Called once at startup, before the Renderer starts, per §5. A missing
// or unparsable file is non-fatal: it logs at WARN and leaves the table
// at its power-on defaults.
func Read(table *lightstate.Table, path string, logger *slog.Logger) {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("persistence: unreadable at startup, continuing with defaults", "path", path, "err", err)
		return
	}

	states, err := parse(strings.TrimSpace(string(raw)), logger)
	if err != nil {
		logger.Warn("persistence: rejecting file", "path", path, "err", err)
		return
	}

	table.Restore(states)
}

func parse(line string, logger *slog.Logger) ([lightstate.NumChannels]struct {
	On         bool
	Brightness uint8
}, error) {
	var out [lightstate.NumChannels]struct {
		On         bool
		Brightness uint8
	}

	fields := strings.Split(line, ",")
	if len(fields) == 0 || fields[0] != FileVersion {
		return out, fmt.Errorf("persistence: version mismatch, want %q", FileVersion)
	}
	fields = fields[1:]
	if len(fields) != lightstate.NumChannels {
		return out, fmt.Errorf("persistence: expected %d channel entries, got %d", lightstate.NumChannels, len(fields))
	}

	for i, f := range fields {
		s, b, ok := parseChannelEntry(f)
		if !ok {
			logger.Warn("persistence: malformed channel entry, using default", "channel", i, "entry", f)
			out[i] = struct {
				On         bool
				Brightness uint8
			}{On: false, Brightness: 255}
			continue
		}
		out[i] = struct {
			On         bool
			Brightness uint8
		}{On: s, Brightness: b}
	}
	return out, nil
}

// parseChannelEntry parses a single "<s>-<b>" field. The reference
// engine accepts brightness values up to 511 here, a bug this engine
// fixes by bounding to [0, 255] per the documented correction.
func parseChannelEntry(f string) (on bool, brightness uint8, ok bool) {
	parts := strings.SplitN(f, "-", 2)
	if len(parts) != 2 {
		return false, 0, false
	}
	s, err := strconv.Atoi(parts[0])
	if err != nil || (s != 0 && s != 1) {
		return false, 0, false
	}
	b, err := strconv.Atoi(parts[1])
	if err != nil || b < 0 || b > 255 {
		return false, 0, false
	}
	return s == 1, uint8(b), true
}

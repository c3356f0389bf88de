// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package modbus

import (
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tbrandon/mbserver"

	"github.com/carmisergio/lumize-dmx-engine-2/internal/control"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/lightstate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFrame is a minimal mbserver.Framer for exercising function handlers
// directly, without a real TCP connection.
type fakeFrame struct{ data []byte }

func (f fakeFrame) Bytes() []byte                      { return f.data }
func (f fakeFrame) Copy() mbserver.Framer               { return f }
func (f fakeFrame) GetData() []byte                     { return f.data }
func (f fakeFrame) SetData(d []byte)                    {}
func (f fakeFrame) GetFunction() uint8                  { return 0 }
func (f fakeFrame) SetException(e *mbserver.Exception)  {}

type fakeEnabler struct{ enabled bool }

func (f *fakeEnabler) SetEnabled(v bool) { f.enabled = v }
func (f *fakeEnabler) IsEnabled() bool   { return f.enabled }

func newTestEngine() *control.Engine {
	return &control.Engine{
		Table:               lightstate.NewTable(8),
		FPS:                 100,
		DefaultTransitionMs: 0,
		PBResetDelay:        10 * time.Second,
	}
}

func regReadData(start, qty uint16) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], start)
	binary.BigEndian.PutUint16(data[2:4], qty)
	return data
}

func TestWriteSingleRegisterTurnsChannelOn(t *testing.T) {
	engine := newTestEngine()
	s := NewServer(&Config{}, engine, testLogger())

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], 3)
	binary.BigEndian.PutUint16(data[2:4], 200)

	resp, exc := s.handleWriteSingleRegister(nil, fakeFrame{data})
	if exc != &mbserver.Success {
		t.Fatalf("unexpected exception: %v", exc)
	}
	if len(resp) != 4 {
		t.Fatalf("expected 4-byte echo, got %d", len(resp))
	}

	ch := &engine.Table.Channels[3]
	if !ch.OutwardOn || ch.OutwardBrightness != 200 {
		t.Fatalf("channel not set: %+v", ch)
	}
}

func TestWriteSingleRegisterZeroTurnsChannelOff(t *testing.T) {
	engine := newTestEngine()
	engine.Table.Channels[5].OutwardOn = true
	engine.Table.Channels[5].OutwardBrightness = 100
	s := NewServer(&Config{}, engine, testLogger())

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], 5)
	binary.BigEndian.PutUint16(data[2:4], 0)

	if _, exc := s.handleWriteSingleRegister(nil, fakeFrame{data}); exc != &mbserver.Success {
		t.Fatalf("unexpected exception: %v", exc)
	}

	ch := &engine.Table.Channels[5]
	if ch.OutwardOn {
		t.Fatalf("expected channel off, got %+v", ch)
	}
	if ch.OutwardBrightness != 100 {
		t.Errorf("expected brightness preserved at 100, got %d", ch.OutwardBrightness)
	}
}

func TestReadHoldingRegistersReflectsState(t *testing.T) {
	engine := newTestEngine()
	engine.Table.Channels[0].OutwardOn = true
	engine.Table.Channels[0].OutwardBrightness = 128
	s := NewServer(&Config{}, engine, testLogger())

	resp, exc := s.handleReadHoldingRegisters(nil, fakeFrame{regReadData(0, 1)})
	if exc != &mbserver.Success {
		t.Fatalf("unexpected exception: %v", exc)
	}
	if len(resp) != 3 {
		t.Fatalf("expected byte-count + 1 register, got %d bytes", len(resp))
	}
	val := binary.BigEndian.Uint16(resp[1:3])
	if val != 128 {
		t.Errorf("value = %d, want 128", val)
	}
}

func TestReadHoldingRegistersOffChannelReadsZero(t *testing.T) {
	engine := newTestEngine()
	engine.Table.Channels[0].OutwardOn = false
	engine.Table.Channels[0].OutwardBrightness = 200
	s := NewServer(&Config{}, engine, testLogger())

	resp, _ := s.handleReadHoldingRegisters(nil, fakeFrame{regReadData(0, 1)})
	val := binary.BigEndian.Uint16(resp[1:3])
	if val != 0 {
		t.Errorf("expected 0 for off channel, got %d", val)
	}
}

func TestWriteSingleCoilBlackoutTurnsOffAllChannels(t *testing.T) {
	engine := newTestEngine()
	for c := 0; c < engine.Table.ActiveChannels; c++ {
		engine.Table.Channels[c].OutwardOn = true
		engine.Table.Channels[c].OutwardBrightness = 255
	}
	s := NewServer(&Config{}, engine, testLogger())

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], 1)
	binary.BigEndian.PutUint16(data[2:4], 0xFF00)

	if _, exc := s.handleWriteSingleCoil(nil, fakeFrame{data}); exc != &mbserver.Success {
		t.Fatalf("unexpected exception: %v", exc)
	}

	for c := 0; c < engine.Table.ActiveChannels; c++ {
		if engine.Table.Channels[c].OutwardOn {
			t.Fatalf("channel %d still on after blackout", c)
		}
	}
}

func TestWriteSingleCoilEnableDisableDelegatesToEnabler(t *testing.T) {
	engine := newTestEngine()
	enabler := &fakeEnabler{enabled: true}
	engine.Enabler = enabler
	s := NewServer(&Config{}, engine, testLogger())

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], 0)
	binary.BigEndian.PutUint16(data[2:4], 0) // write false

	if _, exc := s.handleWriteSingleCoil(nil, fakeFrame{data}); exc != &mbserver.Success {
		t.Fatalf("unexpected exception: %v", exc)
	}
	if enabler.enabled {
		t.Fatalf("expected enabler disabled")
	}

	resp, _ := s.handleReadCoils(nil, fakeFrame{regReadData(0, 1)})
	if resp[1]&0x01 != 0 {
		t.Errorf("expected coil 0 to read back disabled")
	}
}

func TestReadHoldingRegistersOutOfRangeRejected(t *testing.T) {
	engine := newTestEngine()
	engine.Table.ActiveChannels = lightstate.NumChannels
	s := NewServer(&Config{}, engine, testLogger())

	_, exc := s.handleReadHoldingRegisters(nil, fakeFrame{regReadData(510, 10)})
	if exc != &mbserver.IllegalDataAddress {
		t.Fatalf("expected IllegalDataAddress, got %v", exc)
	}
}

// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package dmxout owns the USB/serial adapter that carries the DMX-512
// universe to the physical fixture. It is the only component that touches
// the adapter; everyone else hands it frames and never waits for it to
// connect.
package dmxout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FrameSize is the DMX start code plus the full 512-channel universe.
const FrameSize = 1 + 512

// VendorID and ProductID identify the FTDI-style adapter this engine
// targets (e.g. an FT232R breakout wired for DMX-512).
const (
	VendorID  = 0x0403
	ProductID = 0x6001
)

const probeInterval = 2 * time.Second

// adapter abstracts the raw serial operations the connection manager needs,
// so tests can exercise the state machine without a physical device.
type adapter interface {
	// Open configures the line for 250000 baud 8N2 and returns an error if
	// the device cannot be opened or configured.
	Open() error
	// Probe reports whether a previously opened device is still present.
	Probe() error
	// WriteFrame drives BREAK/MAB and writes the frame, start code first.
	WriteFrame(frame []byte) error
	// Close releases the device, if open.
	Close() error
}

// Output is the DMX Output component. It owns the connection-manager
// goroutine and exposes SendFrame for the Renderer, which drops frames
// instead of waiting while the adapter is disconnected.
type Output struct {
	logger *slog.Logger
	dev    adapter

	activeChannels int

	mu       sync.Mutex
	canSend  bool
	enabled  bool
	frameBuf [FrameSize]byte

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New returns an Output bound to the adapter at devicePath. activeChannels
// must already be validated to [1, 512].
func New(devicePath string, activeChannels int, logger *slog.Logger) *Output {
	return newWithAdapter(newSerialAdapter(devicePath), activeChannels, logger)
}

func newWithAdapter(dev adapter, activeChannels int, logger *slog.Logger) *Output {
	return &Output{
		logger:         logger,
		dev:            dev,
		activeChannels: activeChannels,
		enabled:        true,
		wake:           make(chan struct{}, 1),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// SetEnabled gates frame transmission without tearing down the adapter
// connection: a disabled Output keeps probing/reconnecting exactly as
// before, it simply stops writing frames, so re-enabling is instant.
// Driven by the Modbus bridge's enable/disable coil.
func (o *Output) SetEnabled(v bool) {
	o.mu.Lock()
	o.enabled = v
	o.mu.Unlock()
}

// IsEnabled reports the current enable state.
func (o *Output) IsEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled
}

// Configure validates a count of channels to transmit on the wire against
// [1, 512]. It does not change any Output; Start calls it on the count
// given to New.
func Configure(activeChannels int) error {
	if activeChannels < 1 || activeChannels > 512 {
		return fmt.Errorf("dmxout: active_channels %d out of range [1, 512]", activeChannels)
	}
	return nil
}

// Start spawns the connection-manager goroutine and returns once it is
// live, not once the adapter is connected: the manager probes and
// reconnects independently for the life of the process.
func (o *Output) Start(ctx context.Context) error {
	if err := Configure(o.activeChannels); err != nil {
		return err
	}
	o.startOnce.Do(func() {
		// First connection attempt right away rather than one probeInterval later.
		select {
		case o.wake <- struct{}{}:
		default:
		}
		go o.manage(ctx)
	})
	return nil
}

// Stop signals the connection manager to exit, waits for it, and closes
// the device. Idempotent.
func (o *Output) Stop() {
	o.stopOnce.Do(func() {
		close(o.stop)
		<-o.done
	})
}

// SendFrame transmits one DMX frame if the adapter is believed connected.
// On any I/O failure it marks the adapter unreachable, wakes the
// connection manager to re-probe immediately, and drops the frame.
func (o *Output) SendFrame(channels []byte) {
	o.mu.Lock()
	canSend := o.canSend && o.enabled
	o.mu.Unlock()
	if !canSend {
		return
	}

	o.frameBuf[0] = 0 // start code
	copy(o.frameBuf[1:], channels)
	frame := o.frameBuf[:1+len(channels)]

	if err := o.dev.WriteFrame(frame); err != nil {
		o.logger.Warn("dmxout: frame send failed, marking disconnected", "err", err)
		o.mu.Lock()
		o.canSend = false
		o.mu.Unlock()
		select {
		case o.wake <- struct{}{}:
		default:
		}
	}
}

func (o *Output) manage(ctx context.Context) {
	defer close(o.done)
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	connected := false
	for {
		select {
		case <-o.stop:
			if connected {
				_ = o.dev.Close()
			}
			return
		case <-ctx.Done():
			if connected {
				_ = o.dev.Close()
			}
			return
		case <-ticker.C:
		case <-o.wake:
		}

		if connected {
			o.mu.Lock()
			sendFailed := !o.canSend
			o.mu.Unlock()
			if !sendFailed {
				if err := o.dev.Probe(); err != nil {
					o.logger.Warn("dmxout: adapter lost", "err", err)
					o.setCanSend(false)
					_ = o.dev.Close()
					connected = false
				}
				continue
			}
			// A failed SendFrame already cleared canSend: reopen now.
			_ = o.dev.Close()
			connected = false
		}

		if err := o.dev.Open(); err != nil {
			continue
		}
		connected = true
		o.setCanSend(true)
		o.logger.Info("dmxout: adapter ready")
	}
}

func (o *Output) setCanSend(v bool) {
	o.mu.Lock()
	o.canSend = v
	o.mu.Unlock()
}

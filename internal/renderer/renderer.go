// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package renderer runs the fixed-rate loop that advances every channel's
// fade and push-button ramp, maps through brightness limits, and hands the
// resulting frame to DMX Output.
package renderer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/carmisergio/lumize-dmx-engine-2/internal/dmxout"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/lightstate"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/metrics"
)

const lockTimeout = 5 * time.Millisecond

// Config holds the configuration-derived parameters the per-frame
// computation needs. FPS, PBFadeDelta and PBFadePauseMs come straight from
// the configuration file's fps / pushbutton_fade_delta /
// pushbutton_fade_pause keys.
type Config struct {
	FPS          int
	PBFadeDelta  int // units/second
	PBFadePauseMs int
}

// Renderer is the fixed-rate rendering loop. It owns the DMX Output
// component it writes frames to, starting and stopping it as part of its
// own lifecycle, mirroring the reference engine's light renderer owning
// its DMX sender.
type Renderer struct {
	table  *lightstate.Table
	out    *dmxout.Output
	cfg    Config
	logger *slog.Logger

	period time.Duration

	frameMu sync.Mutex
	frame   []byte

	framesRendered uint64
	framesHeld     uint64

	running   chan struct{}
	stopped   chan struct{}
	loopDone  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a Renderer. cfg.FPS must already be validated to [10, 200].
func New(table *lightstate.Table, out *dmxout.Output, cfg Config, logger *slog.Logger) *Renderer {
	return &Renderer{
		table:   table,
		out:     out,
		cfg:     cfg,
		logger:  logger,
		period:  time.Second / time.Duration(cfg.FPS),
		frame:   make([]byte, table.ActiveChannels),
		running: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start validates configuration, starts the owned DMX Output, and spawns
// the rendering loop. It returns an error (mapped by main to exit code 2)
// if the frame rate is out of range.
func (r *Renderer) Start(ctx context.Context) error {
	if r.cfg.FPS < 10 || r.cfg.FPS > 200 {
		return fmt.Errorf("renderer: fps %d out of range [10, 200]", r.cfg.FPS)
	}
	if err := r.out.Start(ctx); err != nil {
		return fmt.Errorf("renderer: starting dmx output: %w", err)
	}
	metrics.FPS.Set(float64(r.cfg.FPS))
	r.startOnce.Do(func() {
		close(r.running)
		r.loopDone = make(chan struct{})
		go r.loop()
	})
	return nil
}

// Stop ends the rendering loop after its current frame, joins it, then
// stops the owned DMX Output, matching the termination order in §4.3.
func (r *Renderer) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopped)
	})
	select {
	case <-r.running:
		<-r.loopDone
	default:
	}
	r.out.Stop()
}

// Stats reports rendering counters for health/telemetry endpoints.
func (r *Renderer) Stats() (rendered, held uint64, fps int) {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()
	return r.framesRendered, r.framesHeld, r.cfg.FPS
}

func (r *Renderer) loop() {
	defer close(r.loopDone)
	for {
		select {
		case <-r.stopped:
			return
		default:
		}

		t0 := time.Now()
		r.renderFrame()
		r.out.SendFrame(r.currentFrame())

		elapsed := time.Since(t0)
		wait := r.period - elapsed
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-r.stopped:
				return
			}
		}
	}
}

func (r *Renderer) currentFrame() []byte {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()
	cp := make([]byte, len(r.frame))
	copy(cp, r.frame)
	return cp
}

// renderFrame acquires the table lock with a bounded timeout and, on
// success, advances every channel and recomputes the outgoing frame. On
// timeout, it reuses the previously computed frame: rendering never
// stalls on lock contention.
func (r *Renderer) renderFrame() {
	if !r.table.TryLockTimeout(lockTimeout) {
		r.frameMu.Lock()
		r.framesHeld++
		r.frameMu.Unlock()
		metrics.RecordFrame(true)
		return
	}
	defer r.table.Unlock()

	active := r.table.ActiveChannels
	pbDeltaPerFrame := float64(r.cfg.PBFadeDelta) / float64(r.cfg.FPS)
	pbPauseFrames := uint32(r.cfg.PBFadePauseMs * r.cfg.FPS / 1000)

	r.frameMu.Lock()
	if len(r.frame) != active {
		r.frame = make([]byte, active)
	}
	defer r.frameMu.Unlock()
	r.framesRendered++

	for c := 0; c < active; c++ {
		ch := &r.table.Channels[c]
		v := advanceFade(ch)
		if ch.PBFadeActive {
			v = advancePBRamp(ch, pbDeltaPerFrame, pbPauseFrames)
		}
		r.frame[c] = mapBrightness(v, ch.Limit)
		metrics.SetChannelValue(c, r.frame[c])
	}
	metrics.RecordFrame(false)
}

// advanceFade progresses a channel's scheduled fade by one frame and
// returns the rendered level to use as the default output value.
func advanceFade(ch *lightstate.Channel) float64 {
	if ch.FadeDelta == 0 {
		return ch.FadeCurrent
	}
	ch.FadeProgress += ch.FadeDelta
	if ch.FadeProgress > 1 {
		ch.FadeDelta = 0
		ch.FadeProgress = 0
		ch.FadeCurrent = ch.FadeEnd
		return ch.FadeCurrent
	}
	ch.FadeCurrent = (ch.FadeEnd-ch.FadeStart)*ease(ch.FadeProgress) + ch.FadeStart
	return ch.FadeCurrent
}

// ease is the sine-based in-out easing curve, domain and range [0, 1].
func ease(t float64) float64 {
	return 0.5 * (1 + math.Sin(math.Pi*(t-0.5)))
}

// advancePBRamp progresses an engaged push-button ramp by one frame and
// returns the value that should override the fade for this frame's
// output. The ramp pauses at the upper bound before inverting; at the
// lower bound it inverts immediately, faithful to the reference engine.
func advancePBRamp(ch *lightstate.Channel, deltaPerFrame float64, pauseFrames uint32) float64 {
	if ch.PBFadeUp {
		ch.PBFadeCurrent += deltaPerFrame
	} else {
		ch.PBFadeCurrent -= deltaPerFrame
	}

	if ch.PBFadeCurrent >= 255 {
		ch.PBFadeCurrent = 255
		ch.PBPauseCounter++
		if ch.PBPauseCounter >= pauseFrames {
			ch.PBFadeUp = false
			ch.PBPauseCounter = 0
		}
	} else if ch.PBFadeCurrent <= 0 {
		ch.PBFadeCurrent = 0
		ch.PBFadeUp = true
		ch.PBPauseCounter = 0
	}

	return ch.PBFadeCurrent
}

// mapBrightness applies the per-channel post-render linear remap.
func mapBrightness(v float64, limit lightstate.BrightnessLimit) byte {
	if v < 1 {
		return 0
	}
	if v > 254 {
		return limit.Max
	}
	out := v*(float64(limit.Max)-float64(limit.Min))/255 + float64(limit.Min)
	return byte(out)
}

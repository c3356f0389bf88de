// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package control

import (
	"fmt"
	"strings"
	"time"

	"github.com/carmisergio/lumize-dmx-engine-2/internal/lightstate"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/metrics"
)

// Enabler gates DMX frame transmission without touching the table, used
// by the Modbus bridge's enable/disable coil (internal/dmxout.Output
// implements this).
type Enabler interface {
	SetEnabled(bool)
	IsEnabled() bool
}

// Engine bundles the parameters commands.go needs beyond what's on the
// wire: the shared table, the configured frame rate (fade-delta
// derivation is fps-dependent), and the push-button parameters.
type Engine struct {
	Table               *lightstate.Table
	FPS                 int
	DefaultTransitionMs int
	PBResetDelay        time.Duration

	// Enabler is optional; nil means output enable/disable isn't wired
	// (no Modbus bridge configured).
	Enabler Enabler
}

// Execute applies a parsed command to the table and returns the reply to
// write back to the client (empty for commands with no reply). The table
// lock is acquired unbounded, per §4.2: control-server mutations are
// short and non-blocking.
func (e *Engine) Execute(cmd Command) (reply string, err error) {
	metrics.RecordCommand(string(cmd.Verb))

	switch cmd.Verb {
	case VerbStatusRequest:
		return e.statusRequest(), nil
	case VerbOn:
		err = e.on(cmd)
	case VerbOff:
		err = e.off(cmd)
	case VerbPushButtonFadeStart:
		err = e.pbFadeStart(cmd)
	case VerbPushButtonFadeEnd:
		err = e.pbFadeEnd(cmd)
	default:
		err = fmt.Errorf("control: unhandled verb %q", cmd.Verb)
	}
	if err != nil {
		metrics.RecordError("control")
	}
	return "", err
}

func (e *Engine) statusRequest() string {
	e.Table.Lock()
	defer e.Table.Unlock()

	var b strings.Builder
	b.WriteString("sres")
	for c := 0; c < lightstate.NumChannels; c++ {
		ch := &e.Table.Channels[c]
		s := 0
		if ch.OutwardOn {
			s = 1
		}
		fmt.Fprintf(&b, ",%d-%d", s, ch.OutwardBrightness)
	}
	b.WriteString("\n")
	return b.String()
}

func (e *Engine) on(cmd Command) error {
	e.Table.Lock()
	defer e.Table.Unlock()
	ch := &e.Table.Channels[cmd.Channel]

	target := ch.OutwardBrightness
	if cmd.HasBrightness {
		target = cmd.Brightness
	}
	ms := e.DefaultTransitionMs
	if cmd.HasTransitionMs {
		ms = cmd.TransitionMs
	}

	startFade(ch, float64(target), ms, e.FPS)
	ch.OutwardOn = true
	ch.OutwardBrightness = target
	return nil
}

func (e *Engine) off(cmd Command) error {
	e.Table.Lock()
	defer e.Table.Unlock()
	ch := &e.Table.Channels[cmd.Channel]

	ms := e.DefaultTransitionMs
	if cmd.HasTransitionMs {
		ms = cmd.TransitionMs
	}

	startFade(ch, 0, ms, e.FPS)
	ch.OutwardOn = false
	return nil
}

// startFade schedules a fade on ch from its current rendered level to
// target over ms milliseconds. ms = 0 is instantaneous: no fade is
// scheduled and fade_current jumps straight to target.
func startFade(ch *lightstate.Channel, target float64, ms int, fps int) {
	ch.FadeStart = ch.FadeCurrent
	ch.FadeEnd = target
	if ms <= 0 {
		ch.FadeCurrent = target
		ch.FadeDelta = 0
		ch.FadeProgress = 0
		return
	}
	ch.FadeDelta = 1000 / (float64(fps) * float64(ms))
	ch.FadeProgress = 0
}

func (e *Engine) pbFadeStart(cmd Command) error {
	e.Table.Lock()
	defer e.Table.Unlock()
	ch := &e.Table.Channels[cmd.Channel]

	ch.PBFadeActive = true
	ch.PBFadeCurrent = ch.FadeCurrent

	if cmd.HasDirection {
		ch.PBFadeUp = cmd.DirectionUp
		return nil
	}
	if !ch.PBLastReleaseAt.IsZero() && time.Since(ch.PBLastReleaseAt) <= e.PBResetDelay {
		ch.PBFadeUp = !ch.PBFadeUp
		return nil
	}
	ch.PBFadeUp = true
	return nil
}

func (e *Engine) pbFadeEnd(cmd Command) error {
	e.Table.Lock()
	defer e.Table.Unlock()
	ch := &e.Table.Channels[cmd.Channel]

	ch.PBFadeActive = false
	ch.PBLastReleaseAt = time.Now()

	value := ch.PBFadeCurrent
	ch.OutwardBrightness = uint8(value)
	ch.OutwardOn = value >= 1

	ch.FadeCurrent = value
	ch.FadeEnd = value
	ch.FadeStart = value
	ch.FadeDelta = 0
	ch.FadeProgress = 0
	return nil
}

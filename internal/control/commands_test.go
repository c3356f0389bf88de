// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package control

import (
	"testing"
	"time"

	"github.com/carmisergio/lumize-dmx-engine-2/internal/lightstate"
)

func newTestEngine() *Engine {
	table := lightstate.NewTable(512)
	return &Engine{
		Table:               table,
		FPS:                 100,
		DefaultTransitionMs: 1000,
		PBResetDelay:        10 * time.Second,
	}
}

// TestScenarioOnWithBrightness reproduces §8 scenario 1.
func TestScenarioOnWithBrightness(t *testing.T) {
	e := newTestEngine()
	_, err := e.Execute(Command{Verb: VerbOn, Channel: 0, HasBrightness: true, Brightness: 255})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ch := &e.Table.Channels[0]
	if !ch.OutwardOn || ch.OutwardBrightness != 255 {
		t.Fatalf("unexpected outward state: %+v", ch)
	}
	if got, want := ch.FadeDelta, 1000.0/(100*1000); got != want {
		t.Errorf("fade_delta = %v, want %v", got, want)
	}
	if ch.FadeEnd != 255 {
		t.Errorf("fade_end = %v, want 255", ch.FadeEnd)
	}
}

// TestScenarioInstantaneousTransition reproduces §8 scenario 2.
func TestScenarioInstantaneousTransition(t *testing.T) {
	e := newTestEngine()
	_, err := e.Execute(Command{Verb: VerbOn, Channel: 0, HasBrightness: true, Brightness: 200, HasTransitionMs: true, TransitionMs: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ch := &e.Table.Channels[0]
	if ch.FadeCurrent != 200 || ch.FadeDelta != 0 {
		t.Errorf("expected instantaneous jump to 200, got current=%v delta=%v", ch.FadeCurrent, ch.FadeDelta)
	}
}

// TestScenarioOffPreservesBrightness reproduces §8 scenario 3.
func TestScenarioOffPreservesBrightness(t *testing.T) {
	e := newTestEngine()
	if _, err := e.Execute(Command{Verb: VerbOn, Channel: 0, HasBrightness: true, Brightness: 200, HasTransitionMs: true, TransitionMs: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.Execute(Command{Verb: VerbOff, Channel: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ch := &e.Table.Channels[0]
	if ch.OutwardOn {
		t.Error("expected outward_on = false after off")
	}
	if ch.OutwardBrightness != 200 {
		t.Errorf("expected outward_brightness to remain 200, got %d", ch.OutwardBrightness)
	}
	if ch.FadeEnd != 0 {
		t.Errorf("expected fade toward 0, got fade_end=%v", ch.FadeEnd)
	}
}

// TestScenarioStatusRequestReflectsOffChannel reproduces §8 scenario 4.
func TestScenarioStatusRequestReflectsOffChannel(t *testing.T) {
	e := newTestEngine()
	if _, err := e.Execute(Command{Verb: VerbOn, Channel: 0, HasBrightness: true, Brightness: 200, HasTransitionMs: true, TransitionMs: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.Execute(Command{Verb: VerbOff, Channel: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reply, err := e.Execute(Command{Verb: VerbStatusRequest})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "sres,0-200,0-255,0-255,"
	if len(reply) < len(want) || reply[:len(want)] != want {
		t.Errorf("sreq reply = %q, want prefix %q", reply[:minInt(len(reply), 40)], want)
	}
}

// TestScenarioBrightnessLimitMapping reproduces §8 scenario 5, exercising
// the limit directly since mapping itself lives in the renderer package.
func TestScenarioBrightnessLimitMapping(t *testing.T) {
	e := newTestEngine()
	e.Table.SetBrightnessLimit(0, lightstate.BrightnessLimit{Min: 10, Max: 200})
	if _, err := e.Execute(Command{Verb: VerbOn, Channel: 0, HasBrightness: true, Brightness: 255, HasTransitionMs: true, TransitionMs: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ch := &e.Table.Channels[0]
	if ch.Limit.Max != 200 {
		t.Fatalf("expected limit max 200, got %d", ch.Limit.Max)
	}
	if ch.FadeCurrent != 255 {
		t.Errorf("expected fade_current 255 pre-mapping, got %v", ch.FadeCurrent)
	}
}

func TestPBFadeStartResumesInvertedWithinResetDelay(t *testing.T) {
	e := newTestEngine()
	ch := &e.Table.Channels[3]
	ch.PBLastReleaseAt = time.Now()
	ch.PBFadeUp = true

	if _, err := e.Execute(Command{Verb: VerbPushButtonFadeStart, Channel: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.PBFadeUp {
		t.Error("expected direction to invert when resuming within reset delay")
	}
}

func TestPBFadeStartFreshAfterResetDelay(t *testing.T) {
	e := newTestEngine()
	e.PBResetDelay = time.Millisecond
	ch := &e.Table.Channels[3]
	ch.PBLastReleaseAt = time.Now().Add(-time.Hour)
	ch.PBFadeUp = false

	if _, err := e.Execute(Command{Verb: VerbPushButtonFadeStart, Channel: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ch.PBFadeUp {
		t.Error("expected fresh start to default to up direction")
	}
}

func TestPBFadeEndLatchesIntoOutwardState(t *testing.T) {
	e := newTestEngine()
	ch := &e.Table.Channels[3]
	ch.PBFadeActive = true
	ch.PBFadeCurrent = 180

	if _, err := e.Execute(Command{Verb: VerbPushButtonFadeEnd, Channel: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.PBFadeActive {
		t.Error("expected pb_fade_active false after pbfe")
	}
	if !ch.OutwardOn || ch.OutwardBrightness != 180 {
		t.Errorf("expected latched outward state, got %+v", ch)
	}
	if ch.FadeDelta != 0 || ch.FadeCurrent != 180 {
		t.Errorf("expected completed fade at 180, got current=%v delta=%v", ch.FadeCurrent, ch.FadeDelta)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

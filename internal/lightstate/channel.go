// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package lightstate

import "time"

// NumChannels is the fixed size of the DMX universe this engine manages.
const NumChannels = 512

// Channel is the per-channel record described by the engine's data model.
// All fields are protected by the owning Table's lock; callers must hold
// it for both reads and writes.
type Channel struct {
	OutwardOn         bool
	OutwardBrightness uint8

	FadeCurrent  float64
	FadeStart    float64
	FadeEnd      float64
	FadeProgress float64
	FadeDelta    float64

	PBFadeActive   bool
	PBFadeUp       bool
	PBFadeCurrent  float64
	PBPauseCounter uint32

	// PBLastReleaseAt records when pbfe last completed on this channel, used
	// to decide whether the next pbfs resumes in the inverted direction.
	// The source's pb_last_release_frame is a frame counter; this engine
	// tracks wall-clock time instead since pb_reset_delay_s is a duration.
	PBLastReleaseAt time.Time

	Limit BrightnessLimit
}

// BrightnessLimit is the post-render linear remap [0,255] -> [Min,Max].
type BrightnessLimit struct {
	Min uint8
	Max uint8
}

// DefaultBrightnessLimit covers the full range, i.e. no remap.
var DefaultBrightnessLimit = BrightnessLimit{Min: 0, Max: 255}

// resetToDefaults restores a channel to its power-on state: off, no fade,
// no ramp, brightness limit left untouched (limits are config-derived, not
// part of the per-channel runtime state that persistence restores).
func (c *Channel) resetToDefaults() {
	limit := c.Limit
	*c = Channel{Limit: limit, OutwardBrightness: 255}
}

// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package lightstate

// Table is the single shared structure holding the runtime state of every
// channel in the universe. It replaces the reference engine's eleven
// parallel C arrays with one fixed-size array of records, per the
// array-of-structs refactor: a pure layout change, it does not alter the
// concurrency model described by the TimedMutex it embeds.
//
// The table is a plain record. None of its invariants are enforced here;
// callers (Renderer, Control Server, Persistence Writer) must hold the
// lock for the duration of any read-modify-write sequence.
type Table struct {
	*TimedMutex

	Channels [NumChannels]Channel

	// ActiveChannels bounds how many channels are transmitted on the wire
	// and iterated by the Renderer. Fixed at startup from configuration.
	ActiveChannels int
}

// NewTable allocates a table with activeChannels channels active and every
// brightness limit left at its full-range default. Callers apply
// configured brightness_limits afterwards.
func NewTable(activeChannels int) *Table {
	t := &Table{
		TimedMutex:     NewTimedMutex(),
		ActiveChannels: activeChannels,
	}
	for i := range t.Channels {
		t.Channels[i].Limit = DefaultBrightnessLimit
		// Matches the reference engine's startup default (main.cpp): an
		// untouched channel reports full brightness, so turning it on
		// before any command has set one restores 255, not black.
		t.Channels[i].OutwardBrightness = 255
	}
	return t
}

// SetBrightnessLimit assigns the post-render remap for a single channel.
// Callers must hold the table lock.
func (t *Table) SetBrightnessLimit(c int, limit BrightnessLimit) {
	t.Channels[c].Limit = limit
}

// Snapshot returns a value copy of every channel's outward state, used by
// the Persistence Writer so it can format the file without holding the
// lock for the duration of I/O.
func (t *Table) Snapshot() [NumChannels]struct {
	On         bool
	Brightness uint8
} {
	var out [NumChannels]struct {
		On         bool
		Brightness uint8
	}
	t.Lock()
	for i := range t.Channels {
		out[i].On = t.Channels[i].OutwardOn
		out[i].Brightness = t.Channels[i].OutwardBrightness
	}
	t.Unlock()
	return out
}

// Restore applies persisted outward state to every channel, initializing
// fade_current per §4.5: the rendered level if the channel was on, else
// off. Called once at startup before the Renderer begins, so no locking
// is strictly required, but the table lock is taken anyway for symmetry
// with every other mutator.
func (t *Table) Restore(states [NumChannels]struct {
	On         bool
	Brightness uint8
}) {
	t.Lock()
	defer t.Unlock()
	for i := range t.Channels {
		ch := &t.Channels[i]
		ch.OutwardOn = states[i].On
		ch.OutwardBrightness = states[i].Brightness
		if states[i].On {
			ch.FadeCurrent = float64(states[i].Brightness)
		} else {
			ch.FadeCurrent = 0
		}
		ch.FadeStart = ch.FadeCurrent
		ch.FadeEnd = ch.FadeCurrent
		ch.FadeProgress = 0
		ch.FadeDelta = 0
	}
}

// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package scheduler implements the supplemental scenes.yaml feature: a
// time-of-day scheduler that drives the same Light State Table the
// Control Server mutates, generalizing the teacher's light/group
// scheduler into one targeting raw channel indices.
package scheduler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScenesFile is the root of a scenes.yaml document.
type ScenesFile struct {
	Timezone string       `yaml:"timezone"`
	Events   []SceneEvent `yaml:"events"`
}

// SceneEvent is one scheduled action: either a set of channel targets or
// a blackout.
type SceneEvent struct {
	Time         string        `yaml:"time"` // "HH:MM:SS" or "HH:MM"
	Set          map[int]uint8 `yaml:"set,omitempty"`
	TransitionMs int           `yaml:"transition_ms,omitempty"`
	Blackout     bool          `yaml:"blackout,omitempty"`
}

// LoadScenesFile reads and parses a scenes.yaml document.
func LoadScenesFile(path string) (*ScenesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scheduler: read scenes file: %w", err)
	}
	var f ScenesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("scheduler: parse scenes file: %w", err)
	}
	for _, e := range f.Events {
		for ch := range e.Set {
			if ch < 0 || ch > 511 {
				return nil, fmt.Errorf("scheduler: event %q: channel %d out of range [0, 511]", e.Time, ch)
			}
		}
	}
	return &f, nil
}

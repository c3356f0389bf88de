// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package scheduler

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/carmisergio/lumize-dmx-engine-2/internal/control"
)

// Event is a parsed scene event with time components, mirroring the
// teacher's Event but targeting channels instead of lights/groups.
type Event struct {
	Hour, Minute, Second int
	Set                  map[int]uint8
	TransitionMs         int
	Blackout             bool
}

// Scheduler runs scheduled lighting events against the same Engine the
// Control Server uses, so a scene event is indistinguishable from a
// client-issued command once applied.
type Scheduler struct {
	events   []Event
	engine   *control.Engine
	logger   *slog.Logger
	location *time.Location

	mu       sync.RWMutex
	lastRun  string
	running  bool
	stopChan chan struct{}
}

// New builds a Scheduler from a parsed scenes.yaml document.
func New(file *ScenesFile, engine *control.Engine, logger *slog.Logger) (*Scheduler, error) {
	loc := time.Local
	if file.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(file.Timezone)
		if err != nil {
			return nil, err
		}
	}

	events := make([]Event, 0, len(file.Events))
	for _, e := range file.Events {
		parsed, err := parseTime(e.Time)
		if err != nil {
			logger.Warn("scheduler: invalid scene time, skipping", "time", e.Time, "err", err)
			continue
		}
		parsed.Set = e.Set
		parsed.TransitionMs = e.TransitionMs
		parsed.Blackout = e.Blackout
		events = append(events, parsed)
	}

	sort.Slice(events, func(i, j int) bool {
		return timeToSeconds(events[i]) < timeToSeconds(events[j])
	})

	return &Scheduler{
		events:   events,
		engine:   engine,
		logger:   logger,
		location: loc,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins the scheduler loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.loop()
	s.logger.Info("scheduler: started", "events", len(s.events), "timezone", s.location.String())
}

// Stop ends the scheduler loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.check()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) check() {
	now := time.Now().In(s.location)
	nowStr := now.Format("15:04:05")

	s.mu.Lock()
	if s.lastRun == nowStr {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	h, m, sec := now.Hour(), now.Minute(), now.Second()
	for _, e := range s.events {
		if e.Hour == h && e.Minute == m && e.Second == sec {
			s.execute(e)
			s.mu.Lock()
			s.lastRun = nowStr
			s.mu.Unlock()
			return
		}
	}
}

func (s *Scheduler) execute(e Event) {
	s.logger.Info("scheduler: executing scene", "time", formatTime(e))

	if e.Blackout {
		for c := 0; c < s.engine.Table.ActiveChannels; c++ {
			if _, err := s.engine.Execute(control.Command{Verb: control.VerbOff, Channel: c}); err != nil {
				s.logger.Error("scheduler: blackout failed", "channel", c, "err", err)
			}
		}
		return
	}

	for ch, brightness := range e.Set {
		cmd := control.Command{
			Verb:            control.VerbOn,
			Channel:         ch,
			HasBrightness:   true,
			Brightness:      brightness,
			HasTransitionMs: e.TransitionMs > 0,
			TransitionMs:    e.TransitionMs,
		}
		if _, err := s.engine.Execute(cmd); err != nil {
			s.logger.Error("scheduler: set channel failed", "channel", ch, "err", err)
		}
	}
}

// NextEvent reports the next scheduled event, for telemetry.
func (s *Scheduler) NextEvent() *EventInfo {
	if len(s.events) == 0 {
		return nil
	}

	now := time.Now().In(s.location)
	nowSec := now.Hour()*3600 + now.Minute()*60 + now.Second()

	for _, e := range s.events {
		if timeToSeconds(e) > nowSec {
			return eventInfo(e)
		}
	}
	return eventInfo(s.events[0])
}

// Events returns every scheduled event, for telemetry.
func (s *Scheduler) Events() []EventInfo {
	result := make([]EventInfo, len(s.events))
	for i, e := range s.events {
		result[i] = *eventInfo(e)
	}
	return result
}

// EventInfo describes a scheduled event for read-only telemetry surfaces.
type EventInfo struct {
	Time     string `json:"time"`
	Blackout bool   `json:"blackout"`
	Channels int    `json:"channels,omitempty"`
}

func eventInfo(e Event) *EventInfo {
	return &EventInfo{Time: formatTime(e), Blackout: e.Blackout, Channels: len(e.Set)}
}

func parseTime(s string) (Event, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		t, err = time.Parse("15:04", s)
		if err != nil {
			return Event{}, err
		}
	}
	return Event{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

func formatTime(e Event) string {
	return time.Date(0, 1, 1, e.Hour, e.Minute, e.Second, 0, time.UTC).Format("15:04:05")
}

func timeToSeconds(e Event) int {
	return e.Hour*3600 + e.Minute*60 + e.Second
}

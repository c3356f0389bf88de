// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package metrics exposes the engine's Prometheus gauges and counters:
// per-channel rendered value, renderer throughput, and command/error
// tallies by type.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChannelValue is a gauge for the rendered DMX channel value (0-255).
	ChannelValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lumize_channel_value",
			Help: "Current rendered DMX channel value (0-255)",
		},
		[]string{"channel"},
	)

	// FPS is the configured frame rate.
	FPS = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumize_fps",
			Help: "Renderer frames per second",
		},
	)

	// FrameCount is the total number of frames sent to the DMX output.
	FrameCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumize_frames_total",
			Help: "Total frames sent to the DMX output",
		},
	)

	// FramesHeld counts frames rendered with a held (stale) value because
	// the table lock could not be acquired within the bounded timeout.
	FramesHeld = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumize_frames_held_total",
			Help: "Total frames rendered by holding the previous output (table lock timeout)",
		},
	)

	// CommandsTotal counts control commands by verb.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumize_commands_total",
			Help: "Total control commands by verb",
		},
		[]string{"verb"},
	)

	// ErrorsTotal counts errors by subsystem.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumize_errors_total",
			Help: "Total errors by subsystem",
		},
		[]string{"type"},
	)
)

// SetChannelValue updates a channel's rendered-value gauge.
func SetChannelValue(channel int, value uint8) {
	ChannelValue.WithLabelValues(strconv.Itoa(channel)).Set(float64(value))
}

// RecordFrame increments the frame counter and, if held is true, the
// held-frame counter alongside it.
func RecordFrame(held bool) {
	FrameCount.Inc()
	if held {
		FramesHeld.Inc()
	}
}

// RecordCommand increments the per-verb command counter.
func RecordCommand(verb string) {
	CommandsTotal.WithLabelValues(verb).Inc()
}

// RecordError increments the per-subsystem error counter.
func RecordError(kind string) {
	ErrorsTotal.WithLabelValues(kind).Inc()
}

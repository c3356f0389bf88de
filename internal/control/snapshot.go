// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package control

import "encoding/json"

// ChannelSnapshot is the read-only per-channel view exposed to telemetry
// frontends (HTTP/WebSocket, MQTT). It deliberately carries less than the
// full internal Channel record — only what an external observer needs.
type ChannelSnapshot struct {
	Ch         int  `json:"ch"`
	On         bool `json:"on"`
	Brightness uint8 `json:"brightness"`
	Rendered   uint8 `json:"rendered"`
}

// StateSnapshot is the full broadcast payload.
type StateSnapshot struct {
	Type     string            `json:"type"`
	Channels []ChannelSnapshot `json:"channels"`
}

// SnapshotJSON marshals the current table state under lock. Used after
// every mutation to feed the telemetry Hub, and once on WebSocket/MQTT
// connect to seed a new subscriber.
func (e *Engine) SnapshotJSON() []byte {
	e.Table.Lock()
	defer e.Table.Unlock()

	channels := make([]ChannelSnapshot, e.Table.ActiveChannels)
	for c := 0; c < e.Table.ActiveChannels; c++ {
		ch := &e.Table.Channels[c]
		channels[c] = ChannelSnapshot{
			Ch:         c,
			On:         ch.OutwardOn,
			Brightness: ch.OutwardBrightness,
			Rendered:   uint8(ch.FadeCurrent),
		}
	}

	data, _ := json.Marshal(StateSnapshot{Type: "state", Channels: channels})
	return data
}

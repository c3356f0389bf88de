// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package control implements the line-oriented TCP protocol that external
// automation uses to mutate the Light State Table.
package control

import (
	"fmt"
	"strconv"
	"strings"
)

// WelcomeBanner is sent immediately on every accepted connection.
const WelcomeBanner = "Lumize DMX Engine v2.0\n"

// Verb identifies a parsed command.
type Verb string

const (
	VerbStatusRequest       Verb = "sreq"
	VerbOn                  Verb = "on"
	VerbOff                 Verb = "off"
	VerbPushButtonFadeStart Verb = "pbfs"
	VerbPushButtonFadeEnd   Verb = "pbfe"
)

// Command is a single parsed line of the wire protocol. Fields not
// present on the wire are left at their zero value with the corresponding
// Has* flag false.
type Command struct {
	Verb    Verb
	Channel int

	HasBrightness bool
	Brightness    uint8

	HasTransitionMs bool
	TransitionMs    int

	HasDirection bool
	DirectionUp  bool
}

// ParseLine strips all whitespace from the line (matching the reference
// engine, which removes whitespace anywhere in the string, not just at
// the ends) and parses it into a Command. An error here means the line
// was malformed or an unknown verb; the caller logs at WARN and drops it
// with no partial effect.
func ParseLine(line string) (Command, error) {
	stripped := stripWhitespace(line)
	if stripped == "" {
		return Command{}, fmt.Errorf("control: empty command")
	}

	fields := strings.Split(stripped, ",")
	verb := Verb(fields[0])

	switch verb {
	case VerbStatusRequest:
		return Command{Verb: verb}, nil
	case VerbOn:
		return parseOn(fields)
	case VerbOff:
		return parseOff(fields)
	case VerbPushButtonFadeStart:
		return parsePBFadeStart(fields)
	case VerbPushButtonFadeEnd:
		return parsePBFadeEnd(fields)
	default:
		return Command{}, fmt.Errorf("control: unknown verb %q", fields[0])
	}
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parseChannel(raw string) (int, error) {
	c, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("control: bad channel %q: %w", raw, err)
	}
	if c < 0 || c > 511 {
		return 0, fmt.Errorf("control: channel %d out of range [0, 511]", c)
	}
	return c, nil
}

func parseOn(fields []string) (Command, error) {
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("control: on requires a channel")
	}
	c, err := parseChannel(fields[1])
	if err != nil {
		return Command{}, err
	}
	cmd := Command{Verb: VerbOn, Channel: c}
	for _, p := range fields[2:] {
		if err := applyParam(&cmd, p); err != nil {
			return Command{}, err
		}
	}
	return cmd, nil
}

func parseOff(fields []string) (Command, error) {
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("control: off requires a channel")
	}
	c, err := parseChannel(fields[1])
	if err != nil {
		return Command{}, err
	}
	cmd := Command{Verb: VerbOff, Channel: c}
	for _, p := range fields[2:] {
		if err := applyParam(&cmd, p); err != nil {
			return Command{}, err
		}
		if cmd.HasBrightness {
			return Command{}, fmt.Errorf("control: off does not accept a brightness parameter")
		}
	}
	return cmd, nil
}

func parsePBFadeStart(fields []string) (Command, error) {
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("control: pbfs requires a channel")
	}
	c, err := parseChannel(fields[1])
	if err != nil {
		return Command{}, err
	}
	cmd := Command{Verb: VerbPushButtonFadeStart, Channel: c}
	if len(fields) >= 3 {
		switch fields[2] {
		case "u":
			cmd.HasDirection = true
			cmd.DirectionUp = true
		case "d":
			cmd.HasDirection = true
			cmd.DirectionUp = false
		default:
			return Command{}, fmt.Errorf("control: bad direction flag %q", fields[2])
		}
	}
	return cmd, nil
}

func parsePBFadeEnd(fields []string) (Command, error) {
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("control: pbfe requires a channel")
	}
	c, err := parseChannel(fields[1])
	if err != nil {
		return Command{}, err
	}
	return Command{Verb: VerbPushButtonFadeEnd, Channel: c}, nil
}

func applyParam(cmd *Command, p string) error {
	if len(p) < 2 {
		return fmt.Errorf("control: bad parameter %q", p)
	}
	switch p[0] {
	case 't':
		ms, err := strconv.Atoi(p[1:])
		if err != nil || ms < 0 {
			return fmt.Errorf("control: bad transition %q", p)
		}
		cmd.HasTransitionMs = true
		cmd.TransitionMs = ms
	case 'b':
		b, err := strconv.Atoi(p[1:])
		if err != nil || b < 0 || b > 255 {
			return fmt.Errorf("control: bad brightness %q", p)
		}
		cmd.HasBrightness = true
		cmd.Brightness = uint8(b)
	default:
		return fmt.Errorf("control: unknown parameter %q", p)
	}
	return nil
}

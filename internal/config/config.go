// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Load reads and parses the configuration file. Unlike the teacher's
// yaml.Unmarshal, the format here is fixed by §6 to line-oriented
// key = value pairs with # comments, so parsing is hand-rolled rather
// than delegated to a structured-document library (see DESIGN.md for why
// yaml.v3 is kept for the scenes scheduler instead).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	raw, err := parseKeyValue(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{}
	cfg.applyDefaults()

	if err := cfg.applyKeyValues(raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// parseKeyValue splits the raw file into key/value pairs, stripping
// whitespace and # comment lines per §6.
func parseKeyValue(data string) (map[string]string, error) {
	out := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		out[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// applyDefaults sets the defaults from the §6 table before any key read
// from the file overrides them.
func (c *Config) applyDefaults() {
	c.Port = 8056
	c.Channels = 25
	c.FPS = 50
	c.DefaultTransitionMs = 1000
	c.BrightnessLimits = make(map[int]BrightnessLimit)
	c.PushbuttonFadeDelta = 25
	c.PushbuttonFadePauseMs = 500
	c.PushbuttonFadeResetDelay = 10 * time.Second
	c.EnablePersistency = false
	c.PersistencyFilePath = "/var/lib/lumizedmxengine2/persistency"
	c.PersistencyWriteInterval = 600 * time.Second
	c.LogDebug = false
}

func (c *Config) applyKeyValues(raw map[string]string) error {
	for key, value := range raw {
		var err error
		switch key {
		case "port":
			c.Port, err = strconv.Atoi(value)
		case "channels":
			c.Channels, err = strconv.Atoi(value)
		case "fps":
			c.FPS, err = strconv.Atoi(value)
		case "default_transition":
			c.DefaultTransitionMs, err = strconv.Atoi(value)
		case "brightness_limits":
			c.BrightnessLimits, err = parseBrightnessLimits(value)
		case "pushbutton_fade_delta":
			c.PushbuttonFadeDelta, err = strconv.Atoi(value)
		case "pushbutton_fade_pause":
			c.PushbuttonFadePauseMs, err = strconv.Atoi(value)
		case "pushbutton_fade_reset_delay":
			var secs int
			secs, err = strconv.Atoi(value)
			c.PushbuttonFadeResetDelay = time.Duration(secs) * time.Second
		case "enable_persistency":
			c.EnablePersistency, err = parseBool(value)
		case "persistency_file_path":
			c.PersistencyFilePath = value
		case "persistency_write_interval":
			var secs int
			secs, err = strconv.Atoi(value)
			c.PersistencyWriteInterval = time.Duration(secs) * time.Second
		case "log_debug":
			c.LogDebug, err = parseBool(value)
		default:
			return fmt.Errorf("unknown key %q", key)
		}
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	return nil
}

// parseBool accepts the spelling set from §6: true/1/yes/on and their
// negatives, case-insensitive.
func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", value)
	}
}

// parseBrightnessLimits parses comma-separated <channel>-<min>-<max>
// triples.
func parseBrightnessLimits(value string) (map[int]BrightnessLimit, error) {
	limits := make(map[int]BrightnessLimit)
	if value == "" {
		return limits, nil
	}
	for _, entry := range strings.Split(value, ",") {
		parts := strings.Split(entry, "-")
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed triple %q", entry)
		}
		ch, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("bad channel in %q: %w", entry, err)
		}
		min, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("bad min in %q: %w", entry, err)
		}
		max, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("bad max in %q: %w", entry, err)
		}
		if _, dup := limits[ch]; dup {
			return nil, fmt.Errorf("channel %d set more than once in brightness_limits", ch)
		}
		if min < 0 || min > 255 {
			return nil, fmt.Errorf("bad min in %q: must be in [0, 255]", entry)
		}
		if max < 0 || max > 255 {
			return nil, fmt.Errorf("bad max in %q: must be in [0, 255]", entry)
		}
		limits[ch] = BrightnessLimit{Min: uint8(min), Max: uint8(max)}
	}
	return limits, nil
}

// Validate checks every key against the range in §6.
func (c *Config) Validate() error {
	if c.Port <= 1000 {
		return fmt.Errorf("port must be > 1000, got %d", c.Port)
	}
	if c.Channels < 1 || c.Channels > 512 {
		return fmt.Errorf("channels must be in [1, 512], got %d", c.Channels)
	}
	if c.FPS < 10 || c.FPS > 200 {
		return fmt.Errorf("fps must be in [10, 200], got %d", c.FPS)
	}
	if c.DefaultTransitionMs < 0 {
		return fmt.Errorf("default_transition must be >= 0, got %d", c.DefaultTransitionMs)
	}
	if c.PushbuttonFadeDelta < 0 {
		return fmt.Errorf("pushbutton_fade_delta must be >= 0, got %d", c.PushbuttonFadeDelta)
	}
	if c.PushbuttonFadePauseMs < 0 {
		return fmt.Errorf("pushbutton_fade_pause must be >= 0, got %d", c.PushbuttonFadePauseMs)
	}
	if c.PushbuttonFadeResetDelay < 0 {
		return fmt.Errorf("pushbutton_fade_reset_delay must be >= 0")
	}
	if c.EnablePersistency {
		if c.PersistencyFilePath == "" {
			return fmt.Errorf("persistency_file_path must be non-empty when persistency is enabled")
		}
		if c.PersistencyWriteInterval <= 0 {
			return fmt.Errorf("persistency_write_interval must be > 0")
		}
	}
	for ch, limit := range c.BrightnessLimits {
		if ch < 0 || ch > 511 {
			return fmt.Errorf("brightness_limits: channel %d out of range [0, 511]", ch)
		}
		if limit.Min > limit.Max {
			return fmt.Errorf("brightness_limits: channel %d has min %d > max %d", ch, limit.Min, limit.Max)
		}
	}
	return nil
}

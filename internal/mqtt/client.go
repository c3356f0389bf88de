// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package mqtt bridges the Light State Table to an MQTT broker so home
// automation hubs can mirror and drive channel state without opening a
// raw TCP connection, per the engine's purpose statement.
package mqtt

import (
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/carmisergio/lumize-dmx-engine-2/internal/control"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/telemetry"
)

// Config for the MQTT bridge.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Client is the MQTT bridge. Commands arriving on <prefix>/cmd are
// parsed with the exact same wire grammar as the TCP control server
// (control.ParseLine), so an automation hub sends the identical command
// strings it would over TCP.
type Client struct {
	cfg    Config
	engine *control.Engine
	hub    *telemetry.Hub
	logger *slog.Logger

	client   paho.Client
	stopChan chan struct{}
}

// NewClient builds a Client. hub is subscribed to for forwarding state
// broadcasts to <prefix>/event.
func NewClient(cfg Config, engine *control.Engine, hub *telemetry.Hub, logger *slog.Logger) *Client {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "lumizedmxengine2"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "lumizedmxengine2"
	}
	return &Client{
		cfg:      cfg,
		engine:   engine,
		hub:      hub,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start connects to the broker and subscribes to the command topic.
func (c *Client) Start() error {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}

	go c.forwardEvents()

	c.logger.Info("mqtt: bridge started", "broker", c.cfg.Broker, "prefix", c.cfg.TopicPrefix)
	return nil
}

// Stop disconnects from the broker.
func (c *Client) Stop() {
	close(c.stopChan)
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(1000)
	}
}

func (c *Client) onConnect(client paho.Client) {
	cmdTopic := c.cfg.TopicPrefix + "/cmd"
	client.Subscribe(cmdTopic, 1, c.handleCommand)
	c.logger.Debug("mqtt: subscribed", "topic", cmdTopic)

	client.Publish(c.cfg.TopicPrefix+"/state", 0, true, c.engine.SnapshotJSON())
}

func (c *Client) onConnectionLost(client paho.Client, err error) {
	c.logger.Warn("mqtt: connection lost", "err", err)
}

func (c *Client) handleCommand(client paho.Client, msg paho.Message) {
	line := string(msg.Payload())
	c.logger.Debug("mqtt: command received", "topic", msg.Topic(), "payload", line)

	cmd, err := control.ParseLine(line)
	if err != nil {
		c.logger.Warn("mqtt: malformed command, dropped", "payload", line, "err", err)
		return
	}
	reply, err := c.engine.Execute(cmd)
	if err != nil {
		c.logger.Warn("mqtt: command execution failed", "err", err)
		return
	}
	if reply != "" {
		client.Publish(c.cfg.TopicPrefix+"/response", 0, false, reply)
	}
}

// forwardEvents relays telemetry broadcasts to <prefix>/event, matching
// the teacher's forwardEvents goroutine shape.
func (c *Client) forwardEvents() {
	updates := c.hub.Subscribe()
	defer c.hub.Unsubscribe(updates)

	for {
		select {
		case data, ok := <-updates:
			if !ok {
				return
			}
			if c.client != nil && c.client.IsConnected() {
				c.client.Publish(c.cfg.TopicPrefix+"/event", 0, false, data)
			}
		case <-c.stopChan:
			return
		}
	}
}

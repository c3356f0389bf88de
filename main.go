// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carmisergio/lumize-dmx-engine-2/internal/config"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/control"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/dmxout"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/httptelemetry"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/lightstate"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/modbus"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/mqtt"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/persistence"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/renderer"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/scheduler"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "/etc/lumizedmxengine2.conf", "Path to configuration file")
		logLevel   = flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
		dryRun     = flag.Bool("dry-run", false, "Validate config and exit")
	)
	flag.Parse()

	level := parseLogLevel(*logLevel)
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("lumize dmx engine starting", "version", "2.0")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if cfg.LogDebug {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
		logger = slog.New(handler)
		slog.SetDefault(logger)
	}

	logger.Info("configuration loaded", "channels", cfg.Channels, "fps", cfg.FPS, "port", cfg.Port)

	if *dryRun {
		logger.Info("dry run - configuration is valid")
		os.Exit(0)
	}

	devicePath := envOr("LUMIZE_DMX_DEVICE", "/dev/ttyUSB0")

	table := lightstate.NewTable(cfg.Channels)
	for ch, limit := range cfg.BrightnessLimits {
		table.SetBrightnessLimit(ch, lightstate.BrightnessLimit{Min: limit.Min, Max: limit.Max})
	}

	if cfg.EnablePersistency {
		persistence.Read(table, cfg.PersistencyFilePath, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// The four core components start in a strict sequence so a failure's
	// exit code unambiguously names which one failed, per §6.
	out := dmxout.New(devicePath, cfg.Channels, logger)
	rend := renderer.New(table, out, renderer.Config{
		FPS:           cfg.FPS,
		PBFadeDelta:   cfg.PushbuttonFadeDelta,
		PBFadePauseMs: cfg.PushbuttonFadePauseMs,
	}, logger)
	if err := rend.Start(ctx); err != nil {
		logger.Error("failed to start renderer", "err", err)
		os.Exit(2)
	}

	engine := &control.Engine{
		Table:               table,
		FPS:                 cfg.FPS,
		DefaultTransitionMs: cfg.DefaultTransitionMs,
		PBResetDelay:        cfg.PushbuttonFadeResetDelay,
		Enabler:             out,
	}

	hub := telemetry.NewHub()
	notify := make(chan struct{}, 1)

	controlServer := control.New(":"+strconv.Itoa(cfg.Port), engine, notify, logger)
	controlServer.SetBroadcaster(hub)
	if err := controlServer.Start(ctx); err != nil {
		logger.Error("failed to start control server", "err", err)
		rend.Stop()
		os.Exit(3)
	}

	var persistWriter *persistence.Writer
	if cfg.EnablePersistency {
		persistWriter = persistence.New(table, cfg.PersistencyFilePath, cfg.PersistencyWriteInterval, notify, logger)
		if err := persistWriter.Start(); err != nil {
			logger.Error("failed to start persistence writer", "err", err)
			controlServer.Stop()
			rend.Stop()
			os.Exit(4)
		}
	}

	// Optional frontends are independent of each other and of the core
	// four, so they start concurrently via an errgroup rather than the
	// sequential start/stop calls above.
	var (
		modbusServer *modbus.Server
		mqttClient   *mqtt.Client
		sched        *scheduler.Scheduler
		httpServer   *httptelemetry.Server
	)

	if addr := os.Getenv("LUMIZE_MODBUS_ADDR"); addr != "" {
		modbusServer = modbus.NewServer(&modbus.Config{Port: addr}, engine, logger)
	}
	if broker := os.Getenv("LUMIZE_MQTT_BROKER"); broker != "" {
		mqttClient = mqtt.NewClient(mqtt.Config{
			Broker:      broker,
			ClientID:    os.Getenv("LUMIZE_MQTT_CLIENT_ID"),
			Username:    os.Getenv("LUMIZE_MQTT_USERNAME"),
			Password:    os.Getenv("LUMIZE_MQTT_PASSWORD"),
			TopicPrefix: os.Getenv("LUMIZE_MQTT_TOPIC_PREFIX"),
		}, engine, hub, logger)
	}
	if path := os.Getenv("LUMIZE_SCENES_FILE"); path != "" {
		if scenesFile, err := scheduler.LoadScenesFile(path); err != nil {
			logger.Warn("failed to load scenes file, scheduler disabled", "path", path, "err", err)
		} else if sched, err = scheduler.New(scenesFile, engine, logger); err != nil {
			logger.Warn("failed to build scheduler, disabled", "err", err)
			sched = nil
		}
	}
	httpAddr := envOr("LUMIZE_HTTP_ADDR", ":8080")
	httpServer = httptelemetry.NewServer(httpAddr, engine, hub, logger)
	if sched != nil {
		httpServer.SetScheduler(sched)
	}

	var g errgroup.Group
	if modbusServer != nil {
		g.Go(func() error { return modbusServer.Start() })
	}
	if mqttClient != nil {
		g.Go(func() error { return mqttClient.Start() })
	}
	g.Go(func() error { return httpServer.Start() })
	if err := g.Wait(); err != nil {
		logger.Warn("optional frontend failed to start", "err", err)
	}
	if sched != nil {
		sched.Start()
	}

	logger.Info("lumize dmx engine ready",
		"port", cfg.Port,
		"channels", cfg.Channels,
		"fps", cfg.FPS,
		"modbus", modbusServer != nil,
		"mqtt", mqttClient != nil,
		"scheduler", sched != nil,
		"http", httpAddr,
	)

	<-ctx.Done()
	logger.Info("initiating graceful shutdown")

	// Optional frontends stop concurrently: none of them are ordered with
	// respect to each other.
	var shutdownGroup errgroup.Group
	if sched != nil {
		shutdownGroup.Go(func() error { sched.Stop(); return nil })
	}
	if mqttClient != nil {
		shutdownGroup.Go(func() error { mqttClient.Stop(); return nil })
	}
	if modbusServer != nil {
		shutdownGroup.Go(func() error { modbusServer.Stop(); return nil })
	}
	shutdownGroup.Go(func() error {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	_ = shutdownGroup.Wait()

	// Core components stop in the order from §5: Control Server, then
	// Persistence Writer, then Renderer (which stops its owned DMX Output
	// last). This is not the reverse of the start order above.
	controlServer.Stop()
	if persistWriter != nil {
		persistWriter.Stop()
	}
	rend.Stop()

	logger.Info("lumize dmx engine stopped")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}


// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package httptelemetry is a read-only HTTP/WebSocket dashboard over the
// Light State Table: a live per-channel view, a health endpoint, and
// Prometheus metrics. Nothing here writes to the table: state changes come
// only through control.Engine.Execute (TCP control server, MQTT, Modbus,
// scene scheduler).
package httptelemetry

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carmisergio/lumize-dmx-engine-2/internal/control"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/scheduler"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/telemetry"
)

var startTime = time.Now()

//go:embed static/*
var staticFiles embed.FS

// Server is the read-only HTTP/WebSocket telemetry server.
type Server struct {
	addr      string
	engine    *control.Engine
	hub       *telemetry.Hub
	scheduler *scheduler.Scheduler
	logger    *slog.Logger

	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer builds a Server. scheduler may be nil if no scenes.yaml is
// configured; SetScheduler attaches one later if it starts after the HTTP
// server, mirroring the teacher's SetScheduler hook.
func NewServer(addr string, engine *control.Engine, hub *telemetry.Hub, logger *slog.Logger) *Server {
	s := &Server{
		addr:   addr,
		engine: engine,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/schedule", s.handleSchedule)
	mux.HandleFunc("/api/schedule/next", s.handleScheduleNext)
	mux.Handle("/metrics", promhttp.Handler())

	staticFS, _ := fs.Sub(staticFiles, "static")
	mux.Handle("/", http.FileServer(http.FS(staticFS)))

	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// SetScheduler attaches the scene scheduler for the read-only
// /api/schedule endpoints.
func (s *Server) SetScheduler(sched *scheduler.Scheduler) {
	s.scheduler = sched
}

// Start starts serving in the background.
func (s *Server) Start() error {
	s.logger.Info("httptelemetry: server starting", "addr", s.addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("httptelemetry: server error", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleWebSocket streams live state snapshots: an initial snapshot on
// connect, then every subsequent broadcast from the telemetry Hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("httptelemetry: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	s.logger.Debug("httptelemetry: websocket client connected", "remote", r.RemoteAddr)

	updates := s.hub.Subscribe()
	defer s.hub.Unsubscribe(updates)

	if err := conn.WriteMessage(websocket.TextMessage, s.engine.SnapshotJSON()); err != nil {
		return
	}

	// Drain inbound messages so the client's connection stays healthy even
	// though this endpoint never acts on anything it receives.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.engine.SnapshotJSON())
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.jsonResponse(w, map[string]interface{}{"events": []interface{}{}})
		return
	}
	s.jsonResponse(w, map[string]interface{}{"events": s.scheduler.Events()})
}

func (s *Server) handleScheduleNext(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.jsonResponse(w, nil)
		return
	}
	s.jsonResponse(w, s.scheduler.NextEvent())
}

// healthResponse mirrors the teacher's runtime/GC snapshot, unchanged in
// shape since it describes the process, not the domain.
type healthResponse struct {
	UptimeSec  int     `json:"uptime_sec"`
	UptimeStr  string  `json:"uptime_str"`
	Goroutines int     `json:"goroutines"`
	CPULoad1m  float64 `json:"cpu_load_1m"`
	CPULoad5m  float64 `json:"cpu_load_5m"`
	CPULoad15m float64 `json:"cpu_load_15m"`
	MemAllocMB float64 `json:"mem_alloc_mb"`
	MemSysMB   float64 `json:"mem_sys_mb"`
	MemHeapMB  float64 `json:"mem_heap_mb"`
	GCRuns     uint32  `json:"gc_runs"`
	GoVersion  string  `json:"go_version"`
	NumCPU     int     `json:"num_cpu"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var load1, load5, load15 float64
	if data, err := os.ReadFile("/proc/loadavg"); err == nil {
		fmt.Sscanf(string(data), "%f %f %f", &load1, &load5, &load15)
	}

	s.jsonResponse(w, healthResponse{
		UptimeSec:  int(time.Since(startTime).Seconds()),
		UptimeStr:  time.Since(startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		CPULoad1m:  load1,
		CPULoad5m:  load5,
		CPULoad15m: load15,
		MemAllocMB: float64(m.Alloc) / 1024 / 1024,
		MemSysMB:   float64(m.Sys) / 1024 / 1024,
		MemHeapMB:  float64(m.HeapAlloc) / 1024 / 1024,
		GCRuns:     m.NumGC,
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Addr returns the server's configured address.
func (s *Server) Addr() string {
	return s.addr
}

// ServeHTTP exposes the underlying mux directly, for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

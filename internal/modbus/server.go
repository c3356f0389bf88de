// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package modbus bridges the Light State Table to Modbus TCP, so PLCs and
// building-automation controllers can read and drive channel state with
// the same register layout a DMX node would expose on a fieldbus.
package modbus

import (
	"encoding/binary"
	"log/slog"

	"github.com/tbrandon/mbserver"

	"github.com/carmisergio/lumize-dmx-engine-2/internal/control"
	"github.com/carmisergio/lumize-dmx-engine-2/internal/lightstate"
)

// Config for the Modbus TCP server.
type Config struct {
	Port string // ":502" or ":5020"
}

// Server is the Modbus TCP bridge.
// Register mapping:
//   - Holding registers 0-511 = DMX channels 1-512 (value 0-255 brightness)
//   - Coil 0 = DMX output enable (read/write)
//   - Coil 1 = blackout (write-only, triggers an off on every active channel)
//
// Writes go through control.Engine.Execute with the exact same on/off
// verbs the TCP control server and MQTT bridge use, so a PLC driving a
// register is indistinguishable from a client on the wire protocol.
type Server struct {
	cfg    *Config
	engine *control.Engine
	logger *slog.Logger
	mb     *mbserver.Server
}

// NewServer creates a new Modbus TCP bridge.
func NewServer(cfg *Config, engine *control.Engine, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		engine: engine,
		logger: logger,
	}
}

// Start starts the Modbus TCP server.
func (s *Server) Start() error {
	s.mb = mbserver.NewServer()

	s.mb.RegisterFunctionHandler(3, s.handleReadHoldingRegisters)    // FC03
	s.mb.RegisterFunctionHandler(6, s.handleWriteSingleRegister)     // FC06
	s.mb.RegisterFunctionHandler(16, s.handleWriteMultipleRegisters) // FC16
	s.mb.RegisterFunctionHandler(1, s.handleReadCoils)               // FC01
	s.mb.RegisterFunctionHandler(5, s.handleWriteSingleCoil)         // FC05

	addr := s.cfg.Port
	if addr == "" {
		addr = ":502"
	}

	s.logger.Info("modbus: server starting", "addr", addr)

	go func() {
		if err := s.mb.ListenTCP(addr); err != nil {
			s.logger.Error("modbus: server error", "err", err)
		}
	}()

	return nil
}

// Stop stops the Modbus TCP server.
func (s *Server) Stop() {
	if s.mb != nil {
		s.mb.Close()
		s.logger.Info("modbus: server stopped")
	}
}

// FC03: Read Holding Registers (outward brightness per channel, 0 while
// the channel is off).
func (s *Server) handleReadHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	startAddr := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])

	if startAddr+quantity > lightstate.NumChannels {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	states := s.engine.Table.Snapshot()

	resp := make([]byte, 1+quantity*2)
	resp[0] = byte(quantity * 2) // byte count

	for i := uint16(0); i < quantity; i++ {
		ch := startAddr + i
		var val uint16
		if states[ch].On {
			val = uint16(states[ch].Brightness)
		}
		binary.BigEndian.PutUint16(resp[1+i*2:], val)
	}

	return resp, &mbserver.Success
}

// FC06: Write Single Register (single DMX channel brightness).
func (s *Server) handleWriteSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	if addr >= lightstate.NumChannels {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	if value > 255 {
		value = 255
	}

	if err := s.writeChannel(int(addr), uint8(value)); err != nil {
		s.logger.Warn("modbus: write failed", "ch", addr, "err", err)
		return []byte{}, &mbserver.SlaveDeviceFailure
	}

	s.logger.Debug("modbus: write", "ch", addr, "value", value)

	return data[:4], &mbserver.Success
}

// FC16: Write Multiple Registers (multiple DMX channels).
func (s *Server) handleWriteMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	startAddr := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])
	byteCount := data[4]

	if startAddr+quantity > lightstate.NumChannels {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	if int(byteCount) != int(quantity)*2 || len(data) < 5+int(byteCount) {
		return []byte{}, &mbserver.IllegalDataValue
	}

	for i := uint16(0); i < quantity; i++ {
		value := binary.BigEndian.Uint16(data[5+i*2:])
		if value > 255 {
			value = 255
		}
		ch := startAddr + i
		if err := s.writeChannel(int(ch), uint8(value)); err != nil {
			s.logger.Warn("modbus: write failed", "ch", ch, "err", err)
		}
	}

	s.logger.Debug("modbus: write multiple", "start", startAddr, "count", quantity)

	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], startAddr)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return resp, &mbserver.Success
}

// writeChannel turns a register value into the same on/off command the
// wire protocol would issue for it: 0 switches the channel off (preserving
// its brightness per §4.4), any other value switches it on at that
// brightness, both using the default transition time.
func (s *Server) writeChannel(ch int, value uint8) error {
	if value == 0 {
		_, err := s.engine.Execute(control.Command{Verb: control.VerbOff, Channel: ch})
		return err
	}
	_, err := s.engine.Execute(control.Command{
		Verb:          control.VerbOn,
		Channel:       ch,
		HasBrightness: true,
		Brightness:    value,
	})
	return err
}

// FC01: Read Coils. Coil 0 = DMX output enabled, coil 1 always reads back
// 0 (blackout is write-only).
func (s *Server) handleReadCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	startAddr := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])

	if startAddr+quantity > 2 {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	var coils byte
	if startAddr == 0 && s.engine.Enabler != nil && s.engine.Enabler.IsEnabled() {
		coils |= 0x01
	}

	resp := []byte{1, coils} // byte count + coils byte
	return resp, &mbserver.Success
}

// FC05: Write Single Coil. Coil 0 enables/disables DMX frame
// transmission without touching the table. Coil 1 written true triggers
// a blackout: every active channel is turned off over the default
// transition time.
func (s *Server) handleWriteSingleCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])
	on := value == 0xFF00

	switch addr {
	case 0:
		if s.engine.Enabler != nil {
			s.engine.Enabler.SetEnabled(on)
		}
		s.logger.Info("modbus: output enable set", "enabled", on)
	case 1:
		if on {
			for ch := 0; ch < s.engine.Table.ActiveChannels; ch++ {
				if _, err := s.engine.Execute(control.Command{Verb: control.VerbOff, Channel: ch}); err != nil {
					s.logger.Warn("modbus: blackout failed", "ch", ch, "err", err)
				}
			}
			s.logger.Info("modbus: blackout triggered")
		}
	default:
		return []byte{}, &mbserver.IllegalDataAddress
	}

	return data[:4], &mbserver.Success
}

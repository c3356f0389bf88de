// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package dmxout

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DMX-512 line parameters: 250000 baud, 8 data bits, no parity, 2 stop
// bits. 250000 isn't one of the standard Bxxx termios constants, so the
// rate is set via BOTHER on a termios2 struct (TCGETS2/TCSETS2) rather
// than the portable termios1 ioctls.
const dmxBaud = 250000

// Linux ioctl request numbers not exposed by golang.org/x/sys/unix on
// every architecture. Values match asm-generic/ioctls.h and
// asm-generic/termbits.h.
const (
	tcgets2 = 0x802c542a
	tcsets2 = 0x402c542b
	bother  = 0x1000
)

// termios2 mirrors struct termios2 from asm-generic/termbits.h, used to
// request an arbitrary input/output speed via BOTHER.
type termios2 struct {
	Iflag  uint32
	Oflag  uint32
	Cflag  uint32
	Lflag  uint32
	Line   uint8
	Cc     [19]uint8
	Ispeed uint32
	Ospeed uint32
}

const (
	breakDuration = 176 * time.Microsecond // DMX BREAK, >= 92us required
	mabDuration   = 16 * time.Microsecond  // mark-after-break, >= 12us required
)

// serialAdapter is the real, Linux-specific adapter implementation: a raw
// tty fd configured with termios2 and driven with TIOCSBRK/TIOCCBRK for
// BREAK/MAB framing, following the reference engine's "call the
// line-property setter twice per frame" device lifecycle note.
type serialAdapter struct {
	path string
	fd   int
}

func newSerialAdapter(path string) *serialAdapter {
	return &serialAdapter{path: path, fd: -1}
}

func (s *serialAdapter) Open() error {
	fd, err := unix.Open(s.path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("dmxout: open %s: %w", s.path, err)
	}

	t := termios2{
		Cflag:  unix.CS8 | unix.CSTOPB | unix.CLOCAL | unix.CREAD | uint32(bother),
		Ispeed: dmxBaud,
		Ospeed: dmxBaud,
	}
	if err := ioctl(fd, tcsets2, unsafe.Pointer(&t)); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("dmxout: configure %s: %w", s.path, err)
	}

	// Clear O_NONBLOCK now that the line is configured; frame writes
	// should block briefly rather than short-write under load.
	if err := unix.SetNonblock(fd, false); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("dmxout: clear nonblock on %s: %w", s.path, err)
	}

	s.fd = fd
	return nil
}

func (s *serialAdapter) Probe() error {
	if s.fd < 0 {
		return fmt.Errorf("dmxout: probe on closed adapter")
	}
	var t termios2
	return ioctl(s.fd, tcgets2, unsafe.Pointer(&t))
}

func (s *serialAdapter) WriteFrame(frame []byte) error {
	if s.fd < 0 {
		return fmt.Errorf("dmxout: write on closed adapter")
	}
	if err := unix.IoctlSetInt(s.fd, unix.TIOCSBRK, 0); err != nil {
		return fmt.Errorf("dmxout: assert break: %w", err)
	}
	time.Sleep(breakDuration)
	if err := unix.IoctlSetInt(s.fd, unix.TIOCCBRK, 0); err != nil {
		return fmt.Errorf("dmxout: clear break: %w", err)
	}
	time.Sleep(mabDuration)

	if _, err := unix.Write(s.fd, frame); err != nil {
		return fmt.Errorf("dmxout: write frame: %w", err)
	}
	return nil
}

func (s *serialAdapter) Close() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	return unix.Close(fd)
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return os.NewSyscallError("ioctl", errno)
	}
	return nil
}

// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package i2c talks to devices on a Linux i2c-dev bus. A Bus is a shared
// resource: callers take it with a bounded wait, do their transfers and
// release it.
package i2c

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

// from linux/i2c-dev.h
const ioctlSlave = 0x0703

var (
	ErrBusTimeout = errors.New("i2c: bus busy")
	ErrClosed     = errors.New("i2c: bus closed")
)

type Bus struct {
	path string
	sem  *semaphore.Weighted

	mu   sync.Mutex // guards fd and addr between Open and Close
	fd   int
	addr uint16
}

func Open(path string) (*Bus, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Bus{
		path: path,
		sem:  semaphore.NewWeighted(1),
		fd:   fd,
	}, nil
}

func (b *Bus) Path() string { return b.path }

// Acquire takes exclusive use of the bus, waiting at most d.
func (b *Bus) Acquire(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s: %w", b.path, ErrBusTimeout)
	}
	return nil
}

func (b *Bus) Release() {
	b.sem.Release(1)
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return nil
	}
	err := unix.Close(b.fd)
	b.fd = -1
	return err
}

// Dev returns a handle for the device at addr. Transfers through it assume
// the caller holds the bus.
func (b *Bus) Dev(addr uint16) *Device {
	return &Device{bus: b, addr: addr}
}

func (b *Bus) selectAddr(addr uint16) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return -1, ErrClosed
	}
	if b.addr != addr {
		if err := unix.IoctlSetInt(b.fd, ioctlSlave, int(addr)); err != nil {
			return -1, fmt.Errorf("select 0x%02x: %w", addr, err)
		}
		b.addr = addr
	}
	return b.fd, nil
}

// Scan probes every 7-bit address with a one byte read and returns those
// that answered. The caller must hold the bus.
func (b *Bus) Scan() []uint16 {
	var found []uint16
	buf := make([]byte, 1)
	for addr := uint16(0x08); addr < 0x78; addr++ {
		if n, err := b.Dev(addr).Read(buf); err == nil && n == 1 {
			found = append(found, addr)
		}
	}
	return found
}

type Device struct {
	bus  *Bus
	addr uint16
}

func (d *Device) Addr() uint16 { return d.addr }

func (d *Device) Write(p []byte) error {
	fd, err := d.bus.selectAddr(d.addr)
	if err != nil {
		return err
	}
	n, err := unix.Write(fd, p)
	if err != nil {
		return fmt.Errorf("write 0x%02x: %w", d.addr, err)
	}
	if n != len(p) {
		return fmt.Errorf("write 0x%02x: short write %d/%d", d.addr, n, len(p))
	}
	return nil
}

// Read fills p and returns how many bytes the device delivered.
func (d *Device) Read(p []byte) (int, error) {
	fd, err := d.bus.selectAddr(d.addr)
	if err != nil {
		return 0, err
	}
	n, err := unix.Read(fd, p)
	if err != nil {
		return 0, fmt.Errorf("read 0x%02x: %w", d.addr, err)
	}
	return n, nil
}

// ReadReg writes reg then reads len(p) bytes.
func (d *Device) ReadReg(reg byte, p []byte) (int, error) {
	if err := d.Write([]byte{reg}); err != nil {
		return 0, err
	}
	return d.Read(p)
}

func (d *Device) WriteReg(reg, val byte) error {
	return d.Write([]byte{reg, val})
}

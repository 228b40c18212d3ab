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

package sensors

import (
	"encoding/binary"
	"fmt"
)

const (
	mpuRegPowerMgmt = 0x6B
	mpuRegAccel     = 0x3B
)

// Device is one addressed chip on a shared bus.
type Device interface {
	Write(p []byte) error
	Read(p []byte) (int, error)
}

type Accel struct {
	X, Y, Z int16
}

type MPU6050 struct {
	dev Device
}

func NewMPU6050(dev Device) *MPU6050 {
	return &MPU6050{dev: dev}
}

// Wake clears the sleep bit so the accelerometer starts converting.
func (m *MPU6050) Wake() error {
	if err := m.dev.Write([]byte{mpuRegPowerMgmt, 0x00}); err != nil {
		return fmt.Errorf("mpu6050 wake: %w", err)
	}
	return nil
}

func (m *MPU6050) ReadAccel() (Accel, error) {
	if err := m.dev.Write([]byte{mpuRegAccel}); err != nil {
		return Accel{}, fmt.Errorf("mpu6050 select accel: %w", err)
	}
	buf := make([]byte, 6)
	n, err := m.dev.Read(buf)
	if err != nil {
		return Accel{}, fmt.Errorf("mpu6050 read accel: %w", err)
	}
	if n != len(buf) {
		return Accel{}, fmt.Errorf("mpu6050 read accel: %w (%d/6)", ErrShortRead, n)
	}
	return Accel{
		X: int16(binary.BigEndian.Uint16(buf[0:])),
		Y: int16(binary.BigEndian.Uint16(buf[2:])),
		Z: int16(binary.BigEndian.Uint16(buf[4:])),
	}, nil
}

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

package actuation

import (
	"bedguard/internal/config"
	"context"
	"fmt"
	"time"
)

// ModbusWriter is the subset of the Modbus client the backend needs.
type ModbusWriter interface {
	WriteCoil(ctx context.Context, addr uint16, on bool) error
	WriteRegister(ctx context.Context, addr, value uint16) error
}

// ModbusBackend drives a networked servo/IO module: two coils for the
// alarms and one holding register for the servo angle.
type ModbusBackend struct {
	client  ModbusWriter
	cfg     config.ModbusConfig
	timeout time.Duration

	lastServo int
}

func NewModbusBackend(client ModbusWriter, cfg config.ModbusConfig) *ModbusBackend {
	return &ModbusBackend{
		client:    client,
		cfg:       cfg,
		timeout:   cfg.Timeout,
		lastServo: -1,
	}
}

func (b *ModbusBackend) coil(addr uint16) Switch {
	return func(on bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := b.client.WriteCoil(ctx, addr, on); err != nil {
			return fmt.Errorf("coil %d: %w", addr, err)
		}
		return nil
	}
}

func (b *ModbusBackend) servo(deg int) error {
	deg = min(max(deg, 0), 180)
	if deg == b.lastServo {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.client.WriteRegister(ctx, b.cfg.ServoRegister, uint16(deg)); err != nil {
		// force a rewrite next cycle
		b.lastServo = -1
		return fmt.Errorf("servo register %d: %w", b.cfg.ServoRegister, err)
	}
	b.lastServo = deg
	return nil
}

func (b *ModbusBackend) Outputs() Outputs {
	return Outputs{
		Light:  b.coil(b.cfg.LEDCoil),
		Buzzer: b.coil(b.cfg.BuzzerCoil),
		Servo:  b.servo,
	}
}

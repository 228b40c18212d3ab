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

// Package pwm drives a hobby servo through the Linux sysfs PWM interface.
package pwm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const sysfsRoot = "/sys/class/pwm"

// Servo maps 0..180 degrees linearly onto [PulseMin, PulseMax].
type Servo struct {
	dir      string
	period   time.Duration
	pulseMin time.Duration
	pulseMax time.Duration
	angle    int
}

type Config struct {
	Chip     int
	Channel  int
	Period   time.Duration
	PulseMin time.Duration
	PulseMax time.Duration
}

// OpenServo exports the channel if needed, programs the period and enables
// the output.
func OpenServo(cfg Config) (*Servo, error) {
	return openServo(sysfsRoot, cfg)
}

func openServo(root string, cfg Config) (*Servo, error) {
	if cfg.PulseMin >= cfg.PulseMax || cfg.PulseMax >= cfg.Period {
		return nil, errors.New("pwm: need pulse_min < pulse_max < period")
	}
	chip := filepath.Join(root, fmt.Sprintf("pwmchip%d", cfg.Chip))
	dir := filepath.Join(chip, fmt.Sprintf("pwm%d", cfg.Channel))

	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := write(filepath.Join(chip, "export"), cfg.Channel); err != nil {
			return nil, err
		}
	}

	s := &Servo{
		dir:      dir,
		period:   cfg.Period,
		pulseMin: cfg.PulseMin,
		pulseMax: cfg.PulseMax,
		angle:    -1,
	}
	if err := write(filepath.Join(dir, "period"), int(cfg.Period.Nanoseconds())); err != nil {
		return nil, err
	}
	if err := write(filepath.Join(dir, "enable"), 1); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Servo) Pulse(deg int) time.Duration {
	deg = min(max(deg, 0), 180)
	span := s.pulseMax - s.pulseMin
	return s.pulseMin + span*time.Duration(deg)/180
}

// SetAngle skips the write when the servo is already there.
func (s *Servo) SetAngle(deg int) error {
	deg = min(max(deg, 0), 180)
	if deg == s.angle {
		return nil
	}
	if err := write(filepath.Join(s.dir, "duty_cycle"), int(s.Pulse(deg).Nanoseconds())); err != nil {
		return err
	}
	s.angle = deg
	return nil
}

func (s *Servo) Close() error {
	return write(filepath.Join(s.dir, "enable"), 0)
}

func write(path string, v int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(v)), 0o644); err != nil {
		return fmt.Errorf("pwm: %w", err)
	}
	return nil
}

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
	"bedguard/pkg/gpio"
	"bedguard/pkg/pwm"
	"errors"
	"fmt"
)

// GPIOBackend drives the LED and buzzer from GPIO lines and the servo
// from a PWM channel.
type GPIOBackend struct {
	led    *gpio.Output
	buzzer *gpio.Output
	servo  *pwm.Servo
}

func NewGPIOBackend(chip *gpio.Chip, cfg config.GPIOConfig) (*GPIOBackend, error) {
	led, err := chip.Output(cfg.LEDLine)
	if err != nil {
		return nil, fmt.Errorf("led: %w", err)
	}
	buzzer, err := chip.Output(cfg.BuzzerLine)
	if err != nil {
		return nil, fmt.Errorf("buzzer: %w", err)
	}
	servo, err := pwm.OpenServo(pwm.Config{
		Chip:     cfg.PWMChip,
		Channel:  cfg.PWMChannel,
		Period:   cfg.PWMPeriod,
		PulseMin: cfg.PulseMin,
		PulseMax: cfg.PulseMax,
	})
	if err != nil {
		return nil, fmt.Errorf("servo: %w", err)
	}
	return &GPIOBackend{led: led, buzzer: buzzer, servo: servo}, nil
}

func (b *GPIOBackend) Outputs() Outputs {
	return Outputs{
		Light:  b.led.Set,
		Buzzer: b.buzzer.Set,
		Servo:  b.servo.SetAngle,
	}
}

// Close disables the PWM output. The GPIO lines belong to the chip.
func (b *GPIOBackend) Close() error {
	return errors.Join(b.led.Set(false), b.buzzer.Set(false), b.servo.Close())
}

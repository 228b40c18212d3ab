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
	"errors"
	"fmt"
)

var (
	ErrShortRead  = errors.New("short read")
	ErrSensorBusy = errors.New("status reports busy")
)

var (
	ahtSoftReset = []byte{0xBA}
	ahtCalibrate = []byte{0xE1, 0x08, 0x00}
	ahtTrigger   = []byte{0xAC, 0x33, 0x00}
)

// 20-bit fixed point full scale
const ahtScale = 1 << 20

type Climate struct {
	Temperature float64
	Humidity    float64
}

// AHT10 is driven in two phases: Trigger starts a conversion, Result
// collects it once the sensor has settled. The bus may be released in
// between.
type AHT10 struct {
	dev Device
}

func NewAHT10(dev Device) *AHT10 {
	return &AHT10{dev: dev}
}

func (a *AHT10) Reset() error {
	if err := a.dev.Write(ahtSoftReset); err != nil {
		return fmt.Errorf("aht10 reset: %w", err)
	}
	return nil
}

func (a *AHT10) Calibrate() error {
	if err := a.dev.Write(ahtCalibrate); err != nil {
		return fmt.Errorf("aht10 calibrate: %w", err)
	}
	return nil
}

func (a *AHT10) Trigger() error {
	if err := a.dev.Write(ahtTrigger); err != nil {
		return fmt.Errorf("aht10 trigger: %w", err)
	}
	return nil
}

func (a *AHT10) Result() (Climate, error) {
	buf := make([]byte, 6)
	n, err := a.dev.Read(buf)
	if err != nil {
		return Climate{}, fmt.Errorf("aht10 read: %w", err)
	}
	return decodeAHT10(buf[:n])
}

func decodeAHT10(d []byte) (Climate, error) {
	if len(d) != 6 {
		return Climate{}, fmt.Errorf("aht10: %w (%d/6)", ErrShortRead, len(d))
	}
	if d[0]&0x80 != 0 {
		return Climate{}, fmt.Errorf("aht10: %w (status 0x%02X)", ErrSensorBusy, d[0])
	}
	hum := uint32(d[1])<<12 | uint32(d[2])<<4 | uint32(d[3])>>4
	temp := uint32(d[3]&0x0F)<<16 | uint32(d[4])<<8 | uint32(d[5])
	return Climate{
		Humidity:    float64(hum) / ahtScale * 100,
		Temperature: float64(temp)/ahtScale*200 - 50,
	}, nil
}

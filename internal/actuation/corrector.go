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
	"bedguard/pkg/logger"
	"math"
)

// Corrector computes the servo position that pushes the bed back toward
// the target angle. Proportional only: the error is clamped, offset
// around the neutral position, then clamped to the servo range.
type Corrector struct {
	Target    float64
	Gain      float64
	MaxError  float64
	Neutral   float64
	OutputMin float64
	OutputMax float64

	log *logger.Logger
}

func NewCorrector(target float64) *Corrector {
	return &Corrector{
		Target:    target,
		Gain:      1,
		MaxError:  30,
		Neutral:   90,
		OutputMin: 0,
		OutputMax: 180,
		log:       logger.New("Corrector"),
	}
}

// Position returns the servo angle for the measured tilt.
func (c *Corrector) Position(angle float64) int {
	err := c.Target - angle
	err = math.Max(-c.MaxError, math.Min(c.MaxError, err))

	out := c.Neutral + c.Gain*err
	out = math.Max(c.OutputMin, math.Min(c.OutputMax, out))

	c.log.Debug("angle=%.2f, err=%.2f, output=%.1f", angle, err, out)
	return int(out)
}

// NeutralPosition is where the servo rests when no correction is needed.
func (c *Corrector) NeutralPosition() int {
	return int(c.Neutral)
}

// --- Fluent "With" setters ---

func (c *Corrector) WithGain(k float64) *Corrector {
	c.Gain = k
	return c
}

func (c *Corrector) WithErrorLimit(max float64) *Corrector {
	c.MaxError = max
	return c
}

func (c *Corrector) WithOutputLimits(min, max float64) *Corrector {
	c.OutputMin = min
	c.OutputMax = max
	return c
}

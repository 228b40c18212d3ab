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
	"fmt"
	"math"
)

// Axes names the two accelerometer axes spanning the tilt plane.
// The tilt is atan2(first, second) in degrees.
type Axes [2]int

// ParseAxes accepts "yz", "xz" and so on.
func ParseAxes(s string) (Axes, error) {
	if len(s) != 2 || s[0] == s[1] {
		return Axes{}, fmt.Errorf("axes %q: need two distinct axes", s)
	}
	var a Axes
	for i := range 2 {
		switch s[i] {
		case 'x':
			a[i] = 0
		case 'y':
			a[i] = 1
		case 'z':
			a[i] = 2
		default:
			return Axes{}, fmt.Errorf("axes %q: unknown axis %q", s, s[i])
		}
	}
	return a, nil
}

func (a Axes) Tilt(acc Accel) float64 {
	v := [3]float64{float64(acc.X), float64(acc.Y), float64(acc.Z)}
	return math.Atan2(v[a[0]], v[a[1]]) * 180 / math.Pi
}

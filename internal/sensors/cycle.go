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

// Phase of the slow humidity/temperature measurement.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTriggered
	PhaseSettling
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseTriggered:
		return "triggered"
	case PhaseSettling:
		return "settling"
	case PhaseReady:
		return "ready"
	}
	return "unknown"
}

// MeasurementCycle decides when the slow measurement is due and tracks
// how far it got.
type MeasurementCycle struct {
	every int
	count int
	phase Phase
}

func NewMeasurementCycle(every int) *MeasurementCycle {
	if every < 1 {
		every = 1
	}
	return &MeasurementCycle{every: every}
}

// Due counts one fast sample and reports whether this cycle also runs the
// slow measurement.
func (m *MeasurementCycle) Due() bool {
	m.count++
	if m.count >= m.every {
		m.count = 0
		return true
	}
	return false
}

func (m *MeasurementCycle) Phase() Phase { return m.phase }

func (m *MeasurementCycle) advance(p Phase) { m.phase = p }

// reset drops back to idle when a new measurement starts.
func (m *MeasurementCycle) reset() { m.phase = PhaseIdle }

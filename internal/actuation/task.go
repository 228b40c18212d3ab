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
	"bedguard/internal/state"
	"bedguard/pkg/logger"
	"context"
	"errors"
)

// Switch is a callback to drive an on/off output.
type Switch func(on bool) error

// Positioner is a callback to move the corrective actuator, in degrees.
type Positioner func(deg int) error

type Outputs struct {
	Light  Switch
	Buzzer Switch
	Servo  Positioner
}

type Mode int

const (
	ModeNormal Mode = iota
	ModeAlarm
)

func (m Mode) String() string {
	if m == ModeAlarm {
		return "ALARM"
	}
	return "NORMAL"
}

// Task turns the shared snapshot into alarm outputs and a servo position.
// The mode is a pure function of AlarmActive each cycle.
type Task struct {
	store *state.Store
	out   Outputs
	corr  *Corrector
	log   *logger.Logger

	mode        Mode
	buzzerCount int
	buzzerOn    bool
}

func New(store *state.Store, out Outputs, corr *Corrector) *Task {
	return &Task{
		store: store,
		out:   out,
		corr:  corr,
		log:   logger.New("Actuation"),
	}
}

func (t *Task) Mode() Mode { return t.mode }

func (t *Task) Tick(ctx context.Context) {
	snap, _ := t.store.Read()
	t.apply(snap)
}

func (t *Task) apply(snap state.Snapshot) {
	mode := ModeNormal
	if snap.AlarmActive {
		mode = ModeAlarm
	}
	if mode != t.mode {
		t.log.Info("%s -> %s (angle %.1f)", t.mode, mode, snap.TiltAngle)
		t.mode = mode
	}

	var errs []error
	if mode == ModeAlarm {
		errs = append(errs, t.out.Light(true))

		t.buzzerCount++
		if t.buzzerCount%2 == 0 {
			t.buzzerOn = !t.buzzerOn
			errs = append(errs, t.out.Buzzer(t.buzzerOn))
		}

		errs = append(errs, t.out.Servo(t.corr.Position(snap.TiltAngle)))
	} else {
		errs = append(errs, t.park()...)
	}

	if err := errors.Join(errs...); err != nil {
		t.log.Error("output: %v", err)
	}
}

// park turns both alarms off and centres the servo.
func (t *Task) park() []error {
	t.buzzerCount = 0
	t.buzzerOn = false
	return []error{
		t.out.Light(false),
		t.out.Buzzer(false),
		t.out.Servo(t.corr.NeutralPosition()),
	}
}

// Park is called on shutdown.
func (t *Task) Park() error {
	t.mode = ModeNormal
	return errors.Join(t.park()...)
}

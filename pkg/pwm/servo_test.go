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

package pwm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fakeSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "pwmchip0", "pwm2")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return root
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(b))
}

var servoCfg = Config{
	Chip:     0,
	Channel:  2,
	Period:   20 * time.Millisecond,
	PulseMin: 500 * time.Microsecond,
	PulseMax: 2500 * time.Microsecond,
}

func TestServo_SetAngle(t *testing.T) {
	root := fakeSysfs(t)
	s, err := openServo(root, servoCfg)
	if err != nil {
		t.Fatalf("openServo: %v", err)
	}
	dir := filepath.Join(root, "pwmchip0", "pwm2")

	if got := readFile(t, filepath.Join(dir, "period")); got != "20000000" {
		t.Errorf("period = %s", got)
	}
	if got := readFile(t, filepath.Join(dir, "enable")); got != "1" {
		t.Errorf("enable = %s", got)
	}

	tests := []struct {
		deg  int
		want string
	}{
		{90, "1500000"},
		{0, "500000"},
		{180, "2500000"},
		{-20, "500000"},
		{270, "2500000"},
	}
	for _, tt := range tests {
		if err := s.SetAngle(tt.deg); err != nil {
			t.Fatalf("SetAngle(%d): %v", tt.deg, err)
		}
		if got := readFile(t, filepath.Join(dir, "duty_cycle")); got != tt.want {
			t.Errorf("SetAngle(%d) duty = %s, want %s", tt.deg, got, tt.want)
		}
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(dir, "enable")); got != "0" {
		t.Errorf("enable after close = %s", got)
	}
}

func TestOpenServo_BadPulses(t *testing.T) {
	cfg := servoCfg
	cfg.PulseMin, cfg.PulseMax = cfg.PulseMax, cfg.PulseMin
	if _, err := openServo(fakeSysfs(t), cfg); err == nil {
		t.Error("inverted pulses accepted")
	}
}

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

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TaskCycle("acquisition", 0.002)
	m.TaskCycle("acquisition", 0.003)
	m.LockTimeout("state")
	m.SensorError("aht10")
	m.PublishFailure("hospital/cama/angulo")
	m.WifiAttempt(false)
	m.WifiAttempt(false)
	m.WifiAttempt(true)
	m.Tilt(12.5, true)

	if got := testutil.ToFloat64(m.taskCycles.WithLabelValues("acquisition")); got != 2 {
		t.Errorf("task cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.lockTimeouts.WithLabelValues("state")); got != 1 {
		t.Errorf("lock timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sensorErrors.WithLabelValues("aht10")); got != 1 {
		t.Errorf("sensor errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.wifiAttempts.WithLabelValues("failure")); got != 2 {
		t.Errorf("wifi failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.tilt); got != 12.5 {
		t.Errorf("tilt = %v, want 12.5", got)
	}
	if got := testutil.ToFloat64(m.alarm); got != 1 {
		t.Errorf("alarm = %v, want 1", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.TaskCycle("x", 1)
	m.LockTimeout("x")
	m.SensorError("x")
	m.PublishFailure("x")
	m.WifiAttempt(true)
	m.Tilt(1, false)
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.LockTimeout("sensor-bus")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `bedguard_lock_timeouts_total{lock="sensor-bus"} 1`) {
		t.Errorf("exposition missing lock timeout:\n%s", body)
	}
}

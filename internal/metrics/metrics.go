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
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
// Tests and tools that don't care about metrics pass nil.
type Metrics struct {
	taskCycles      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	lockTimeouts    *prometheus.CounterVec
	sensorErrors    *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	wifiAttempts    *prometheus.CounterVec
	tilt            prometheus.Gauge
	alarm           prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		taskCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bedguard_task_cycles_total",
			Help: "Completed periodic task cycles.",
		}, []string{"task"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bedguard_task_duration_seconds",
			Help:    "Wall time of one periodic task cycle.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"task"}),
		lockTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bedguard_lock_timeouts_total",
			Help: "Bounded lock waits that gave up and skipped their operation.",
		}, []string{"lock"}),
		sensorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bedguard_sensor_errors_total",
			Help: "Sensor reads that failed or reported a bad status.",
		}, []string{"sensor"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bedguard_publish_failures_total",
			Help: "Telemetry payloads that could not be encrypted or published.",
		}, []string{"topic"}),
		wifiAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bedguard_wifi_attempts_total",
			Help: "Wireless link connection attempts by outcome.",
		}, []string{"result"}),
		tilt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bedguard_tilt_angle_degrees",
			Help: "Last measured bed tilt.",
		}),
		alarm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bedguard_alarm_active",
			Help: "1 while the tilt is outside the safe range.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.taskCycles,
		m.taskDuration,
		m.lockTimeouts,
		m.sensorErrors,
		m.publishFailures,
		m.wifiAttempts,
		m.tilt,
		m.alarm,
	)
	return m
}

func (m *Metrics) TaskCycle(task string, seconds float64) {
	if m == nil {
		return
	}
	m.taskCycles.WithLabelValues(task).Inc()
	m.taskDuration.WithLabelValues(task).Observe(seconds)
}

func (m *Metrics) LockTimeout(lock string) {
	if m == nil {
		return
	}
	m.lockTimeouts.WithLabelValues(lock).Inc()
}

func (m *Metrics) SensorError(sensor string) {
	if m == nil {
		return
	}
	m.sensorErrors.WithLabelValues(sensor).Inc()
}

func (m *Metrics) PublishFailure(topic string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(topic).Inc()
}

func (m *Metrics) WifiAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.wifiAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) Tilt(angle float64, alarm bool) {
	if m == nil {
		return
	}
	m.tilt.Set(angle)
	if alarm {
		m.alarm.Set(1)
	} else {
		m.alarm.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

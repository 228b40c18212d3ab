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

// Package state holds the one snapshot every task shares. All access goes
// through Store, whose lock is only ever waited on for a bounded time: a
// caller that cannot get it in time skips the operation.
package state

import (
	"bedguard/internal/metrics"
	"bedguard/pkg/logger"
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

type Snapshot struct {
	TiltAngle       float64
	Temperature     float64
	Humidity        float64
	AlarmActive     bool
	WiFiConnected   bool
	BrokerConnected bool
	ReadingsValid   bool
}

// SafeRange reports whether angle lies inside [min, max].
type SafeRange struct {
	Min, Max float64
}

func (r SafeRange) Contains(angle float64) bool {
	return r.Min <= angle && angle <= r.Max
}

type Store struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	safe    SafeRange
	metrics *metrics.Metrics
	log     *logger.Logger

	snap     Snapshot
	lastRead atomic.Pointer[Snapshot]
}

// New fails when timeout is not positive: the store must never wait
// forever, and a zero wait would make every access fail.
func New(timeout time.Duration, safe SafeRange) (*Store, error) {
	if timeout <= 0 {
		return nil, errors.New("state: lock timeout must be positive")
	}
	if safe.Min > safe.Max {
		return nil, errors.New("state: safe range min above max")
	}
	s := &Store{
		sem:     semaphore.NewWeighted(1),
		timeout: timeout,
		safe:    safe,
		log:     logger.New("State"),
	}
	s.lastRead.Store(&Snapshot{})
	return s, nil
}

func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

func (s *Store) acquire() bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.metrics.LockTimeout("state")
		return false
	}
	return true
}

func (s *Store) release() {
	s.sem.Release(1)
}

// Read returns a copy of the current snapshot. On timeout it returns the
// last snapshot it successfully handed out, and false.
func (s *Store) Read() (Snapshot, bool) {
	if !s.acquire() {
		s.log.Debug("read timed out, serving previous snapshot")
		return *s.lastRead.Load(), false
	}
	snap := s.snap
	s.release()
	s.lastRead.Store(&snap)
	return snap, true
}

// ReadInto copies the snapshot into dst. dst is untouched on timeout.
func (s *Store) ReadInto(dst *Snapshot) bool {
	if !s.acquire() {
		return false
	}
	snap := s.snap
	s.release()
	*dst = snap
	s.lastRead.Store(&snap)
	return true
}

// UpdateSensed writes the sensed values and derives AlarmActive from angle
// in the same critical section. ReadingsValid never reverts once set.
func (s *Store) UpdateSensed(angle, temp, hum float64, valid bool) bool {
	if !s.acquire() {
		s.log.Debug("sensed update skipped: lock timeout")
		return false
	}
	s.snap.TiltAngle = angle
	s.snap.Temperature = temp
	s.snap.Humidity = hum
	s.snap.ReadingsValid = s.snap.ReadingsValid || valid
	s.snap.AlarmActive = !s.safe.Contains(angle)
	alarm := s.snap.AlarmActive
	s.release()

	s.metrics.Tilt(angle, alarm)
	return true
}

func (s *Store) UpdateConnectivity(wifi, broker bool) bool {
	if !s.acquire() {
		s.log.Debug("connectivity update skipped: lock timeout")
		return false
	}
	s.snap.WiFiConnected = wifi
	s.snap.BrokerConnected = broker
	s.release()
	return true
}

// UpdateWifi sets the link flag and carries the stored broker flag through.
func (s *Store) UpdateWifi(wifi bool) bool {
	if !s.acquire() {
		s.log.Debug("wifi update skipped: lock timeout")
		return false
	}
	s.snap.WiFiConnected = wifi
	s.release()
	return true
}

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

package network

import (
	"bedguard/internal/config"
	"bedguard/internal/metrics"
	"bedguard/internal/state"
	"bedguard/pkg/logger"
	"context"
	"time"
)

// Link is the wireless link layer.
type Link interface {
	// Up reports whether the link is currently associated.
	Up(ctx context.Context) (bool, error)
	// Connect makes one association attempt; ctx bounds it.
	Connect(ctx context.Context) error
	// Init powers the radio up, Deinit powers it down.
	Init(ctx context.Context) error
	Deinit(ctx context.Context) error
}

// Manager keeps the wireless link up. When the link is down it makes a
// bounded number of attempts, fully re-initialising the radio between
// them, and otherwise leaves the device running offline until the next
// period.
type Manager struct {
	link    Link
	store   *state.Store
	cfg     config.WifiConfig
	metrics *metrics.Metrics
	log     *logger.Logger
	sleep   func(ctx context.Context, d time.Duration) bool

	up bool
}

func NewManager(link Link, store *state.Store, cfg config.WifiConfig) *Manager {
	return &Manager{
		link:  link,
		store: store,
		cfg:   cfg,
		log:   logger.New("Network"),
		sleep: sleepCtx,
	}
}

func (m *Manager) WithMetrics(mt *metrics.Metrics) *Manager {
	m.metrics = mt
	return m
}

func (m *Manager) Connected() bool { return m.up }

// Tick runs one resilience cycle.
func (m *Manager) Tick(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
	up, err := m.link.Up(cctx)
	cancel()
	if err != nil {
		m.log.Error("link check: %v", err)
	}

	if up {
		if !m.up {
			m.log.Info("Link %s is up", m.cfg.Interface)
			m.up = true
			m.store.UpdateWifi(true)
		}
		return
	}

	if m.up {
		m.log.Warn("Link %s lost", m.cfg.Interface)
	} else {
		m.log.Info("Link %s down, reconnecting...", m.cfg.Interface)
	}
	m.up = m.reconnect(ctx)
	if !m.up {
		m.log.Warn("Offline until next check")
	}
}

// reconnect returns true once an attempt succeeds. Every attempt's
// outcome is written to the store.
func (m *Manager) reconnect(ctx context.Context) bool {
	if err := m.link.Init(ctx); err != nil {
		m.log.Error("radio init: %v", err)
		m.store.UpdateWifi(false)
		return false
	}
	if !m.sleep(ctx, 2*m.cfg.ReinitPause) {
		return false
	}

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		m.log.Info("Attempt %d/%d: connecting to %q", attempt, m.cfg.MaxAttempts, m.cfg.SSID)

		actx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		err := m.link.Connect(actx)
		cancel()

		m.metrics.WifiAttempt(err == nil)
		m.store.UpdateWifi(err == nil)
		if err == nil {
			m.log.Info("Connected to %q", m.cfg.SSID)
			return true
		}
		m.log.Error("attempt %d failed: %v", attempt, err)

		if attempt == m.cfg.MaxAttempts {
			break
		}
		if !m.sleep(ctx, m.cfg.RetryDelay) {
			return false
		}
		if !m.reinit(ctx) {
			return false
		}
	}

	m.log.Error("giving up after %d attempts", m.cfg.MaxAttempts)
	if err := m.link.Deinit(ctx); err != nil {
		m.log.Error("radio deinit: %v", err)
	}
	return false
}

// reinit power-cycles the radio so a half-finished association cannot
// leave it in a bad state.
func (m *Manager) reinit(ctx context.Context) bool {
	if err := m.link.Deinit(ctx); err != nil {
		m.log.Error("radio deinit: %v", err)
	}
	if !m.sleep(ctx, m.cfg.ReinitPause) {
		return false
	}
	if err := m.link.Init(ctx); err != nil {
		m.log.Error("radio reinit: %v", err)
		return false
	}
	return m.sleep(ctx, m.cfg.ReinitPause)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

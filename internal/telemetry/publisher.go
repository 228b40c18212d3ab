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

package telemetry

import (
	"bedguard/internal/codec"
	"bedguard/internal/config"
	"bedguard/internal/metrics"
	"bedguard/internal/state"
	"bedguard/pkg/logger"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Session is one live broker connection.
type Session interface {
	Connected() bool
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Dialer opens a session to addr ("ip:port"). ctx bounds the whole
// connect handshake.
type Dialer func(ctx context.Context, addr string) (Session, error)

// Resolver maps the broker host name to an address.
type Resolver func(ctx context.Context, host string) (string, error)

func LookupHost(ctx context.Context, host string) (string, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	return addrs[0], nil
}

type message struct {
	topic   string
	payload string
}

// Publisher pushes the snapshot to the broker, encrypted, one topic per
// reading. It owns the broker session and never keeps two alive.
type Publisher struct {
	store   *state.Store
	codec   *codec.Codec
	cfg     config.MQTTConfig
	resolve Resolver
	dial    Dialer
	metrics *metrics.Metrics
	log     *logger.Logger
	sleep   func(ctx context.Context, d time.Duration) bool

	session Session
	addr    string
}

func NewPublisher(store *state.Store, c *codec.Codec, cfg config.MQTTConfig, dial Dialer) *Publisher {
	return &Publisher{
		store:   store,
		codec:   c,
		cfg:     cfg,
		resolve: LookupHost,
		dial:    dial,
		log:     logger.New("Telemetry"),
		sleep:   sleepCtx,
	}
}

func (p *Publisher) WithMetrics(m *metrics.Metrics) *Publisher {
	p.metrics = m
	return p
}

func (p *Publisher) WithResolver(r Resolver) *Publisher {
	p.resolve = r
	return p
}

func (p *Publisher) connected() bool {
	return p.session != nil && p.session.Connected()
}

// connectWait is how long a new session may take to come up.
func (p *Publisher) connectWait() time.Duration {
	return time.Duration(p.cfg.ConnectPolls) * p.cfg.PollInterval
}

// Tick runs one publish cycle. It does nothing while the link is down.
func (p *Publisher) Tick(ctx context.Context) {
	snap, _ := p.store.Read()
	if !snap.WiFiConnected {
		return
	}

	if p.connected() {
		// follow the broker if its address moved
		if addr, ok := p.lookup(ctx); ok && addr != p.addr {
			p.log.Info("Broker address changed %s -> %s", p.addr, addr)
			p.closeSession()
			p.open(ctx, addr)
		}
	} else {
		p.log.Info("Broker session down, reconnecting...")
		p.closeSession()
		if addr, ok := p.lookup(ctx); ok {
			p.open(ctx, addr)
		}
	}

	if p.connected() {
		p.publishAll(ctx, snap)
	}

	latest, _ := p.store.Read()
	p.store.UpdateConnectivity(latest.WiFiConnected, p.connected())
}

func (p *Publisher) lookup(ctx context.Context) (string, bool) {
	rctx, cancel := context.WithTimeout(ctx, p.cfg.ResolveTimeout)
	defer cancel()
	addr, err := p.resolve(rctx, p.cfg.Broker)
	if err != nil {
		p.log.Error("resolve %s: %v", p.cfg.Broker, err)
		return "", false
	}
	return addr, true
}

// open dials addr. The caller has already closed any previous session.
func (p *Publisher) open(ctx context.Context, addr string) {
	target := net.JoinHostPort(addr, strconv.Itoa(p.cfg.Port))
	dctx, cancel := context.WithTimeout(ctx, p.connectWait())
	s, err := p.dial(dctx, target)
	cancel()
	if err != nil {
		p.log.Error("connect %s: %v", target, err)
		return
	}
	p.session = s
	p.addr = addr
	p.log.Info("Connected to %s (%s)", p.cfg.Broker, target)
}

func (p *Publisher) closeSession() {
	if p.session == nil {
		return
	}
	if err := p.session.Close(); err != nil {
		p.log.Debug("close previous session: %v", err)
	}
	p.session = nil
	p.addr = ""
}

func (p *Publisher) messages(snap state.Snapshot) []message {
	alarm := p.cfg.AlarmClear
	if snap.AlarmActive {
		alarm = p.cfg.AlarmActive
	}
	t := p.cfg.Topics
	return []message{
		{t.Temperature, fmt.Sprintf("%.1f", snap.Temperature)},
		{t.Humidity, fmt.Sprintf("%.1f", snap.Humidity)},
		{t.Angle, fmt.Sprintf("%.1f", snap.TiltAngle)},
		{t.Alarm, alarm},
		{t.Status, p.cfg.StatusOnline},
	}
}

func (p *Publisher) publishAll(ctx context.Context, snap state.Snapshot) {
	sent := 0
	for _, m := range p.messages(snap) {
		if err := p.publish(ctx, m); err != nil {
			p.metrics.PublishFailure(m.topic)
			p.log.Error("publish %s: %v", m.topic, err)
		} else {
			sent++
		}
		if !p.sleep(ctx, p.cfg.PublishGap) {
			return
		}
	}
	p.log.Info("Published %d/5: T=%.1f H=%.1f A=%.1f alarm=%v",
		sent, snap.Temperature, snap.Humidity, snap.TiltAngle, snap.AlarmActive)
}

// publish encrypts first; nothing goes on the wire if that fails.
func (p *Publisher) publish(ctx context.Context, m message) error {
	ct, err := p.codec.Encrypt([]byte(m.payload))
	if err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, p.connectWait())
	defer cancel()
	return p.session.Publish(pctx, m.topic, ct)
}

// Shutdown announces the offline status and closes the session.
func (p *Publisher) Shutdown(ctx context.Context) {
	if p.connected() {
		m := message{p.cfg.Topics.Status, p.cfg.StatusOffline}
		if err := p.publish(ctx, m); err != nil {
			p.log.Error("publish offline status: %v", err)
		}
	}
	p.closeSession()
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

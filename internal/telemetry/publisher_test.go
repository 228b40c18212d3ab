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
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type published struct {
	topic   string
	payload []byte
}

type fakeSession struct {
	up      bool
	closed  bool
	fail    map[string]bool
	sent    []published
	onClose func()
}

func (s *fakeSession) Connected() bool { return s.up && !s.closed }

func (s *fakeSession) Publish(_ context.Context, topic string, payload []byte) error {
	if s.fail[topic] {
		return errors.New("publish refused")
	}
	s.sent = append(s.sent, published{topic, append([]byte(nil), payload...)})
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

type harness struct {
	store    *state.Store
	codec    *codec.Codec
	pub      *Publisher
	sessions []*fakeSession
	dialErr  error
	resolved int
	ip       string
	addrs    []string
	sleeps   []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	store, err := state.New(50*time.Millisecond, state.SafeRange{Min: 30, Max: 45})
	if err != nil {
		t.Fatal(err)
	}
	c, err := codec.New([]byte(cfg.Crypto.Key), []byte(cfg.Crypto.IV), cfg.Crypto.MaxPayload)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{store: store, codec: c, ip: "192.0.2.10"}
	dial := func(ctx context.Context, addr string) (Session, error) {
		h.addrs = append(h.addrs, addr)
		if _, ok := ctx.Deadline(); !ok {
			t.Error("dial without deadline")
		}
		if h.dialErr != nil {
			return nil, h.dialErr
		}
		s := &fakeSession{up: true}
		h.sessions = append(h.sessions, s)
		return s, nil
	}
	resolve := func(ctx context.Context, host string) (string, error) {
		h.resolved++
		return h.ip, nil
	}
	h.pub = NewPublisher(store, c, cfg.MQTT, dial).WithResolver(resolve)
	h.pub.sleep = func(_ context.Context, d time.Duration) bool {
		h.sleeps = append(h.sleeps, d)
		return true
	}
	return h
}

func (h *harness) online(t *testing.T) {
	t.Helper()
	if !h.store.UpdateWifi(true) {
		t.Fatal("UpdateWifi timed out")
	}
}

func (h *harness) decrypt(t *testing.T, p published) string {
	t.Helper()
	pt, err := h.codec.Decrypt(p.payload)
	if err != nil {
		t.Fatalf("decrypt %s: %v", p.topic, err)
	}
	return string(pt)
}

func TestTick_OfflineIsNoop(t *testing.T) {
	h := newHarness(t)
	h.pub.Tick(context.Background())

	if h.resolved != 0 || len(h.addrs) != 0 {
		t.Errorf("resolved=%d dials=%d while offline", h.resolved, len(h.addrs))
	}
	snap, _ := h.store.Read()
	if snap.BrokerConnected {
		t.Error("broker flagged connected while offline")
	}
}

func TestTick_PublishesInOrder(t *testing.T) {
	h := newHarness(t)
	h.store.UpdateSensed(50.04, 24.46, 61.0, true)
	h.online(t)

	h.pub.Tick(context.Background())

	if len(h.sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(h.sessions))
	}
	if h.addrs[0] != "192.0.2.10:1883" {
		t.Errorf("dialed %q", h.addrs[0])
	}

	want := []published{
		{topic: "hospital/cama/temperatura", payload: []byte("24.5")},
		{topic: "hospital/cama/umidade", payload: []byte("61.0")},
		{topic: "hospital/cama/angulo", payload: []byte("50.0")},
		{topic: "hospital/cama01/alerta", payload: []byte("ATIVO")},
		{topic: "hospital/cama/status", payload: []byte("online")},
	}
	sent := h.sessions[0].sent
	if len(sent) != len(want) {
		t.Fatalf("sent %d messages, want %d", len(sent), len(want))
	}
	for i, w := range want {
		if sent[i].topic != w.topic {
			t.Errorf("message %d topic = %q, want %q", i, sent[i].topic, w.topic)
		}
		if string(sent[i].payload) == string(w.payload) {
			t.Errorf("message %d sent in clear", i)
		}
		if got := h.decrypt(t, sent[i]); got != string(w.payload) {
			t.Errorf("message %d payload = %q, want %q", i, got, w.payload)
		}
	}

	if len(h.sleeps) != len(want) {
		t.Errorf("gaps = %d, want %d", len(h.sleeps), len(want))
	}
	for _, d := range h.sleeps {
		if d != 100*time.Millisecond {
			t.Errorf("gap = %v", d)
		}
	}

	snap, _ := h.store.Read()
	if !snap.BrokerConnected || !snap.WiFiConnected {
		t.Errorf("connectivity = wifi %v broker %v", snap.WiFiConnected, snap.BrokerConnected)
	}
}

func TestTick_AlarmClearPayload(t *testing.T) {
	h := newHarness(t)
	h.store.UpdateSensed(40, 20, 50, true)
	h.online(t)
	h.pub.Tick(context.Background())

	for _, p := range h.sessions[0].sent {
		if p.topic == "hospital/cama01/alerta" {
			if got := h.decrypt(t, p); got != "OK" {
				t.Errorf("alarm payload = %q, want OK", got)
			}
			return
		}
	}
	t.Error("alarm topic not published")
}

func TestTick_ReusesLiveSession(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.pub.Tick(context.Background())
	h.pub.Tick(context.Background())

	if h.resolved != 2 || len(h.sessions) != 1 {
		t.Errorf("resolved=%d sessions=%d, want 2/1", h.resolved, len(h.sessions))
	}
	if n := len(h.sessions[0].sent); n != 10 {
		t.Errorf("sent %d, want 10", n)
	}
}

func TestTick_ReplacesDeadSession(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.pub.Tick(context.Background())

	first := h.sessions[0]
	first.up = false
	live := 0
	first.onClose = func() {
		for _, s := range h.sessions {
			if s.Connected() {
				live++
			}
		}
	}

	h.pub.Tick(context.Background())

	if !first.closed {
		t.Error("dead session not closed")
	}
	if live != 0 {
		t.Error("new session opened before old one was closed")
	}
	if len(h.sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(h.sessions))
	}
	if n := len(h.sessions[1].sent); n != 5 {
		t.Errorf("new session sent %d, want 5", n)
	}
}

func TestTick_AddressChangeReplacesSession(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.pub.Tick(context.Background())

	h.ip = "192.0.2.77"
	h.pub.Tick(context.Background())

	if len(h.sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(h.sessions))
	}
	if !h.sessions[0].closed {
		t.Error("session to the old address left open")
	}
	if h.addrs[1] != "192.0.2.77:1883" {
		t.Errorf("redialed %q", h.addrs[1])
	}
	if n := len(h.sessions[1].sent); n != 5 {
		t.Errorf("new session sent %d, want 5", n)
	}
}

func TestTick_ResolveFailureClosesDeadSession(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.pub.Tick(context.Background())

	h.sessions[0].up = false
	h.pub.WithResolver(func(context.Context, string) (string, error) {
		return "", errors.New("no such host")
	})
	h.pub.Tick(context.Background())

	if !h.sessions[0].closed {
		t.Error("dead session kept after failed resolve")
	}
	snap, _ := h.store.Read()
	if snap.BrokerConnected {
		t.Error("broker flagged connected")
	}
}

func TestTick_ResolveFailureKeepsLiveSession(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.pub.Tick(context.Background())

	h.pub.WithResolver(func(context.Context, string) (string, error) {
		return "", errors.New("dns timeout")
	})
	h.pub.Tick(context.Background())

	if h.sessions[0].closed || len(h.sessions[0].sent) != 10 {
		t.Errorf("live session disturbed: closed=%v sent=%d", h.sessions[0].closed, len(h.sessions[0].sent))
	}
}

func TestTick_DialFailureMarksBrokerDown(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.dialErr = errors.New("connection refused")

	h.pub.Tick(context.Background())

	snap, _ := h.store.Read()
	if snap.BrokerConnected {
		t.Error("broker connected after failed dial")
	}
	if !snap.WiFiConnected {
		t.Error("wifi flag lost")
	}
}

func TestTick_ResolveFailureSkipsDial(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.pub.WithResolver(func(context.Context, string) (string, error) {
		return "", errors.New("no such host")
	})

	h.pub.Tick(context.Background())

	if len(h.addrs) != 0 {
		t.Errorf("dialed %v after failed resolve", h.addrs)
	}
}

func TestTick_PublishFailureCounted(t *testing.T) {
	h := newHarness(t)
	reg := prometheus.NewRegistry()
	h.pub.WithMetrics(metrics.New(reg))
	h.online(t)

	h.pub.dial = func(context.Context, string) (Session, error) {
		s := &fakeSession{up: true, fail: map[string]bool{"hospital/cama/umidade": true}}
		h.sessions = append(h.sessions, s)
		return s, nil
	}
	h.pub.Tick(context.Background())

	if n := len(h.sessions[0].sent); n != 4 {
		t.Errorf("sent %d, want 4", n)
	}
	expected := `
# HELP bedguard_publish_failures_total Telemetry payloads that could not be encrypted or published.
# TYPE bedguard_publish_failures_total counter
bedguard_publish_failures_total{topic="hospital/cama/umidade"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "bedguard_publish_failures_total"); err != nil {
		t.Error(err)
	}
}

func TestTick_OversizedPayloadNotSent(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.pub.cfg.StatusOnline = strings.Repeat("x", h.codec.MaxPayload())

	h.pub.Tick(context.Background())

	for _, p := range h.sessions[0].sent {
		if p.topic == "hospital/cama/status" {
			t.Error("oversized status published")
		}
	}
	if n := len(h.sessions[0].sent); n != 4 {
		t.Errorf("sent %d, want 4", n)
	}
}

func TestShutdown_AnnouncesOffline(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.pub.Tick(context.Background())

	s := h.sessions[0]
	h.pub.Shutdown(context.Background())

	last := s.sent[len(s.sent)-1]
	if last.topic != "hospital/cama/status" || h.decrypt(t, last) != "offline" {
		t.Errorf("last message = %s %q", last.topic, h.decrypt(t, last))
	}
	if !s.closed {
		t.Error("session left open")
	}
}

func TestClientID(t *testing.T) {
	if got := ClientID(config.MQTTConfig{ClientID: "bed-7"}); got != "bed-7" {
		t.Errorf("ClientID = %q", got)
	}
	a, b := ClientID(config.MQTTConfig{}), ClientID(config.MQTTConfig{})
	if !strings.HasPrefix(a, "bedguard-") || a == b {
		t.Errorf("generated ids %q %q", a, b)
	}
}

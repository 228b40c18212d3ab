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
	"bedguard/internal/actuation"
	"bedguard/internal/config"
	"bedguard/internal/state"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeLink struct {
	up        bool
	connectOK []bool // per attempt; missing entries fail
	attempts  int
	inits     int
	deinits   int
	calls     []string
}

func (f *fakeLink) Up(context.Context) (bool, error) {
	f.calls = append(f.calls, "up")
	return f.up, nil
}

func (f *fakeLink) Connect(ctx context.Context) error {
	f.calls = append(f.calls, "connect")
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("attempt not bounded")
	}
	i := f.attempts
	f.attempts++
	if i < len(f.connectOK) && f.connectOK[i] {
		f.up = true
		return nil
	}
	return errors.New("association timeout")
}

func (f *fakeLink) Init(context.Context) error {
	f.calls = append(f.calls, "init")
	f.inits++
	return nil
}

func (f *fakeLink) Deinit(context.Context) error {
	f.calls = append(f.calls, "deinit")
	f.deinits++
	return nil
}

func newManager(t *testing.T, link Link) (*Manager, *state.Store, *[]time.Duration) {
	t.Helper()
	store, err := state.New(10*time.Millisecond, state.SafeRange{Min: 30, Max: 45})
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(link, store, config.Default().Wifi)
	var slept []time.Duration
	m.sleep = func(_ context.Context, d time.Duration) bool {
		slept = append(slept, d)
		return true
	}
	return m, store, &slept
}

func TestManager_AlreadyUp(t *testing.T) {
	link := &fakeLink{up: true}
	m, store, _ := newManager(t, link)

	m.Tick(context.Background())
	snap, _ := store.Read()
	if !snap.WiFiConnected {
		t.Error("wifi flag not set for an up link")
	}
	if link.attempts != 0 {
		t.Errorf("attempts = %d, want no reconnect", link.attempts)
	}
}

func TestManager_ReconnectsOnThirdAttempt(t *testing.T) {
	link := &fakeLink{connectOK: []bool{false, false, true}}
	m, store, slept := newManager(t, link)

	m.Tick(context.Background())

	if !m.Connected() {
		t.Fatal("not connected")
	}
	if link.attempts != 3 {
		t.Errorf("attempts = %d, want 3", link.attempts)
	}
	// one init up front plus one per re-initialisation
	if link.inits != 3 || link.deinits != 2 {
		t.Errorf("inits=%d deinits=%d, want 3/2", link.inits, link.deinits)
	}
	retries := 0
	for _, d := range *slept {
		if d == 3*time.Second {
			retries++
		}
	}
	if retries != 2 {
		t.Errorf("retry delays = %d, want 2 (slept %v)", retries, *slept)
	}
	snap, _ := store.Read()
	if !snap.WiFiConnected {
		t.Error("wifi flag not set after success")
	}
}

func TestManager_ExhaustionGoesOffline(t *testing.T) {
	link := &fakeLink{}
	m, store, _ := newManager(t, link)
	store.UpdateConnectivity(false, true)

	for range 3 {
		m.Tick(context.Background())
		snap, _ := store.Read()
		if snap.WiFiConnected {
			t.Fatal("wifi flag set while link is down")
		}
		if !snap.BrokerConnected {
			t.Fatal("broker flag not carried through")
		}
	}
	if link.attempts != 15 {
		t.Errorf("attempts = %d, want 5 per cycle", link.attempts)
	}
	last := link.calls[len(link.calls)-1]
	if last != "deinit" {
		t.Errorf("last call = %s, want deinit after exhaustion", last)
	}
}

func TestManager_OfflineDoesNotAffectActuation(t *testing.T) {
	link := &fakeLink{}
	m, store, _ := newManager(t, link)

	var servo int
	var light bool
	out := actuation.Outputs{
		Light:  func(on bool) error { light = on; return nil },
		Buzzer: func(bool) error { return nil },
		Servo:  func(deg int) error { servo = deg; return nil },
	}
	task := actuation.New(store, out, actuation.NewCorrector(37.5))

	store.UpdateSensed(10, 20, 50, true)
	for range 4 {
		m.Tick(context.Background())
		task.Tick(context.Background())
	}
	if !light || servo != 117 {
		t.Errorf("actuation while offline: light=%v servo=%d", light, servo)
	}
}

func TestManager_CancelledDuringRetry(t *testing.T) {
	link := &fakeLink{}
	m, _, _ := newManager(t, link)
	m.sleep = func(context.Context, time.Duration) bool { return false }

	m.Tick(context.Background())
	if link.attempts > 1 {
		t.Errorf("attempts = %d after cancellation", link.attempts)
	}
}

func TestNMCLI_Commands(t *testing.T) {
	cfg := config.Default().Wifi
	cfg.SSID = "ward-3"
	cfg.Password = "secret"

	var got []string
	n := NewNMCLI(cfg)
	n.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		got = append(got, name+" "+strings.Join(args, " "))
		if args[len(args)-1] == "status" {
			return []byte("eth0:unavailable\nwlan0:connected\nlo:unmanaged\n"), nil
		}
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	up, err := n.Up(ctx)
	if err != nil || !up {
		t.Errorf("Up = %v, %v", up, err)
	}
	if err := n.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	n.Deinit(ctx)
	n.Init(ctx)

	connect := got[1]
	if !strings.Contains(connect, "device wifi connect ward-3 password secret ifname wlan0") {
		t.Errorf("connect = %q", connect)
	}
	if !strings.HasPrefix(connect, "nmcli --wait 1") {
		t.Errorf("connect wait not derived from deadline: %q", connect)
	}
	if got[2] != "nmcli radio wifi off" || got[3] != "nmcli radio wifi on" {
		t.Errorf("radio calls = %v", got[2:])
	}
}

func TestNMCLI_UnknownInterface(t *testing.T) {
	n := NewNMCLI(config.Default().Wifi)
	n.run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("eth0:connected\n"), nil
	}
	if _, err := n.Up(context.Background()); err == nil {
		t.Error("expected error for missing interface")
	}
}

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

package forwarder

import (
	"bedguard/internal/config"
	"bedguard/internal/events"
	"bedguard/internal/state"
	"bedguard/pkg/eventbus"
	"bedguard/pkg/gpio"
	"bedguard/pkg/logger"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/grid-x/serial"
)

const buttonDebounce = 50 * time.Millisecond

// Forwarder writes the snapshot as one CSV line per tick to a serial
// port while transmission is enabled.
type Forwarder struct {
	store   *state.Store
	out     io.Writer
	enabled atomic.Bool
	log     *logger.Logger
}

func New(store *state.Store, out io.Writer) *Forwarder {
	return &Forwarder{
		store: store,
		out:   out,
		log:   logger.New("Forwarder"),
	}
}

// OpenPort opens the TTY at 8N1.
func OpenPort(cfg config.ForwarderConfig) (io.WriteCloser, error) {
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Port,
		BaudRate: cfg.Baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	return port, nil
}

func (f *Forwarder) Enabled() bool {
	return f.enabled.Load()
}

func (f *Forwarder) SetEnabled(on bool) {
	if f.enabled.Swap(on) != on {
		f.log.Info("Transmission %s", onOff(on))
	}
}

func (f *Forwarder) Handle(req events.TransmitRequest) {
	switch req {
	case events.TransmitEnable:
		f.SetEnabled(true)
	case events.TransmitDisable:
		f.SetEnabled(false)
	case events.TransmitToggle:
		for {
			cur := f.enabled.Load()
			if f.enabled.CompareAndSwap(cur, !cur) {
				f.log.Info("Transmission %s", onOff(!cur))
				return
			}
		}
	default:
		f.log.Warn("ignoring transmit request %v", req)
	}
}

// Listen applies transmit requests from the bus until ctx ends.
func (f *Forwarder) Listen(ctx context.Context, bus *eventbus.Bus) {
	eventbus.Listen(ctx, bus, events.TopicForwarderTransmit, f.Handle)
}

func (f *Forwarder) Tick(ctx context.Context) {
	if !f.enabled.Load() {
		return
	}
	snap, _ := f.store.Read()
	alarm := 0
	if snap.AlarmActive {
		alarm = 1
	}
	line := fmt.Sprintf("%.1f,%.1f,%.1f,%d\n", snap.Temperature, snap.Humidity, snap.TiltAngle, alarm)
	if _, err := io.WriteString(f.out, line); err != nil {
		f.log.Error("write: %v", err)
		return
	}
	f.log.Debug("sent %q", line)
}

// WireButtons maps falling edges on the two button lines to enable and
// disable requests on the bus.
func WireButtons(chip *gpio.Chip, cfg config.ForwarderConfig, bus *eventbus.Bus) error {
	press := func(req events.TransmitRequest) func() {
		return func() { bus.Publish(events.TopicForwarderTransmit, req) }
	}
	if err := chip.OnFallingEdge(cfg.EnableLine, buttonDebounce, press(events.TransmitEnable)); err != nil {
		return fmt.Errorf("enable button: %w", err)
	}
	if err := chip.OnFallingEdge(cfg.DisableLine, buttonDebounce, press(events.TransmitDisable)); err != nil {
		return fmt.Errorf("disable button: %w", err)
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

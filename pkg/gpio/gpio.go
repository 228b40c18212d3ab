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

// Package gpio drives output lines and watches button lines through the
// Linux GPIO character device.
package gpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

type Chip struct {
	mu     sync.Mutex
	chip   *gpiocdev.Chip
	lines  []*gpiocdev.Line
	closed bool
}

func Open(name string) (*Chip, error) {
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", name, err)
	}
	return &Chip{chip: chip}, nil
}

// Output requests offset as an output, initially low.
func (c *Chip) Output(offset int) (*Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("chip closed")
	}
	line, err := c.chip.RequestLine(offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request output %d: %w", offset, err)
	}
	c.lines = append(c.lines, line)
	return &Output{line: line}, nil
}

// OnFallingEdge calls fn from the event goroutine each time offset goes
// low. Buttons are wired to ground, so pull-up is always requested.
func (c *Chip) OnFallingEdge(offset int, debounce time.Duration, fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("chip closed")
	}
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			if evt.Type == gpiocdev.LineEventFallingEdge {
				fn()
			}
		}),
	}
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}
	line, err := c.chip.RequestLine(offset, opts...)
	if err != nil {
		return fmt.Errorf("request input %d: %w", offset, err)
	}
	c.lines = append(c.lines, line)
	return nil
}

func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, l := range c.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.lines = nil
	if err := c.chip.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type Output struct {
	mu    sync.Mutex
	line  *gpiocdev.Line
	value bool
}

func (o *Output) Set(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set line %d: %w", o.line.Offset(), err)
	}
	o.value = on
	return nil
}

func (o *Output) Value() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

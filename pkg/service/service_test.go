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

package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorder struct {
	prio  int
	name  string
	order *[]string
	mu    *sync.Mutex
}

func (r *recorder) Priority() int { return r.prio }

func (r *recorder) Run(ctx context.Context) {
	r.mu.Lock()
	*r.order = append(*r.order, r.name)
	r.mu.Unlock()
	<-ctx.Done()
}

func TestPeriodic_TicksUntilCancelled(t *testing.T) {
	var ticks atomic.Int32
	var tornDown atomic.Bool
	p := &Periodic{
		Name:     "test",
		Period:   2 * time.Millisecond,
		Tick:     func(ctx context.Context) { ticks.Add(1) },
		Teardown: func() { tornDown.Store(true) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	if ticks.Load() < 2 {
		t.Errorf("ticks = %d, want >= 2", ticks.Load())
	}
	if !tornDown.Load() {
		t.Error("Teardown not called")
	}
}

func TestStart_PanicCancelsAndSetsExitCode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var order []string
	svcs := []Runnable{
		&recorder{prio: 1, name: "low", order: &order, mu: &mu},
		&Periodic{Name: "boom", Prio: 9, Period: time.Millisecond, Tick: func(context.Context) { panic("boom") }},
	}

	select {
	case code := <-Start(ctx, cancel, svcs):
		if code != -1 {
			t.Errorf("exit code = %d, want -1", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("services did not stop after panic")
	}
}

func TestPriorityOf(t *testing.T) {
	if got := priorityOf(&Periodic{Prio: 4}); got != 4 {
		t.Errorf("priorityOf(Periodic) = %d, want 4", got)
	}
	var mu sync.Mutex
	var order []string
	if got := priorityOf(&recorder{prio: 2, order: &order, mu: &mu}); got != 2 {
		t.Errorf("priorityOf(recorder) = %d, want 2", got)
	}
}

func TestPeriodic_OnTickReportsDuration(t *testing.T) {
	var mu sync.Mutex
	var seen []time.Duration
	p := &Periodic{
		Name:   "timed",
		Period: 2 * time.Millisecond,
		Tick:   func(context.Context) { time.Sleep(time.Millisecond) },
		OnTick: func(d time.Duration) {
			mu.Lock()
			seen = append(seen, d)
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("OnTick never called")
	}
	for _, d := range seen {
		if d < time.Millisecond {
			t.Errorf("tick duration %v shorter than the work done", d)
		}
	}
}

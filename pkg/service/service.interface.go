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
	"bedguard/pkg/logger"
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// Runnable is the common interface for all services.
type Runnable interface {
	Run(ctx context.Context)
}

// Prioritized is implemented by runnables that care about start order.
// Higher priority services are started first.
type Prioritized interface {
	Priority() int
}

// Periodic runs Tick on a fixed period until the context is cancelled.
// Ticks never overlap: a tick that overruns delays the next one.
type Periodic struct {
	Name   string
	Prio   int
	Period time.Duration
	Tick   func(ctx context.Context)

	// Setup runs once before the first tick. Optional.
	Setup func(ctx context.Context)
	// Teardown runs once after cancellation. Optional.
	Teardown func()
	// OnTick receives the wall time of every tick. Optional.
	OnTick func(elapsed time.Duration)
}

func (p *Periodic) Priority() int { return p.Prio }

func (p *Periodic) Run(ctx context.Context) {
	log := logger.New(p.Name)
	log.Info("Running (priority=%d, period=%v)...", p.Prio, p.Period)
	defer log.Info("Stopped")

	if p.Setup != nil {
		p.Setup(ctx)
	}
	if p.Teardown != nil {
		defer p.Teardown()
	}

	ticker := time.NewTicker(p.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			p.Tick(ctx)
			if p.OnTick != nil {
				p.OnTick(time.Since(start))
			}
		}
	}
}

func priorityOf(r Runnable) int {
	if p, ok := r.(Prioritized); ok {
		return p.Priority()
	}
	return 0
}

// Start launches every service in its own goroutine, highest priority first.
// A panicking service cancels the context so the whole process winds down.
// The returned channel yields the exit code once all services have stopped.
func Start(ctx context.Context, ctxCancel context.CancelFunc, services []Runnable) <-chan int {
	wg := &sync.WaitGroup{}

	var mu sync.Mutex
	var exitCode int
	var exitCh = make(chan int, 1)

	log := logger.New("Panic")

	ordered := append([]Runnable(nil), services...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return priorityOf(ordered[i]) > priorityOf(ordered[j])
	})

	for _, s := range ordered {
		service := s
		wg.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("%v\n%s", r, debug.Stack())
					mu.Lock()
					exitCode = -1
					mu.Unlock()
					ctxCancel()
				}
			}()
			service.Run(ctx)
		})
	}

	go func() {
		// wait for for all services to stop
		wg.Wait()
		mu.Lock()
		exitCh <- exitCode
		mu.Unlock()
	}()

	return exitCh
}

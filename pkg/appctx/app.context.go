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

package appctx

import (
	"bedguard/pkg/logger"
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// New returns a context that is canceled on SIGINT or SIGTERM, along with
// a cancel func for manual shutdown.
func New() (context.Context, context.CancelFunc) {
	return newWithSignals(syscall.SIGINT, syscall.SIGTERM)
}

func newWithSignals(signals ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, signals...)

	go func() {
		defer signal.Stop(sigs)
		log := logger.New("SigHandler")
		select {
		case sig := <-sigs:
			log.Info("Received signal: %s", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Shutdown returns a fresh context bounded by grace. It is meant for the
// cleanup work that has to happen after the main context is already gone,
// e.g. parking actuators or announcing "offline".
func Shutdown(grace time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), grace)
}

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

// bedlog is the receiving end of the bed's serial forwarder: it reads CSV
// records from a TTY and appends the valid ones to a log file.
package main

import (
	"bedguard/internal/datalog"
	"bedguard/pkg/appctx"
	"bedguard/pkg/logger"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"time"

	"github.com/grid-x/serial"
)

var log = logger.New("Bedlog")

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "serial device to read")
	baud := flag.Int("baud", 115200, "line speed")
	out := flag.String("out", "datalog.txt", "log file to append to")
	flag.Parse()

	logger.Init(logger.Options{})

	dl, err := datalog.Open(*out)
	if err != nil {
		log.Fatal("%v", err)
	}

	ctx, cancel := appctx.New()
	defer cancel()

	tty, err := serial.Open(&serial.Config{
		Address:  *port,
		BaudRate: *baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  time.Second,
	})
	if err != nil {
		log.Fatal("open %s: %v", *port, err)
	}
	// unblocks the pending read on shutdown
	go func() {
		<-ctx.Done()
		tty.Close()
	}()

	log.Info("Logging %s @ %d to %s", *port, *baud, *out)
	err = dl.Consume(ctx, &patientReader{ctx: ctx, r: tty})
	log.Info("Stopped after %d records", dl.Count())
	if err != nil && ctx.Err() == nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

// patientReader hides read timeouts so an idle line does not end the scan.
type patientReader struct {
	ctx context.Context
	r   io.Reader
}

func (p *patientReader) Read(b []byte) (int, error) {
	for {
		n, err := p.r.Read(b)
		if errors.Is(err, serial.ErrTimeout) && n == 0 {
			if p.ctx.Err() != nil {
				return 0, p.ctx.Err()
			}
			continue
		}
		return n, err
	}
}

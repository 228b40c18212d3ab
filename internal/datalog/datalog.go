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

// Package datalog records the forwarder's CSV lines on the receiving side.
package datalog

import (
	"bedguard/pkg/logger"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
)

const Header = "TEMP,UMID,ANGULO,ALERTA"

// Valid reports whether line looks like a forwarder record: exactly three
// separators and at least one digit.
func Valid(line string) bool {
	commas := 0
	digit := false
	for _, r := range line {
		switch {
		case r == ',':
			commas++
		case '0' <= r && r <= '9':
			digit = true
		}
	}
	return commas == 3 && digit
}

type Log struct {
	mu    sync.Mutex
	path  string
	count uint64
	log   *logger.Logger
}

// Open prepares path for appending, writing the header if the file is new.
func Open(path string) (*Log, error) {
	l := &Log{path: path, log: logger.New("Datalog")}
	if err := l.writeHeader(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) writeHeader() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", l.path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	l.log.Info("Created %s", l.path)
	return nil
}

// Append trims line and stores it verbatim if it passes Valid. It
// reports whether the line was kept.
func (l *Log) Append(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || !Valid(line) {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, line); err != nil {
		return false, fmt.Errorf("append: %w", err)
	}
	l.count++
	return true, nil
}

// Count is the number of records appended since Open.
func (l *Log) Count() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Consume appends every line read from r until EOF or ctx ends. Read
// timeouts from a serial port surface as errors and are returned.
func (l *Log) Consume(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		kept, err := l.Append(sc.Text())
		if err != nil {
			return err
		}
		if !kept {
			l.log.Debug("dropped %q", sc.Text())
		}
	}
	return sc.Err()
}

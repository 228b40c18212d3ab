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

package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where the base logger writes.
// An empty Path logs to stdout only.
type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type Logger struct {
	prefix string
}

var (
	baseMu       sync.RWMutex
	baseLogger   = log.New(os.Stdout, "", log.LstdFlags)
	rotator      *lumberjack.Logger
	once         sync.Once
	debugEnabled bool
	debugMu      sync.RWMutex
)

// Init sets up the base logger to write to stdout and a rotating log file.
// Debug is enabled at startup if the DEBUG env var is set.
func Init(opts Options) {
	once.Do(func() {
		if os.Getenv("DEBUG") != "" {
			EnableDebug(true)
		}
		if opts.Path == "" {
			return
		}
		rotator = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		setOutput(io.MultiWriter(os.Stdout, rotator))
	})
}

// Close flushes and closes the log file (call on shutdown)
func Close() {
	if rotator != nil {
		rotator.Close()
	}
}

// Rotate forces the log file to roll over.
func Rotate() error {
	if rotator == nil {
		return nil
	}
	return rotator.Rotate()
}

// FilePath returns the active log file, or "" when logging to stdout only.
func FilePath() string {
	if rotator == nil {
		return ""
	}
	return rotator.Filename
}

// SetOutput redirects all loggers, mostly useful in tests.
func SetOutput(w io.Writer) {
	setOutput(w)
}

func setOutput(w io.Writer) {
	baseMu.Lock()
	baseLogger = log.New(w, "", log.LstdFlags)
	baseMu.Unlock()
}

// EnableDebug dynamically turns debug logging on/off
func EnableDebug(on bool) {
	debugMu.Lock()
	debugEnabled = on
	debugMu.Unlock()
}

// IsDebug returns current debug state
func IsDebug() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugEnabled
}

func New(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

func (l *Logger) printf(format string, v ...any) {
	baseMu.RLock()
	lg := baseLogger
	baseMu.RUnlock()
	lg.Printf(format, v...)
}

func (l *Logger) Info(fmtstr string, v ...any) {
	l.printf("[%s] INFO: %s", l.prefix, fmt.Sprintf(fmtstr, v...))
}

func (l *Logger) Warn(fmtstr string, v ...any) {
	l.printf("[%s] WARN: %s", l.prefix, fmt.Sprintf(fmtstr, v...))
}

func (l *Logger) Error(fmtstr string, v ...any) {
	formatted := fmt.Sprintf(fmtstr, v...)
	_, file, line, ok := runtime.Caller(1)
	if ok {
		l.printf("[%s] ERROR: (%s:%d) %s", l.prefix, filepath.Base(file), line, formatted)
	} else {
		l.printf("[%s] ERROR: %s", l.prefix, formatted)
	}
}

// Fatal logs and panics. Used for startup failures the device must not run past.
func (l *Logger) Fatal(fmtstr string, v ...any) {
	formatted := fmt.Sprintf(fmtstr, v...)
	_, file, line, ok := runtime.Caller(1)
	if ok {
		l.printf("[%s] FATAL: (%s:%d) %s", l.prefix, filepath.Base(file), line, formatted)
	} else {
		l.printf("[%s] FATAL: %s", l.prefix, formatted)
	}
	panic(formatted)
}

func (l *Logger) Debug(fmtstr string, v ...any) {
	if !IsDebug() {
		return
	}
	l.printf("[%s] DEBUG: %s", l.prefix, fmt.Sprintf(fmtstr, v...))
}

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

package i2c

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// A regular file stands in for the device node; the bus lock does not
// care what is behind the descriptor.
func openTemp(t *testing.T) *Bus {
	t.Helper()
	path := filepath.Join(t.TempDir(), "i2c-0")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestAcquire_BoundedWait(t *testing.T) {
	b := openTemp(t)

	if err := b.Acquire(10 * time.Millisecond); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	start := time.Now()
	err := b.Acquire(20 * time.Millisecond)
	if !errors.Is(err, ErrBusTimeout) {
		t.Fatalf("second Acquire err = %v, want ErrBusTimeout", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("waited %v for a 20ms timeout", waited)
	}

	b.Release()
	if err := b.Acquire(10 * time.Millisecond); err != nil {
		t.Errorf("Acquire after Release: %v", err)
	}
	b.Release()
}

func TestOpen_Missing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("opened missing device")
	}
}

func TestDevice_ClosedBus(t *testing.T) {
	b := openTemp(t)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := b.Dev(0x68).Write([]byte{0x6B, 0}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write on closed bus err = %v, want ErrClosed", err)
	}
}

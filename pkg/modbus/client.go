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

package modbus

import (
	"bedguard/pkg/logger"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	wrapper "github.com/grid-x/modbus"
)

const (
	maxConnectAttempts = 3
	coilOn             = 0xFF00
	coilOff            = 0x0000
)

type Config struct {
	Host    string
	Port    int
	SlaveID byte
	Timeout time.Duration
}

func (c Config) URL() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Client struct {
	mu      sync.Mutex
	handler *wrapper.TCPClientHandler
	client  wrapper.Client
	config  Config
	log     *logger.Logger

	// replaced in tests
	dial func(ctx context.Context) error
}

// Dial connects a Modbus TCP client, retrying a few times with backoff.
func Dial(ctx context.Context, config Config) (*Client, error) {
	c := &Client{
		config: config,
		log:    logger.New("Modbus"),
	}
	c.dial = c.connect
	if err := c.connectWithRetry(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connectWithRetry(ctx context.Context) error {
	backoff := 250 * time.Millisecond
	var err error
	for attempt := range maxConnectAttempts {
		if err = c.dial(ctx); err == nil {
			return nil
		}
		c.log.Error("connect attempt %d/%d failed: %v", attempt+1, maxConnectAttempts, err)
		if attempt == maxConnectAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("modbus %s: %w", c.config.URL(), err)
}

// connect (re)opens the TCP handler once.
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler != nil {
		_ = c.handler.Close()
		c.handler = nil
	}

	url := c.config.URL()
	handler := wrapper.NewTCPClientHandler(url)
	handler.SlaveID = c.config.SlaveID
	handler.Timeout = c.config.Timeout
	handler.ProtocolRecoveryTimeout = 250 * time.Millisecond
	handler.LinkRecoveryTimeout = 2 * time.Second

	c.log.Info("Connecting to %s...", url)
	if err := handler.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	c.handler = handler
	c.client = wrapper.NewClient(handler)
	c.log.Info("Connected to %s", url)
	return nil
}

// retry runs op, reconnecting once if the failure looks like a dead link.
func (c *Client) retry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !isConnError(err) {
		return err
	}
	c.log.Error("connection error: %v, reconnecting", err)
	if rerr := c.dial(ctx); rerr != nil {
		return errors.Join(err, rerr)
	}
	return op()
}

func (c *Client) WriteRegister(ctx context.Context, addr, value uint16) error {
	return c.retry(ctx, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, err := c.client.WriteSingleRegister(ctx, addr, value)
		return err
	})
}

func (c *Client) WriteCoil(ctx context.Context, addr uint16, on bool) error {
	value := uint16(coilOff)
	if on {
		value = coilOn
	}
	return c.retry(ctx, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, err := c.client.WriteSingleCoil(ctx, addr, value)
		return err
	})
}

func (c *Client) ReadRegisters(ctx context.Context, addr, quantity uint16) ([]byte, error) {
	var data []byte
	err := c.retry(ctx, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		var rerr error
		data, rerr = c.client.ReadHoldingRegisters(ctx, addr, quantity)
		return rerr
	})
	return data, err
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		_ = c.handler.Close()
		c.handler = nil
	}
}

func isConnError(err error) bool {
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection refused")
}

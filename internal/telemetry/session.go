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

package telemetry

import (
	"bedguard/internal/config"
	"bedguard/pkg/logger"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

// ClientID returns the configured identity or a fresh random one.
func ClientID(cfg config.MQTTConfig) string {
	if cfg.ClientID != "" {
		return cfg.ClientID
	}
	return "bedguard-" + uuid.NewString()[:8]
}

type pahoSession struct {
	conn      net.Conn
	client    *paho.Client
	connected atomic.Bool
	log       *logger.Logger
}

// PahoDialer dials TCP and runs the MQTT v5 CONNECT handshake.
func PahoDialer(cfg config.MQTTConfig, clientID string) Dialer {
	return func(ctx context.Context, addr string) (Session, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial: %w", err)
		}

		s := &pahoSession{conn: conn, log: logger.New("MQTT")}
		s.client = paho.NewClient(paho.ClientConfig{
			ClientID: clientID,
			Conn:     conn,
			OnClientError: func(err error) {
				s.connected.Store(false)
				s.log.Error("client error: %v", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				s.connected.Store(false)
				s.log.Warn("server disconnect, reason %d", d.ReasonCode)
			},
		})

		ca, err := s.client.Connect(ctx, &paho.Connect{
			ClientID:   clientID,
			KeepAlive:  cfg.KeepAlive,
			CleanStart: true,
		})
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("mqtt connect: %w", err)
		}
		if ca.ReasonCode != 0 {
			_ = conn.Close()
			return nil, fmt.Errorf("mqtt connect refused, reason %d", ca.ReasonCode)
		}
		s.connected.Store(true)
		return s, nil
	}
}

func (s *pahoSession) Connected() bool {
	return s.connected.Load()
}

func (s *pahoSession) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := s.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     0,
		Payload: payload,
	})
	return err
}

func (s *pahoSession) Close() error {
	if s.connected.Swap(false) {
		if err := s.client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
			s.log.Debug("disconnect: %v", err)
		}
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

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

package network

import (
	"bedguard/internal/config"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMCLI drives the link through NetworkManager's command line client.
type NMCLI struct {
	cfg config.WifiConfig
	run runner
}

func NewNMCLI(cfg config.WifiConfig) *NMCLI {
	return &NMCLI{cfg: cfg, run: execRunner}
}

func (n *NMCLI) nmcli(ctx context.Context, args ...string) (string, error) {
	out, err := n.run(ctx, "nmcli", args...)
	if err != nil {
		return "", fmt.Errorf("nmcli %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (n *NMCLI) Up(ctx context.Context) (bool, error) {
	out, err := n.nmcli(ctx, "-t", "-f", "DEVICE,STATE", "device", "status")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		dev, st, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && dev == n.cfg.Interface {
			return st == "connected", nil
		}
	}
	return false, fmt.Errorf("interface %s not managed", n.cfg.Interface)
}

func (n *NMCLI) Connect(ctx context.Context) error {
	args := []string{"--wait", waitSeconds(ctx), "device", "wifi", "connect", n.cfg.SSID}
	if n.cfg.Password != "" {
		args = append(args, "password", n.cfg.Password)
	}
	args = append(args, "ifname", n.cfg.Interface)
	_, err := n.nmcli(ctx, args...)
	return err
}

func (n *NMCLI) Init(ctx context.Context) error {
	_, err := n.nmcli(ctx, "radio", "wifi", "on")
	return err
}

func (n *NMCLI) Deinit(ctx context.Context) error {
	_, err := n.nmcli(ctx, "radio", "wifi", "off")
	return err
}

// waitSeconds hands nmcli the time left on ctx so it gives up on its own.
func waitSeconds(ctx context.Context) string {
	dl, ok := ctx.Deadline()
	if !ok {
		return "30"
	}
	s := int(time.Until(dl).Seconds())
	return strconv.Itoa(max(s, 1))
}

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

package events

import (
	"bedguard/pkg/eventbus"
)

var (
	// TopicForwarderTransmit carries TransmitRequest values from the
	// buttons and the dashboard to the UART forwarder.
	TopicForwarderTransmit eventbus.Topic = "forwarder.transmit"

	// TopicSnapshot carries the latest SnapshotUpdate for dashboard clients.
	TopicSnapshot eventbus.Topic = "snapshot"
)

type TransmitRequest int

const (
	TransmitEnable TransmitRequest = iota
	TransmitDisable
	TransmitToggle
)

func (r TransmitRequest) String() string {
	switch r {
	case TransmitEnable:
		return "enable"
	case TransmitDisable:
		return "disable"
	case TransmitToggle:
		return "toggle"
	}
	return "unknown"
}

// SnapshotUpdate is the JSON view of the shared state served to dashboards.
type SnapshotUpdate struct {
	Temperature float64 `json:"temperatura"`
	Humidity    float64 `json:"umidade"`
	Angle       float64 `json:"angulo"`
	Alarm       bool    `json:"alerta"`
	Wifi        bool    `json:"wifi"`
	Broker      bool    `json:"mqtt"`
	Transmit    bool    `json:"transmitindo"`
}

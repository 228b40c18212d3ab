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

package dashboard

import (
	"bedguard/internal/events"
	"bedguard/internal/state"
	"bedguard/pkg/eventbus"
	"bedguard/pkg/logger"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

type clientSet struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func (c *clientSet) broadcast(pm *websocket.PreparedMessage, log *logger.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ws := range c.clients {
		if err := ws.WritePreparedMessage(pm); err != nil {
			log.Debug("dropping client: %v", err)
			ws.Close()
			delete(c.clients, ws)
		}
	}
}

// join sends the first message and registers ws in one step, so no
// broadcast can interleave with it.
func (c *clientSet) join(ws *websocket.Conn, first any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ws.WriteJSON(first); err != nil {
		return err
	}
	c.clients[ws] = true
	return nil
}

func (c *clientSet) remove(ws *websocket.Conn) {
	c.mu.Lock()
	delete(c.clients, ws)
	c.mu.Unlock()
}

func (c *clientSet) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

func (c *clientSet) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ws := range c.clients {
		ws.Close()
		delete(c.clients, ws)
	}
}

// Dashboard serves the bed state to browsers: a JSON endpoint, a
// websocket stream fed by Tick, and the forwarder toggle.
type Dashboard struct {
	store        *state.Store
	bus          *eventbus.Bus
	transmitting func() bool
	clients      clientSet
	upgrader     websocket.Upgrader
	mux          *http.ServeMux
	log          *logger.Logger
}

// New builds the dashboard. transmitting reports the forwarder state and
// may be nil.
func New(store *state.Store, bus *eventbus.Bus, transmitting func() bool) *Dashboard {
	d := &Dashboard{
		store:        store,
		bus:          bus,
		transmitting: transmitting,
		clients:      clientSet{clients: make(map[*websocket.Conn]bool)},
		log:          logger.New("Dashboard"),
	}
	d.upgrader = websocket.Upgrader{CheckOrigin: d.checkOrigin}

	d.mux = http.NewServeMux()
	d.mux.HandleFunc("GET /{$}", d.serveIndex)
	d.mux.HandleFunc("GET /api/data", d.serveData)
	d.mux.HandleFunc("POST /api/forwarder/toggle", d.serveToggle)
	d.mux.HandleFunc("/ws", d.serveWebSocket)
	return d
}

func (d *Dashboard) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	d.log.Debug("checking origin: %s", origin)
	if origin == "" {
		return false
	}
	if strings.Contains(origin, "localhost") {
		return true
	}
	return strings.Contains(origin, r.Host)
}

// Update is the current view of the shared state.
func (d *Dashboard) Update() events.SnapshotUpdate {
	snap, _ := d.store.Read()
	u := events.SnapshotUpdate{
		Temperature: snap.Temperature,
		Humidity:    snap.Humidity,
		Angle:       snap.TiltAngle,
		Alarm:       snap.AlarmActive,
		Wifi:        snap.WiFiConnected,
		Broker:      snap.BrokerConnected,
	}
	if d.transmitting != nil {
		u.Transmit = d.transmitting()
	}
	return u
}

// Tick samples the store onto the snapshot topic.
func (d *Dashboard) Tick(ctx context.Context) {
	d.bus.Publish(events.TopicSnapshot, d.Update())
}

// Stream forwards snapshot topic events to every websocket client until
// ctx ends.
func (d *Dashboard) Stream(ctx context.Context) {
	eventbus.Listen(ctx, d.bus, events.TopicSnapshot, d.broadcast)
}

func (d *Dashboard) broadcast(u events.SnapshotUpdate) {
	if d.clients.count() == 0 {
		return
	}
	data, err := json.Marshal(u)
	if err != nil {
		d.log.Error("failed to marshal update: %v", err)
		return
	}
	pm, err := websocket.NewPreparedMessage(websocket.TextMessage, data)
	if err != nil {
		d.log.Error("failed to prepare message: %v", err)
		return
	}
	d.clients.broadcast(pm, d.log)
}

// Close drops every websocket client.
func (d *Dashboard) Close() {
	d.clients.closeAll()
}

func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mux.ServeHTTP(w, r)
}

func (d *Dashboard) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

func (d *Dashboard) serveData(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.Update()); err != nil {
		d.log.Error("failed to encode data: %v", err)
	}
}

func (d *Dashboard) serveToggle(w http.ResponseWriter, r *http.Request) {
	d.bus.Publish(events.TopicForwarderTransmit, events.TransmitToggle)
	w.WriteHeader(http.StatusAccepted)
}

func (d *Dashboard) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Error("failed to upgrade websocket: %v", err)
		return
	}
	defer func() {
		d.clients.remove(ws)
		ws.Close()
	}()

	if err := d.clients.join(ws, d.Update()); err != nil {
		d.log.Debug("ws initial write: %v", err)
		return
	}

	// read loop only notices the client going away
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				d.log.Debug("ws read: %v", err)
			}
			return
		}
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<title>Bed monitor</title>
<style>
body {font-family: sans-serif; background:#f7f7f7; color:#222; text-align:center;}
.card {display:inline-block; background:#fff; margin:12px; padding:16px 24px; border-radius:8px; min-width:120px;}
.alarm {background:#f44; color:#fff;}
</style>
</head>
<body>
<h1>Bed monitor</h1>
<div id="angulo" class="card"></div>
<div id="temperatura" class="card"></div>
<div id="umidade" class="card"></div>
<div id="alerta" class="card"></div>
<p><span id="net"></span> <button onclick="fetch('api/forwarder/toggle',{method:'POST'})">toggle serial</button></p>
<script>
function show(d) {
  document.getElementById('angulo').textContent = 'angle ' + d.angulo.toFixed(1);
  document.getElementById('temperatura').textContent = 'temp ' + d.temperatura.toFixed(1);
  document.getElementById('umidade').textContent = 'hum ' + d.umidade.toFixed(1);
  var a = document.getElementById('alerta');
  a.textContent = d.alerta ? 'ALARM' : 'OK';
  a.className = d.alerta ? 'card alarm' : 'card';
  document.getElementById('net').textContent =
    'wifi ' + d.wifi + ' / mqtt ' + d.mqtt + ' / serial ' + d.transmitindo;
}
var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
var path = location.pathname.replace(/\/?$/, '/');
var ws = new WebSocket(proto + location.host + path + 'ws');
ws.onmessage = function (e) { show(JSON.parse(e.data)); };
</script>
</body>
</html>
`

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

package main

import (
	"bedguard/internal/actuation"
	"bedguard/internal/codec"
	"bedguard/internal/config"
	"bedguard/internal/dashboard"
	"bedguard/internal/forwarder"
	"bedguard/internal/metrics"
	"bedguard/internal/network"
	"bedguard/internal/sensors"
	"bedguard/internal/state"
	"bedguard/internal/telemetry"
	"bedguard/pkg/appctx"
	"bedguard/pkg/eventbus"
	"bedguard/pkg/gpio"
	"bedguard/pkg/i2c"
	"bedguard/pkg/logger"
	"bedguard/pkg/modbus"
	"bedguard/pkg/rootserv"
	"bedguard/pkg/service"
	"bedguard/pkg/sysmon"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownGrace = 5 * time.Second

var log = logger.New("Main")

// runFunc adapts a blocking function to service.Runnable.
type runFunc func(ctx context.Context)

func (f runFunc) Run(ctx context.Context) { f(ctx) }

func main() {

	rootdir := os.Getenv("PROJECT_ROOT")
	if rootdir == "" {
		rootdir = "."
	}
	confPath := os.Getenv("BEDGUARD_CONFIG")
	if confPath == "" {
		confPath = filepath.Join(rootdir, "var/config/bedguard.yml")
	}

	conf := config.LoadFile(confPath)

	logPath := conf.Log.Path
	if logPath != "" && !filepath.IsAbs(logPath) {
		logPath = filepath.Join(rootdir, "var/logs", logPath)
	}
	logger.Init(logger.Options{
		Path:       logPath,
		MaxSizeMB:  conf.Log.MaxSizeMB,
		MaxBackups: conf.Log.MaxBackups,
		MaxAgeDays: conf.Log.MaxAgeDays,
	})
	if conf.Log.Debug {
		logger.EnableDebug(true)
	}
	log.Info("Config: %s", confPath)

	// use conf to pass eventbus to whoever needs it
	conf.EventBus = eventbus.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, err := state.New(conf.State.LockTimeout, state.SafeRange{
		Min: conf.Safety.AngleMin,
		Max: conf.Safety.AngleMax,
	})
	if err != nil {
		log.Fatal("state store: %v", err)
	}
	store.WithMetrics(m)

	ctx, ctxCancel := appctx.New()

	var closers []func() error

	// sensors
	sensorBus, err := i2c.Open(conf.Sensors.BusPath)
	if err != nil {
		log.Fatal("sensor bus: %v", err)
	}
	closers = append(closers, sensorBus.Close)

	// the display bus is owned by the display process; we only report it
	displayBus, err := i2c.Open(conf.Sensors.DisplayBusPath)
	if err != nil {
		log.Warn("display bus unavailable: %v", err)
	} else {
		closers = append(closers, displayBus.Close)
	}

	if conf.Sensors.ScanOnStart {
		scanBus(sensorBus, conf.Sensors.LongBusTimeout)
		if displayBus != nil {
			scanBus(displayBus, conf.Sensors.LongBusTimeout)
		}
	}

	acquisition, err := sensors.NewAcquisition(
		sensorBus,
		sensorBus.Dev(conf.Sensors.MPU6050Addr),
		sensorBus.Dev(conf.Sensors.AHT10Addr),
		store,
		conf.Sensors,
	)
	if err != nil {
		log.Fatal("sensors: %v", err)
	}
	acquisition.WithMetrics(m)

	// actuators
	chip, err := gpio.Open(conf.Actuators.GPIO.Chip)
	if err != nil {
		if conf.Actuators.Backend == "gpio" {
			log.Fatal("gpio: %v", err)
		}
		log.Warn("gpio unavailable, buttons disabled: %v", err)
		chip = nil
	} else {
		closers = append(closers, chip.Close)
	}

	outputs, closeOutputs := setupActuators(ctx, conf, chip)
	closers = append(closers, closeOutputs)

	corrector := actuation.NewCorrector(conf.Safety.TargetAngle).
		WithErrorLimit(conf.Safety.MaxCorrection)
	actuator := actuation.New(store, outputs, corrector)

	// network
	netManager := network.NewManager(network.NewNMCLI(conf.Wifi), store, conf.Wifi).WithMetrics(m)

	cipher, err := codec.New([]byte(conf.Crypto.Key), []byte(conf.Crypto.IV), conf.Crypto.MaxPayload)
	if err != nil {
		log.Fatal("codec: %v", err)
	}
	cipher.WithStrictPadding(conf.Crypto.StrictPadding)

	clientID := telemetry.ClientID(conf.MQTT)
	log.Info("MQTT client id: %s", clientID)
	publisher := telemetry.NewPublisher(store, cipher, conf.MQTT, telemetry.PahoDialer(conf.MQTT, clientID)).
		WithMetrics(m)

	// serial forwarder
	var tty io.Writer = io.Discard
	if port, err := forwarder.OpenPort(conf.Forwarder); err != nil {
		log.Error("forwarder disabled: %v", err)
	} else {
		tty = port
		closers = append(closers, port.Close)
	}
	fwd := forwarder.New(store, tty)
	fwd.SetEnabled(conf.Forwarder.StartEnabled)
	if chip != nil {
		if err := forwarder.WireButtons(chip, conf.Forwarder, conf.EventBus); err != nil {
			log.Warn("buttons: %v", err)
		}
	}

	dash := dashboard.New(store, conf.EventBus, fwd.Enabled)

	// attach web handler enabled services
	server := rootserv.New(conf.HTTP.Addr)
	server.Attach("/", "Dashboard redirect", http.RedirectHandler("/dashboard/", http.StatusTemporaryRedirect))
	server.Attach("/dashboard", "Bed Dashboard", dash)
	server.Attach("/logger", "Logger", logger.WebService())
	server.Attach("/monitor", "System Monitor", sysmon.New(monitoredDisks(logPath)...))
	server.Attach("/metrics", "Prometheus Metrics", m.Handler())

	// boot bring-up; failures leave the device in offline mode
	log.Info("Bringing up network...")
	netManager.Tick(ctx)
	publisher.Tick(ctx)

	task := func(name string, tc config.TaskConfig, tick func(context.Context)) *service.Periodic {
		label := strings.ToLower(name)
		return &service.Periodic{
			Name:   name,
			Prio:   tc.Priority,
			Period: tc.Period,
			Tick:   tick,
			OnTick: func(d time.Duration) { m.TaskCycle(label, d.Seconds()) },
		}
	}

	dashTask := task("Dashboard", conf.Tasks.Dashboard, dash.Tick)
	dashTask.Teardown = dash.Close

	// start runnable services
	exitCh := service.Start(ctx, ctxCancel, []service.Runnable{
		task("Actuation", conf.Tasks.Actuation, actuator.Tick),
		task("Sensors", conf.Tasks.Acquisition, acquisition.Tick),
		task("Network", conf.Tasks.Network, netManager.Tick),
		task("Telemetry", conf.Tasks.Telemetry, publisher.Tick),
		task("Forwarder", conf.Tasks.Forwarder, fwd.Tick),
		dashTask,
		runFunc(func(ctx context.Context) { fwd.Listen(ctx, conf.EventBus) }),
		runFunc(dash.Stream),
		server,
	})

	// waits for all services to stop
	code := <-exitCh
	shutdown(actuator, publisher, closers)
	conf.EventBus.Close()
	logger.Close()
	os.Exit(code)
}

func setupActuators(ctx context.Context, conf *config.Config, chip *gpio.Chip) (actuation.Outputs, func() error) {
	switch conf.Actuators.Backend {
	case "modbus":
		mc := conf.Actuators.Modbus
		client, err := modbus.Dial(ctx, modbus.Config{
			Host:    mc.Host,
			Port:    mc.Port,
			SlaveID: mc.SlaveID,
			Timeout: mc.Timeout,
		})
		if err != nil {
			log.Fatal("modbus actuators: %v", err)
		}
		if regs, err := client.ReadRegisters(ctx, mc.ServoRegister, 1); err == nil && len(regs) == 2 {
			log.Info("Servo driver reports position %d", uint16(regs[0])<<8|uint16(regs[1]))
		} else if err != nil {
			log.Warn("servo driver check: %v", err)
		}
		backend := actuation.NewModbusBackend(client, mc)
		return backend.Outputs(), func() error {
			client.Close()
			return nil
		}

	default:
		backend, err := actuation.NewGPIOBackend(chip, conf.Actuators.GPIO)
		if err != nil {
			log.Fatal("gpio actuators: %v", err)
		}
		return backend.Outputs(), backend.Close
	}
}

func shutdown(actuator *actuation.Task, publisher *telemetry.Publisher, closers []func() error) {
	ctx, cancel := appctx.Shutdown(shutdownGrace)
	defer cancel()

	log.Info("Shutting down...")
	if err := actuator.Park(); err != nil {
		log.Error("park actuators: %v", err)
	}
	publisher.Shutdown(ctx)

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.Warn("close: %v", err)
		}
	}
}

func scanBus(bus *i2c.Bus, wait time.Duration) {
	if err := bus.Acquire(wait); err != nil {
		log.Warn("scan %s: %v", bus.Path(), err)
		return
	}
	found := bus.Scan()
	bus.Release()

	addrs := make([]string, len(found))
	for i, a := range found {
		addrs[i] = fmt.Sprintf("0x%02x", a)
	}
	log.Info("%s: %d device(s) [%s]", bus.Path(), len(found), strings.Join(addrs, " "))
}

func monitoredDisks(logPath string) []string {
	disks := []string{"/"}
	if logPath != "" {
		disks = append(disks, filepath.Dir(logPath))
	}
	return disks
}

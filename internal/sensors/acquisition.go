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

package sensors

import (
	"bedguard/internal/config"
	"bedguard/internal/metrics"
	"bedguard/internal/state"
	"bedguard/pkg/logger"
	"context"
	"time"
)

const ahtResetDelay = 20 * time.Millisecond

// Bus is the shared sensor bus lock.
type Bus interface {
	Acquire(d time.Duration) error
	Release()
}

// Acquisition samples the tilt every cycle and the climate every Nth
// cycle, then writes both into the state store. It is the only writer of
// sensed values.
type Acquisition struct {
	bus     Bus
	mpu     *MPU6050
	aht     *AHT10
	store   *state.Store
	metrics *metrics.Metrics
	log     *logger.Logger
	sleep   func(ctx context.Context, d time.Duration) bool

	axes        Axes
	busTimeout  time.Duration
	longTimeout time.Duration
	settle      time.Duration
	cycle       *MeasurementCycle

	mpuAwake      bool
	ahtCalibrated bool

	// last good values
	haveAngle bool
	angle     float64
	climate   Climate
	valid     bool
}

func NewAcquisition(bus Bus, mpu, aht Device, store *state.Store, cfg config.SensorsConfig) (*Acquisition, error) {
	axes, err := ParseAxes(cfg.TiltAxes)
	if err != nil {
		return nil, err
	}
	return &Acquisition{
		bus:         bus,
		mpu:         NewMPU6050(mpu),
		aht:         NewAHT10(aht),
		store:       store,
		log:         logger.New("Sensors"),
		sleep:       sleepCtx,
		axes:        axes,
		busTimeout:  cfg.BusTimeout,
		longTimeout: cfg.LongBusTimeout,
		settle:      cfg.Settle,
		cycle:       NewMeasurementCycle(cfg.HumidityEvery),
	}, nil
}

func (a *Acquisition) WithMetrics(m *metrics.Metrics) *Acquisition {
	a.metrics = m
	return a
}

func (a *Acquisition) Cycle() *MeasurementCycle { return a.cycle }

// Tick runs one acquisition cycle.
func (a *Acquisition) Tick(ctx context.Context) {
	if !a.mpuAwake || !a.ahtCalibrated {
		a.initSensors(ctx)
	}

	if err := a.bus.Acquire(a.busTimeout); err != nil {
		a.metrics.LockTimeout("sensor-bus")
		a.log.Debug("skipping cycle: %v", err)
		return
	}
	acc, err := a.mpu.ReadAccel()
	a.bus.Release()

	if err != nil {
		a.metrics.SensorError("mpu6050")
		a.log.Error("%v", err)
		a.mpuAwake = false
	} else {
		a.angle = a.axes.Tilt(acc)
		a.haveAngle = true
	}

	if a.cycle.Due() {
		a.measureClimate(ctx)
	}

	// no angle yet means nothing trustworthy to publish
	if !a.haveAngle {
		return
	}
	a.store.UpdateSensed(a.angle, a.climate.Temperature, a.climate.Humidity, a.valid)
}

// measureClimate triggers the AHT10, lets go of the bus while it
// converts, then comes back for the result. Any failure keeps the
// previous climate values. The cycle phase is left where the measurement
// stopped until the next one starts.
func (a *Acquisition) measureClimate(ctx context.Context) {
	a.cycle.reset()

	if err := a.bus.Acquire(a.longTimeout); err != nil {
		a.metrics.LockTimeout("sensor-bus")
		a.log.Debug("climate trigger skipped: %v", err)
		return
	}
	err := a.aht.Trigger()
	if err == nil {
		a.cycle.advance(PhaseTriggered)
	}
	a.bus.Release()
	if err != nil {
		a.climateFailed(err)
		a.ahtCalibrated = false
		return
	}

	a.cycle.advance(PhaseSettling)
	if !a.sleep(ctx, a.settle) {
		return
	}

	if err := a.bus.Acquire(a.longTimeout); err != nil {
		a.metrics.LockTimeout("sensor-bus")
		a.log.Debug("climate read skipped while %s: %v", a.cycle.Phase(), err)
		return
	}
	c, err := a.aht.Result()
	a.bus.Release()
	if err != nil {
		a.climateFailed(err)
		return
	}

	a.cycle.advance(PhaseReady)
	a.climate = c
	a.valid = true
	a.log.Info("Temp: %.1fC, Hum: %.1f%%", c.Temperature, c.Humidity)
}

func (a *Acquisition) climateFailed(err error) {
	a.metrics.SensorError("aht10")
	a.log.Error("climate measurement failed while %s: %v", a.cycle.Phase(), err)
}

func (a *Acquisition) initSensors(ctx context.Context) {
	if !a.mpuAwake {
		if err := a.bus.Acquire(a.longTimeout); err != nil {
			a.metrics.LockTimeout("sensor-bus")
			return
		}
		err := a.mpu.Wake()
		a.bus.Release()
		if err != nil {
			a.metrics.SensorError("mpu6050")
			a.log.Error("%v", err)
		} else {
			a.mpuAwake = true
			a.log.Info("MPU6050 awake")
		}
	}

	if !a.ahtCalibrated {
		if err := a.bus.Acquire(a.longTimeout); err != nil {
			a.metrics.LockTimeout("sensor-bus")
			return
		}
		err := a.aht.Reset()
		if err == nil {
			a.sleep(ctx, ahtResetDelay)
			err = a.aht.Calibrate()
		}
		a.bus.Release()
		if err != nil {
			a.metrics.SensorError("aht10")
			a.log.Error("%v", err)
		} else {
			a.ahtCalibrated = true
			a.log.Info("AHT10 calibrated")
		}
	}
}

// sleepCtx waits d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

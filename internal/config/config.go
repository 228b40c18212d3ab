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

package config

import (
	"bedguard/pkg/eventbus"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type SafetyConfig struct {
	AngleMin    float64 `yaml:"angle_min"`
	AngleMax    float64 `yaml:"angle_max"`
	TargetAngle float64 `yaml:"target_angle"`
	// Correction is clamped to +/- this many degrees.
	MaxCorrection float64 `yaml:"max_correction"`
}

type TaskConfig struct {
	Period   time.Duration `yaml:"period"`
	Priority int           `yaml:"priority"`
}

type TasksConfig struct {
	Actuation   TaskConfig `yaml:"actuation"`
	Acquisition TaskConfig `yaml:"acquisition"`
	Network     TaskConfig `yaml:"network"`
	Telemetry   TaskConfig `yaml:"telemetry"`
	Forwarder   TaskConfig `yaml:"forwarder"`
	Dashboard   TaskConfig `yaml:"dashboard"`
}

type StateConfig struct {
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type SensorsConfig struct {
	BusPath        string        `yaml:"bus_path"`
	DisplayBusPath string        `yaml:"display_bus_path"`
	BusTimeout     time.Duration `yaml:"bus_timeout"`
	// Bus wait for sensor init and the humidity phase.
	LongBusTimeout time.Duration `yaml:"long_bus_timeout"`
	MPU6050Addr    uint16        `yaml:"mpu6050_addr"`
	AHT10Addr      uint16        `yaml:"aht10_addr"`
	// Run the humidity/temperature measurement every Nth cycle.
	HumidityEvery int           `yaml:"humidity_every"`
	Settle        time.Duration `yaml:"settle"`
	// Two of "x", "y", "z": tilt = atan2(first, second).
	TiltAxes    string `yaml:"tilt_axes"`
	ScanOnStart bool   `yaml:"scan_on_start"`
}

type GPIOConfig struct {
	Chip       string `yaml:"chip"`
	LEDLine    int    `yaml:"led_line"`
	BuzzerLine int    `yaml:"buzzer_line"`
	PWMChip    int    `yaml:"pwm_chip"`
	PWMChannel int    `yaml:"pwm_channel"`
	// Servo pulse period and the pulse widths for 0 and 180 degrees.
	PWMPeriod time.Duration `yaml:"pwm_period"`
	PulseMin  time.Duration `yaml:"pulse_min"`
	PulseMax  time.Duration `yaml:"pulse_max"`
}

type ModbusConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	SlaveID       byte          `yaml:"slave_id"`
	Timeout       time.Duration `yaml:"timeout"`
	ServoRegister uint16        `yaml:"servo_register"`
	LEDCoil       uint16        `yaml:"led_coil"`
	BuzzerCoil    uint16        `yaml:"buzzer_coil"`
}

type ActuatorsConfig struct {
	// "gpio" or "modbus"
	Backend string       `yaml:"backend"`
	GPIO    GPIOConfig   `yaml:"gpio"`
	Modbus  ModbusConfig `yaml:"modbus"`
}

type WifiConfig struct {
	SSID           string        `yaml:"ssid"`
	Password       string        `yaml:"password"`
	Interface      string        `yaml:"interface"`
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	// Pause around deinit/init while re-initialising the link.
	ReinitPause time.Duration `yaml:"reinit_pause"`
}

type TopicsConfig struct {
	Temperature string `yaml:"temperature"`
	Humidity    string `yaml:"humidity"`
	Angle       string `yaml:"angle"`
	Status      string `yaml:"status"`
	Alarm       string `yaml:"alarm"`
}

type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	Port           int           `yaml:"port"`
	ClientID       string        `yaml:"client_id"`
	KeepAlive      uint16        `yaml:"keepalive"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
	ConnectPolls   int           `yaml:"connect_polls"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PublishGap     time.Duration `yaml:"publish_gap"`
	Topics         TopicsConfig  `yaml:"topics"`
	StatusOnline   string        `yaml:"status_online"`
	StatusOffline  string        `yaml:"status_offline"`
	AlarmActive    string        `yaml:"alarm_active"`
	AlarmClear     string        `yaml:"alarm_clear"`
}

type CryptoConfig struct {
	Key           string `yaml:"key"`
	IV            string `yaml:"iv"`
	MaxPayload    int    `yaml:"max_payload"`
	StrictPadding bool   `yaml:"strict_padding"`
}

type ForwarderConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	Timeout     time.Duration `yaml:"timeout"`
	EnableLine  int           `yaml:"enable_line"`
	DisableLine int           `yaml:"disable_line"`
	// Start with transmission enabled.
	StartEnabled bool `yaml:"start_enabled"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Debug      bool   `yaml:"debug"`
}

type Config struct {
	Safety    SafetyConfig    `yaml:"safety"`
	Tasks     TasksConfig     `yaml:"tasks"`
	State     StateConfig     `yaml:"state"`
	Sensors   SensorsConfig   `yaml:"sensors"`
	Actuators ActuatorsConfig `yaml:"actuators"`
	Wifi      WifiConfig      `yaml:"wifi"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`

	// not loaded from file, but added here to
	// pass to all services alongside config
	EventBus *eventbus.Bus `yaml:"-"`
}

// LoadFile reads, defaults and validates the config at path.
// Any failure is fatal: the device must not start half configured.
func LoadFile(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("open config: %v", err)
	}
	c, err := Parse(data)
	if err != nil {
		log.Fatalf("config %s: %v", path, err)
	}
	return c
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setString(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

func setTask(t *TaskConfig, period time.Duration, prio int) {
	setDuration(&t.Period, period)
	setInt(&t.Priority, prio)
}

func (c *Config) applyDefaults() {
	// safety
	if c.Safety.AngleMin == 0 && c.Safety.AngleMax == 0 {
		c.Safety.AngleMin = 30
		c.Safety.AngleMax = 45
	}
	if c.Safety.TargetAngle == 0 {
		c.Safety.TargetAngle = (c.Safety.AngleMin + c.Safety.AngleMax) / 2
	}
	if c.Safety.MaxCorrection == 0 {
		c.Safety.MaxCorrection = 30
	}

	// tasks
	setTask(&c.Tasks.Actuation, 200*time.Millisecond, 4)
	setTask(&c.Tasks.Acquisition, 250*time.Millisecond, 3)
	setTask(&c.Tasks.Network, 10*time.Second, 2)
	setTask(&c.Tasks.Telemetry, 5*time.Second, 1)
	setTask(&c.Tasks.Forwarder, 2*time.Second, 1)
	setTask(&c.Tasks.Dashboard, time.Second, 0)

	setDuration(&c.State.LockTimeout, 50*time.Millisecond)

	// sensors
	s := &c.Sensors
	setString(&s.BusPath, "/dev/i2c-1")
	setString(&s.DisplayBusPath, "/dev/i2c-3")
	setDuration(&s.BusTimeout, 100*time.Millisecond)
	setDuration(&s.LongBusTimeout, 200*time.Millisecond)
	if s.MPU6050Addr == 0 {
		s.MPU6050Addr = 0x68
	}
	if s.AHT10Addr == 0 {
		s.AHT10Addr = 0x38
	}
	setInt(&s.HumidityEvery, 12)
	setDuration(&s.Settle, 80*time.Millisecond)
	setString(&s.TiltAxes, "yz")

	// actuators
	a := &c.Actuators
	setString(&a.Backend, "gpio")
	setString(&a.GPIO.Chip, "gpiochip0")
	setInt(&a.GPIO.LEDLine, 13)
	setInt(&a.GPIO.BuzzerLine, 10)
	setDuration(&a.GPIO.PWMPeriod, 20*time.Millisecond)
	setDuration(&a.GPIO.PulseMin, 500*time.Microsecond)
	setDuration(&a.GPIO.PulseMax, 2500*time.Microsecond)
	setInt(&a.Modbus.Port, 502)
	if a.Modbus.SlaveID == 0 {
		a.Modbus.SlaveID = 1
	}
	setDuration(&a.Modbus.Timeout, 500*time.Millisecond)
	if a.Modbus.LEDCoil == a.Modbus.BuzzerCoil {
		a.Modbus.BuzzerCoil = a.Modbus.LEDCoil + 1
	}

	// wifi
	w := &c.Wifi
	setString(&w.Interface, "wlan0")
	setInt(&w.MaxAttempts, 5)
	setDuration(&w.AttemptTimeout, 15*time.Second)
	setDuration(&w.RetryDelay, 3*time.Second)
	setDuration(&w.ReinitPause, 500*time.Millisecond)

	// mqtt
	m := &c.MQTT
	setString(&m.Broker, "test.mosquitto.org")
	setInt(&m.Port, 1883)
	if m.KeepAlive == 0 {
		m.KeepAlive = 60
	}
	setDuration(&m.ResolveTimeout, 5*time.Second)
	setInt(&m.ConnectPolls, 30)
	setDuration(&m.PollInterval, 100*time.Millisecond)
	setDuration(&m.PublishGap, 100*time.Millisecond)
	setString(&m.Topics.Temperature, "hospital/cama/temperatura")
	setString(&m.Topics.Humidity, "hospital/cama/umidade")
	setString(&m.Topics.Angle, "hospital/cama/angulo")
	setString(&m.Topics.Status, "hospital/cama/status")
	setString(&m.Topics.Alarm, "hospital/cama01/alerta")
	setString(&m.StatusOnline, "online")
	setString(&m.StatusOffline, "offline")
	setString(&m.AlarmActive, "ATIVO")
	setString(&m.AlarmClear, "OK")

	// crypto
	setString(&c.Crypto.Key, "SEGURANCA1234567")
	setString(&c.Crypto.IV, "INICIALIV1234567")
	setInt(&c.Crypto.MaxPayload, 128)

	// forwarder
	f := &c.Forwarder
	setString(&f.Port, "/dev/ttyS0")
	setInt(&f.Baud, 115200)
	setDuration(&f.Timeout, time.Second)
	setInt(&f.EnableLine, 5)
	setInt(&f.DisableLine, 6)

	setString(&c.HTTP.Addr, ":8080")

	setString(&c.Log.Path, "bedguard.log")
	setInt(&c.Log.MaxSizeMB, 10)
	setInt(&c.Log.MaxBackups, 3)
	setInt(&c.Log.MaxAgeDays, 28)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Safety.AngleMin > c.Safety.AngleMax {
		add("safety: angle_min %.1f > angle_max %.1f", c.Safety.AngleMin, c.Safety.AngleMax)
	}
	if c.Safety.MaxCorrection <= 0 {
		add("safety: max_correction must be positive")
	}

	tasks := map[string]TaskConfig{
		"actuation":   c.Tasks.Actuation,
		"acquisition": c.Tasks.Acquisition,
		"network":     c.Tasks.Network,
		"telemetry":   c.Tasks.Telemetry,
		"forwarder":   c.Tasks.Forwarder,
		"dashboard":   c.Tasks.Dashboard,
	}
	for name, t := range tasks {
		if t.Period <= 0 {
			add("tasks.%s: period must be positive", name)
		}
	}

	if c.State.LockTimeout <= 0 {
		add("state: lock_timeout must be positive")
	}
	if c.Sensors.BusTimeout <= 0 {
		add("sensors: bus_timeout must be positive")
	}
	if c.Sensors.HumidityEvery < 1 {
		add("sensors: humidity_every must be >= 1")
	}
	if err := validAxes(c.Sensors.TiltAxes); err != nil {
		add("sensors: %v", err)
	}

	switch c.Actuators.Backend {
	case "gpio":
		if c.Actuators.GPIO.PulseMin >= c.Actuators.GPIO.PulseMax {
			add("actuators.gpio: pulse_min must be below pulse_max")
		}
		if c.Actuators.GPIO.PulseMax >= c.Actuators.GPIO.PWMPeriod {
			add("actuators.gpio: pulse_max must be below pwm_period")
		}
	case "modbus":
		if c.Actuators.Modbus.Host == "" {
			add("actuators.modbus: host required")
		}
	default:
		add("actuators: unknown backend %q", c.Actuators.Backend)
	}

	if c.Wifi.MaxAttempts < 1 {
		add("wifi: max_attempts must be >= 1")
	}
	if c.Wifi.AttemptTimeout <= 0 {
		add("wifi: attempt_timeout must be positive")
	}

	t := c.MQTT.Topics
	for name, topic := range map[string]string{
		"temperature": t.Temperature,
		"humidity":    t.Humidity,
		"angle":       t.Angle,
		"status":      t.Status,
		"alarm":       t.Alarm,
	} {
		if topic == "" {
			add("mqtt.topics: %s is empty", name)
		}
	}
	if c.MQTT.ConnectPolls < 1 {
		add("mqtt: connect_polls must be >= 1")
	}

	if len(c.Crypto.Key) != 16 {
		add("crypto: key must be 16 bytes, got %d", len(c.Crypto.Key))
	}
	if len(c.Crypto.IV) != 16 {
		add("crypto: iv must be 16 bytes, got %d", len(c.Crypto.IV))
	}
	if c.Crypto.MaxPayload < 16 || c.Crypto.MaxPayload%16 != 0 {
		add("crypto: max_payload must be a positive multiple of 16")
	}

	if c.Forwarder.Baud <= 0 {
		add("forwarder: baud must be positive")
	}

	return errors.Join(errs...)
}

func validAxes(axes string) error {
	if len(axes) != 2 || axes[0] == axes[1] {
		return fmt.Errorf("tilt_axes %q must name two distinct axes", axes)
	}
	for _, a := range axes {
		if a != 'x' && a != 'y' && a != 'z' {
			return fmt.Errorf("tilt_axes %q: unknown axis %q", axes, a)
		}
	}
	return nil
}

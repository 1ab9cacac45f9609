// Package config loads serialmon settings.
//
// Precedence: defaults, then the YAML file, then SERIALMON_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const EnvPrefix = "SERIALMON_"

// Driver names accepted in SerialConfig.Driver.
const (
	DriverTermios  = "termios"
	DriverPortable = "portable"
)

type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Monitor MonitorConfig `yaml:"monitor"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type SerialConfig struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	Driver   string `yaml:"driver"`
	// Delimiter is a single character or a 0x-prefixed byte value.
	Delimiter   string        `yaml:"delimiter"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// SendOnStart is written to the device, followed by the delimiter,
	// once the port is open.
	SendOnStart string `yaml:"send_on_start"`
}

type MonitorConfig struct {
	MaxBufferSize int           `yaml:"max_buffer_size"`
	IdleSleep     time.Duration `yaml:"idle_sleep"`
}

type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level"`
	// json, console
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics when non-empty, e.g. ":9110".
	Addr string `yaml:"addr"`
}

func Default() Config {
	return Config{
		Serial: SerialConfig{
			Device:    "/dev/ttyUSB0",
			BaudRate:  115200,
			Driver:    DriverTermios,
			Delimiter: `\n`,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds a Config. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("DEVICE", &cfg.Serial.Device)
	str("DRIVER", &cfg.Serial.Driver)
	str("DELIMITER", &cfg.Serial.Delimiter)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("METRICS_ADDR", &cfg.Metrics.Addr)

	if v, ok := os.LookupEnv(EnvPrefix + "BAUD_RATE"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sBAUD_RATE %q: %w", EnvPrefix, v, err)
		}
		cfg.Serial.BaudRate = n
	}
	if v, ok := os.LookupEnv(EnvPrefix + "IDLE_SLEEP"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sIDLE_SLEEP %q: %w", EnvPrefix, v, err)
		}
		cfg.Monitor.IdleSleep = d
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Serial.Device == "" {
		errs = append(errs, errors.New("serial.device is required"))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate))
	}
	switch c.Serial.Driver {
	case DriverTermios, DriverPortable:
	default:
		errs = append(errs, fmt.Errorf("serial.driver %q is not one of %s, %s", c.Serial.Driver, DriverTermios, DriverPortable))
	}
	if _, err := c.Serial.DelimiterByte(); err != nil {
		errs = append(errs, err)
	}
	if c.Monitor.MaxBufferSize < 0 {
		errs = append(errs, errors.New("monitor.max_buffer_size must not be negative"))
	}
	if c.Monitor.IdleSleep < 0 {
		errs = append(errs, errors.New("monitor.idle_sleep must not be negative"))
	}
	return errors.Join(errs...)
}

// DelimiterByte parses Delimiter. Accepted forms: a single character,
// the escapes \n \r \0, or a byte value such as 0x0A.
func (s SerialConfig) DelimiterByte() (byte, error) {
	raw := s.Delimiter
	switch raw {
	case "":
		return '\n', nil
	case `\n`:
		return '\n', nil
	case `\r`:
		return '\r', nil
	case `\0`:
		return 0, nil
	}
	if len(raw) == 1 {
		return raw[0], nil
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		n, err := strconv.ParseUint(raw[2:], 16, 8)
		if err == nil {
			return byte(n), nil
		}
	}
	return 0, fmt.Errorf("serial.delimiter %q must be a single byte", raw)
}

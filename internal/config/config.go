// Package config resolves serialterm settings from defaults, a config
// file, SERIALTERM_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/serialtest"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides
const EnvPrefix = "SERIALTERM"

// Driver names
const (
	DriverUnix     = "unix"
	DriverPortable = "portable"
	DriverLoop     = "loop"
)

// LoopDevice selects the in-memory loopback device regardless of driver
const LoopDevice = "loop://"

// Config is the effective configuration
type Config struct {
	Port               string        `mapstructure:"port"`
	Driver             string        `mapstructure:"driver"`
	Baud               int           `mapstructure:"baud"`
	DataBits           int           `mapstructure:"data_bits"`
	StopBits           int           `mapstructure:"stop_bits"`
	Parity             string        `mapstructure:"parity"`
	FlowControl        string        `mapstructure:"flow_control"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ShowControlLines   bool          `mapstructure:"show_control_lines"`
	AssertControlLines bool          `mapstructure:"assert_control_lines"`
	Newline            string        `mapstructure:"newline"`
	Hex                bool          `mapstructure:"hex"`
	Listen             string        `mapstructure:"listen"`
	LogLevel           string        `mapstructure:"log_level"`
	LogFile            string        `mapstructure:"log_file"`
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "")
	v.SetDefault("driver", DriverUnix)
	v.SetDefault("baud", 115200)
	v.SetDefault("data_bits", 8)
	v.SetDefault("stop_bits", 1)
	v.SetDefault("parity", "none")
	v.SetDefault("flow_control", "none")
	v.SetDefault("write_timeout", 200*time.Millisecond)
	v.SetDefault("poll_interval", 200*time.Millisecond)
	v.SetDefault("show_control_lines", false)
	v.SetDefault("assert_control_lines", true)
	v.SetDefault("newline", "crlf")
	v.SetDefault("hex", false)
	v.SetDefault("listen", "127.0.0.1:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}

// New returns a viper instance with defaults and environment binding
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads path, or $HOME/.serialterm.yaml when path is empty. A
// missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(".serialterm")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load unmarshals and validates the configuration
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every field that can be checked without opening the device
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverUnix, DriverPortable, DriverLoop:
	default:
		return fmt.Errorf("driver %q: %w", c.Driver, serial.ErrInvalidConfig)
	}
	if _, err := c.Options(); err != nil {
		return err
	}
	if _, err := c.FlowControlMode(); err != nil {
		return fmt.Errorf("flow_control %q: %w", c.FlowControl, err)
	}
	if _, err := c.NewlineBytes(); err != nil {
		return err
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive: %w", serial.ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive: %w", serial.ErrInvalidConfig)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// FlowControlMode parses the flow_control setting
func (c *Config) FlowControlMode() (serial.FlowControl, error) {
	return serial.ParseFlowControl(c.FlowControl)
}

// Options converts the line settings to driver options. Flow control is
// left to the monitor, which falls back to none when it is unsupported.
func (c *Config) Options() ([]serial.Option, error) {
	parity, err := serial.ParseParity(c.Parity)
	if err != nil {
		return nil, fmt.Errorf("parity %q: %w", c.Parity, err)
	}
	opts := []serial.Option{
		serial.WithBaudRate(c.Baud),
		serial.WithDataBits(c.DataBits),
		serial.WithStopBits(c.StopBits),
		serial.WithParity(parity),
	}

	cfg := serial.DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// NewDriver builds the configured driver for the configured port
func (c *Config) NewDriver() (serial.Driver, error) {
	if c.Driver == DriverLoop || c.Port == LoopDevice {
		return serialtest.Loopback(), nil
	}
	if c.Port == "" {
		return nil, fmt.Errorf("no port given: %w", serial.ErrInvalidConfig)
	}

	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	if c.Driver == DriverPortable {
		return serial.NewPortableDriver(c.Port, opts...)
	}
	return serial.NewDriver(c.Port, opts...)
}

// NewlineBytes returns the line terminator appended to typed input
func (c *Config) NewlineBytes() ([]byte, error) {
	switch strings.ToLower(c.Newline) {
	case "crlf":
		return []byte("\r\n"), nil
	case "cr":
		return []byte("\r"), nil
	case "lf":
		return []byte("\n"), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("newline %q: %w", c.Newline, serial.ErrInvalidConfig)
	}
}

// Level parses log_level
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, serial.ErrInvalidConfig)
	}
	return level, nil
}

// dumpView is the yaml form of Config; durations print as "200ms"
type dumpView struct {
	Port               string `yaml:"port"`
	Driver             string `yaml:"driver"`
	Baud               int    `yaml:"baud"`
	DataBits           int    `yaml:"data_bits"`
	StopBits           int    `yaml:"stop_bits"`
	Parity             string `yaml:"parity"`
	FlowControl        string `yaml:"flow_control"`
	WriteTimeout       string `yaml:"write_timeout"`
	PollInterval       string `yaml:"poll_interval"`
	ShowControlLines   bool   `yaml:"show_control_lines"`
	AssertControlLines bool   `yaml:"assert_control_lines"`
	Newline            string `yaml:"newline"`
	Hex                bool   `yaml:"hex"`
	Listen             string `yaml:"listen"`
	LogLevel           string `yaml:"log_level"`
	LogFile            string `yaml:"log_file,omitempty"`
}

// Dump writes the configuration as yaml, in a form ReadFile accepts
func (c *Config) Dump(w io.Writer) error {
	view := dumpView{
		Port:               c.Port,
		Driver:             c.Driver,
		Baud:               c.Baud,
		DataBits:           c.DataBits,
		StopBits:           c.StopBits,
		Parity:             c.Parity,
		FlowControl:        c.FlowControl,
		WriteTimeout:       c.WriteTimeout.String(),
		PollInterval:       c.PollInterval.String(),
		ShowControlLines:   c.ShowControlLines,
		AssertControlLines: c.AssertControlLines,
		Newline:            c.Newline,
		Hex:                c.Hex,
		Listen:             c.Listen,
		LogLevel:           c.LogLevel,
		LogFile:            c.LogFile,
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&view); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

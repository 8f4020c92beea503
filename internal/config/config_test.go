package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/serialtest"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(New())
	require.NoError(t, err)

	require.Equal(t, DriverUnix, c.Driver)
	require.Equal(t, 115200, c.Baud)
	require.Equal(t, 200*time.Millisecond, c.WriteTimeout)
	require.Equal(t, 200*time.Millisecond, c.PollInterval)
	require.True(t, c.AssertControlLines)

	mode, err := c.FlowControlMode()
	require.NoError(t, err)
	require.Equal(t, serial.FlowControlNone, mode)

	nl, err := c.NewlineBytes()
	require.NoError(t, err)
	require.Equal(t, []byte("\r\n"), nl)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Driver = "usb" }},
		{"bad baud", func(c *Config) { c.Baud = 123456 }},
		{"bad data bits", func(c *Config) { c.DataBits = 9 }},
		{"bad parity", func(c *Config) { c.Parity = "x" }},
		{"bad flow control", func(c *Config) { c.FlowControl = "smoke-signals" }},
		{"bad newline", func(c *Config) { c.Newline = "crcr" }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Load(New())
			require.NoError(t, err)
			tt.modify(c)
			require.Error(t, c.Validate())
		})
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("SERIALTERM_BAUD", "9600")
	t.Setenv("SERIALTERM_FLOW_CONTROL", "rtscts")

	c, err := Load(New())
	require.NoError(t, err)
	require.Equal(t, 9600, c.Baud)
	require.Equal(t, "rtscts", c.FlowControl)
}

func TestDumpRoundTrip(t *testing.T) {
	v := New()
	v.Set("port", "/dev/ttyUSB0")
	v.Set("flow_control", "rtscts")
	v.Set("write_timeout", "500ms")
	c, err := Load(v)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.Dump(&buf))
	require.Contains(t, buf.String(), "flow_control: rtscts")
	require.Contains(t, buf.String(), "write_timeout: 500ms")

	path := filepath.Join(t.TempDir(), "serialterm.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	reloaded := New()
	require.NoError(t, ReadFile(reloaded, path))
	c2, err := Load(reloaded)
	require.NoError(t, err)
	require.Equal(t, c, c2)
}

func TestNewDriver(t *testing.T) {
	c, err := Load(New())
	require.NoError(t, err)

	_, err = c.NewDriver()
	require.ErrorIs(t, err, serial.ErrInvalidConfig)

	c.Port = LoopDevice
	d, err := c.NewDriver()
	require.NoError(t, err)
	require.IsType(t, &serialtest.Driver{}, d)

	c.Port = "/dev/ttyS0"
	d, err = c.NewDriver()
	require.NoError(t, err)
	require.IsType(t, &serial.UnixDriver{}, d)

	c.Driver = DriverPortable
	d, err = c.NewDriver()
	require.NoError(t, err)
	require.IsType(t, &serial.PortableDriver{}, d)
}

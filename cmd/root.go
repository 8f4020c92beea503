/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/allbin/serialterm/internal/config"
	"github.com/allbin/serialterm/session"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfgFile string
	v       = config.New()
	logFile io.Closer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "serialterm",
	Short: "Serial terminal with flow control and background delivery",
	Long: `serialterm talks to serial devices.

Received data is relayed to whichever view is in the foreground. When the
view goes to the background, or a remote client disconnects, data is held
and delivered in order once a consumer returns.

Settings come from flags, SERIALTERM_* environment variables and
$HOME/.serialterm.yaml, in that order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadFile(v, cfgFile); err != nil {
			return err
		}
		go watchBackgroundDisconnect()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.serialterm.yaml)")
	flags.StringP("port", "p", "", "serial device, or loop:// for the loopback device")
	flags.String("driver", config.DriverUnix, "device driver: unix, portable, loop")
	flags.IntP("baud", "b", 115200, "baud rate")
	flags.Int("data-bits", 8, "data bits (5-8)")
	flags.Int("stop-bits", 1, "stop bits (1-2)")
	flags.String("parity", "none", "parity: none, odd, even, mark, space")
	flags.StringP("flow-control", "f", "none", "flow control: none, rtscts, dtrdsr, xonxoff, inline")
	flags.Duration("write-timeout", 200*time.Millisecond, "time allowed per write attempt")
	flags.Duration("poll-interval", 200*time.Millisecond, "control line refresh period")
	flags.Bool("show-control-lines", false, "show the control line panel on connect")
	flags.Bool("assert-control-lines", true, "raise DTR and RTS when the port opens")
	flags.String("newline", "crlf", "line ending appended to typed input: crlf, cr, lf, none")
	flags.Bool("hex", false, "hex display and input")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-file", "", "write logs to this file instead of stderr")

	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		cobra.CheckErr(v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f))
	})
}

// watchBackgroundDisconnect drops every open connection on SIGUSR1, the
// way a suspended terminal releases its devices
func watchBackgroundDisconnect() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	for range ch {
		slog.Info("background disconnect requested")
		session.DisconnectAll.Fire()
	}
}

// loadConfig resolves the effective configuration and installs the
// logger. A positional port argument overrides --port. logs receives log
// output unless a log file is configured.
func loadConfig(port string, logs io.Writer) (*config.Config, error) {
	if port != "" {
		v.Set("port", port)
	}
	c, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(c, logs); err != nil {
		return nil, err
	}
	return c, nil
}

// setupLogging installs the default slog logger. fallback receives logs
// when no log file is configured.
func setupLogging(c *config.Config, fallback io.Writer) error {
	level, err := c.Level()
	if err != nil {
		return err
	}

	w := fallback
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		w = f
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return nil
}

// portArg returns the optional positional port argument
func portArg(args []string, index int) string {
	if len(args) > index {
		return args[index]
	}
	return ""
}

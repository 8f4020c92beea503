/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/flowcontrol"
	"github.com/allbin/serialterm/internal/config"
	"github.com/allbin/serialterm/internal/tui/components"
	"github.com/spf13/cobra"
)

var (
	listenOutput     string
	listenTimestamps bool
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen [port]",
	Short: "Print data received on a serial port",
	Long: `Print incoming data on a serial port until interrupted.

Raw bytes are written to stdout as they arrive. With --hex each chunk is
printed as a formatted line instead. --output appends the raw stream to a
file as well, so a capture survives restarts.

Example usage:
  serialterm listen /dev/ttyUSB0
  serialterm listen /dev/ttyUSB0 --hex --timestamps
  serialterm listen /dev/ttyUSB0 --output capture.bin`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(portArg(args, 0), os.Stderr)
		if err != nil {
			return err
		}
		flow, err := c.FlowControlMode()
		if err != nil {
			return err
		}

		out := io.Writer(os.Stdout)
		if listenOutput != "" {
			f, err := os.OpenFile(listenOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open output file: %w", err)
			}
			defer f.Close()
			if c.Hex {
				// The file keeps the raw stream; only stdout is formatted
				return runListen(cmd, c, flow, os.Stdout, f)
			}
			out = io.MultiWriter(os.Stdout, f)
		}
		return runListen(cmd, c, flow, out, nil)
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVarP(&listenOutput, "output", "o", "", "append received data to this file")
	listenCmd.Flags().BoolVar(&listenTimestamps, "timestamps", false, "prefix each chunk with the time it arrived")
}

func runListen(cmd *cobra.Command, c *config.Config, flow serial.FlowControl, out, raw io.Writer) error {
	sess, loop, err := openSession(c)
	if err != nil {
		return err
	}
	defer closeSession(sess, loop)

	// Inline XON/XOFF must be stripped before printing
	monitor := flowcontrol.New(sess, loop, flowcontrol.WithInterval(c.PollInterval))
	formatter := components.NewDataFormatter(true, true)

	con := newConsole(func(chunk []byte) {
		data := monitor.Filter(chunk)
		if len(data) == 0 {
			return
		}
		if raw != nil {
			raw.Write(data)
		}
		switch {
		case c.Hex:
			line := formatter.FormatEntry(components.Entry{
				Timestamp: time.Now(),
				Kind:      components.EntryRX,
				Data:      data,
			})
			fmt.Fprintln(out, line)
		case listenTimestamps:
			fmt.Fprintf(out, "[%s] %s\n", time.Now().Format("15:04:05.000"), data)
		default:
			out.Write(data)
		}
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dial(ctx, sess, loop, con); err != nil {
		return err
	}
	loop.Do(func() {
		if err := monitor.SelectFlowControl(flow); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	})
	defer loop.Do(monitor.Stop)

	fmt.Fprintf(os.Stderr, "Listening on %s, press Ctrl+C to stop\n", sess.Name())

	select {
	case err := <-con.failed:
		return err
	case <-ctx.Done():
		return nil
	}
}

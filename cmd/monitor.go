/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/flowcontrol"
	"github.com/spf13/cobra"
)

var (
	monitorSignals []string
	monitorTimeout time.Duration
)

type lineSample struct {
	supported serial.ControlLine
	current   serial.ControlLine
}

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor [port]",
	Short: "Monitor control line changes",
	Long: `Monitor modem control line changes in real-time.

Lines are sampled every --poll-interval and reported when they change
state. With --flow-control set, changes in send permission are reported
too. Press Ctrl+C to stop.

Examples:
  serialterm monitor /dev/ttyUSB0
  serialterm monitor /dev/ttyUSB0 --signals cts,dsr
  serialterm monitor /dev/ttyUSB0 --signals dcd --timeout 30s
  serialterm monitor /dev/ttyUSB0 --flow-control rtscts

Available signals: rts, cts, dtr, dsr, cd (dcd), ri`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mask, err := parseSignalMask(monitorSignals)
		if err != nil {
			return fmt.Errorf("error parsing signals: %w", err)
		}
		c, err := loadConfig(portArg(args, 0), os.Stderr)
		if err != nil {
			return err
		}
		flow, err := c.FlowControlMode()
		if err != nil {
			return err
		}

		sess, loop, err := openSession(c)
		if err != nil {
			return err
		}
		defer closeSession(sess, loop)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		samples := make(chan lineSample, 16)
		permits := make(chan bool, 16)
		monitor := flowcontrol.New(sess, loop,
			flowcontrol.WithInterval(c.PollInterval),
			flowcontrol.WithLogger(slog.Default()),
			flowcontrol.WithLinesHandler(func(supported, current serial.ControlLine) {
				select {
				case samples <- lineSample{supported, current}:
				default:
				}
			}),
			flowcontrol.WithPermitHandler(func(p bool) {
				select {
				case permits <- p:
				default:
				}
			}),
			flowcontrol.WithStatusHandler(func(msg string) {
				fmt.Fprintf(os.Stderr, "Warning: %s\n", msg)
			}),
		)

		con := newConsole(nil)
		if err := dial(ctx, sess, loop, con); err != nil {
			return fmt.Errorf("error opening port: %w", err)
		}

		var (
			shown     bool
			supported serial.ControlLine
			last      serial.ControlLine
		)
		loop.Do(func() {
			shown = monitor.ShowControlLines(true)
			supported, last = monitor.ControlLineState()
			if flow != serial.FlowControlNone {
				_ = monitor.SelectFlowControl(flow)
			}
		})
		defer loop.Do(monitor.Stop)
		if !shown {
			return fmt.Errorf("control lines cannot be read on %s", sess.Name())
		}

		fmt.Printf("Monitoring signals on %s (signals: %s)\n", sess.Name(), mask)
		fmt.Println("Press Ctrl+C to stop")
		printSignalState("Initial", last, mask&supported)

		var timeout <-chan time.Time
		resetTimeout := func() {
			if monitorTimeout > 0 {
				timeout = time.After(monitorTimeout)
			}
		}
		resetTimeout()

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nStopping monitor...")
				return nil

			case err := <-con.failed:
				return err

			case <-timeout:
				fmt.Printf("[%s] Timeout - no signal changes\n", time.Now().Format("15:04:05"))
				resetTimeout()

			case p := <-permits:
				state := "permitted"
				if !p {
					state = "held by peer"
				}
				fmt.Printf("[%s] Sending %s (%s)\n", time.Now().Format("15:04:05"), state, flow.Description())

			case s := <-samples:
				changed := serial.Changed(last, s.current) & mask & s.supported
				last = s.current
				if changed != 0 {
					printSignalChange(s.current, changed)
					resetTimeout()
				}
			}
		}
	},
}

func parseSignalMask(signalNames []string) (serial.ControlLine, error) {
	if len(signalNames) == 0 {
		return serial.AllControlLines, nil
	}

	var mask serial.ControlLine
	for _, name := range signalNames {
		line, err := serial.ParseControlLine(strings.TrimSpace(name))
		if err != nil {
			return 0, fmt.Errorf("unknown signal: %s (valid: rts, cts, dtr, dsr, cd, ri)", name)
		}
		mask |= line
	}
	return mask, nil
}

func printSignalState(prefix string, lines, mask serial.ControlLine) {
	timestamp := time.Now().Format("15:04:05")
	fmt.Printf("[%s] %s state:\n", timestamp, prefix)
	for _, line := range mask.Lines() {
		fmt.Printf("  %-4s %s\n", line.String()+":", formatSignalState(lines.Has(line)))
	}
	fmt.Println()
}

func printSignalChange(lines, changed serial.ControlLine) {
	timestamp := time.Now().Format("15:04:05")
	fmt.Printf("[%s] Signal change detected:\n", timestamp)
	for _, line := range changed.Lines() {
		fmt.Printf("  %-4s %s\n", line.String()+":", formatSignalState(lines.Has(line)))
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringSliceVarP(&monitorSignals, "signals", "s", []string{"cts", "dsr", "ri", "cd"},
		"Signals to monitor (comma-separated: rts,cts,dtr,dsr,cd,ri)")
	monitorCmd.Flags().DurationVarP(&monitorTimeout, "timeout", "t", 0,
		"Report when nothing changes for this long (0 = never)")
}

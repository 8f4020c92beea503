/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/internal/tui/components"
	"github.com/spf13/cobra"
)

// signalsCmd represents the signals command
var signalsCmd = &cobra.Command{
	Use:   "signals [port]",
	Short: "Display current control line states",
	Long: `Display the state of every modem control line the device reports.

Lines the driver cannot report are shown as n/a.

Examples:
  serialterm signals /dev/ttyUSB0
  serialterm signals /dev/ttyACM0 --assert-control-lines=false

Line meanings:
  RTS - Request To Send (output)
  CTS - Clear To Send (input)
  DTR - Data Terminal Ready (output)
  DSR - Data Set Ready (input)
  CD  - Carrier Detect (input)
  RI  - Ring Indicator (input)`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(portArg(args, 0), os.Stderr)
		if err != nil {
			return err
		}
		sess, loop, err := openSession(c)
		if err != nil {
			return err
		}
		defer closeSession(sess, loop)

		if err := dial(cmd.Context(), sess, loop, newConsole(nil)); err != nil {
			return fmt.Errorf("error opening port: %w", err)
		}

		supported, err := sess.SupportedControlLines()
		if err != nil {
			return fmt.Errorf("error reading supported control lines: %w", err)
		}
		current, err := sess.ControlLines()
		if err != nil {
			return fmt.Errorf("error reading control lines: %w", err)
		}

		fmt.Printf("Control lines for %s:\n\n", sess.Name())
		fmt.Println(components.ControlLinesTable(supported, current))
		return nil
	},
}

func formatSignalState(state bool) string {
	if state {
		return "HIGH"
	}
	return "LOW"
}

// describeLine prints the state of one line after a change
func describeLine(name string, line serial.ControlLine, lines serial.ControlLine) string {
	return fmt.Sprintf("%s set to %s on %s", line, formatSignalState(lines.Has(line)), name)
}

func init() {
	rootCmd.AddCommand(signalsCmd)
}

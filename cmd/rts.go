/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	serial "github.com/allbin/serialterm"
	"github.com/spf13/cobra"
)

var holdLine bool

// rtsCmd represents the rts command
var rtsCmd = &cobra.Command{
	Use:   "rts <state> [port]",
	Short: "Control RTS (Request To Send) signal",
	Long: `Manually set the RTS (Request To Send) signal state.

Lines are released when the port closes. Use --hold to keep the port open,
and the line in the requested state, until interrupted.

Examples:
  serialterm rts high /dev/ttyUSB0
  serialterm rts off /dev/ttyUSB0 --hold

Valid states: high, low, on, off, true, false, 1, 0`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setLine(cmd, serial.RTS, args)
	},
}

func parseSignalState(state string) (bool, error) {
	switch strings.ToLower(state) {
	case "high", "on", "true", "1":
		return true, nil
	case "low", "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid state: %s (valid: high, low, on, off, true, false, 1, 0)", state)
	}
}

// setLine drives an output line and reads it back
func setLine(cmd *cobra.Command, line serial.ControlLine, args []string) error {
	state, err := parseSignalState(args[0])
	if err != nil {
		return err
	}
	c, err := loadConfig(portArg(args, 1), os.Stderr)
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

	con := newConsole(nil)
	if err := dial(ctx, sess, loop, con); err != nil {
		return fmt.Errorf("error opening port: %w", err)
	}

	if err := sess.SetControlLine(line, state); err != nil {
		return fmt.Errorf("error setting %s: %w", line, err)
	}

	lines, err := sess.ControlLines()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not verify %s state: %v\n", line, err)
	}
	fmt.Println(describeLine(sess.Name(), line, lines))

	if !holdLine {
		return nil
	}
	fmt.Println("Holding, press Ctrl+C to release")
	select {
	case <-ctx.Done():
		return nil
	case err := <-con.failed:
		return err
	}
}

func init() {
	rootCmd.AddCommand(rtsCmd)

	rtsCmd.Flags().BoolVar(&holdLine, "hold", false, "keep the port open until interrupted")
}

/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	serial "github.com/allbin/serialterm"
	"github.com/spf13/cobra"
)

// dtrCmd represents the dtr command
var dtrCmd = &cobra.Command{
	Use:   "dtr <state> [port]",
	Short: "Control DTR (Data Terminal Ready) signal",
	Long: `Manually set the DTR (Data Terminal Ready) signal state.

The DTR signal indicates that the terminal is ready for communication.
Lines are released when the port closes; use --hold to keep it open.

Examples:
  serialterm dtr high /dev/ttyUSB0
  serialterm dtr low /dev/ttyUSB0 --hold

Valid states: high, low, on, off, true, false, 1, 0`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setLine(cmd, serial.DTR, args)
	},
}

func init() {
	rootCmd.AddCommand(dtrCmd)

	dtrCmd.Flags().BoolVar(&holdLine, "hold", false, "keep the port open until interrupted")
}

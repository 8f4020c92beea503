/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"log/slog"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/internal/config"
	"github.com/allbin/serialterm/internal/tui/components"
	"github.com/allbin/serialterm/internal/tui/models"
	"github.com/allbin/serialterm/relay"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect [port]",
	Short: "Connect to a serial port with bidirectional communication",
	Long: `Connect to a serial port with an interactive terminal interface.

Features include:
- Real-time data streaming with timestamps
- ASCII and hex display and input
- RTS/CTS, DTR/DSR and XON/XOFF flow control with a send indicator
- Partial writes resumed until every byte is accepted
- Control line panel, RTS/DTR toggles and BREAK
- Background mode: received data is held while you look away

Keys (normal mode):
  i      insert mode          b      background on/off
  c      connect/disconnect   f      cycle flow control
  r / t  toggle RTS / DTR     l      control line panel
  ctrl+b send BREAK           h / a  hex / ascii display
  ?      help                 q      quit

Example usage:
  serialterm connect /dev/ttyUSB0
  serialterm connect /dev/ttyUSB0 --baud 9600 --flow-control rtscts
  serialterm connect loop://`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// The alternate screen owns the terminal, so logs only go to a file
		c, err := loadConfig(portArg(args, 0), io.Discard)
		if err != nil {
			return err
		}
		return runConnectTUI(c)
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

func runConnectTUI(c *config.Config) error {
	driver, err := c.NewDriver()
	if err != nil {
		return err
	}
	flow, err := c.FlowControlMode()
	if err != nil {
		return err
	}
	parity, err := serial.ParseParity(c.Parity)
	if err != nil {
		return err
	}
	newline, err := c.NewlineBytes()
	if err != nil {
		return err
	}

	// Relay tasks run inside the bubbletea update loop
	var p *tea.Program
	loop := relay.NewLoop(relay.WithExecutor(func(task func()) {
		p.Send(models.TaskMsg(task))
	}))
	defer loop.Close()

	serialModel := models.NewSerialModel(driver, loop, models.Settings{
		WriteTimeout:       c.WriteTimeout,
		PollInterval:       c.PollInterval,
		AssertControlLines: c.AssertControlLines,
		ShowControlLines:   c.ShowControlLines,
		FlowControl:        flow,
		Logger:             slog.Default(),
	})

	sendingMode := components.SendingModeASCII
	if c.Hex {
		sendingMode = components.SendingModeHex
	}
	m := models.NewConnectModel(serialModel, models.ConnectOptions{
		Name: driver.Name(),
		Settings: &components.LineSettings{
			BaudRate: c.Baud,
			DataBits: c.DataBits,
			StopBits: c.StopBits,
			Parity:   parity,
		},
		SendingMode: sendingMode,
		Newline:     newline,
		Hex:         c.Hex,
	})

	p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		serialModel.Session().Disconnect()
		return fmt.Errorf("terminal failed: %w", err)
	}
	serialModel.Session().Disconnect()
	return nil
}

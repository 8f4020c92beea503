/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/allbin/serialterm/flowcontrol"
	"github.com/allbin/serialterm/internal/config"
	"github.com/allbin/serialterm/internal/tui/components"
	"github.com/allbin/serialterm/sender"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	sendNewline bool
	sendTimeout time.Duration
)

var (
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("99")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("40")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [data] [port]",
	Short: "Send data to a serial port",
	Long: `Send data to a serial port and wait until every byte is accepted.

Data can be provided as:
- Command line argument: serialterm send "Hello World" /dev/ttyUSB0
- From stdin (pipe): echo "test data" | serialterm send /dev/ttyUSB0
- Interactive mode: serialterm send /dev/ttyUSB0 (prompts for input)

When the device accepts only part of the data, for example because the
peer holds CTS low, the rest is written again until it has all been
accepted or --timeout expires.

Example usage:
  serialterm send "AT+GMR" /dev/ttyUSB0 --newline
  serialterm send "48 65 6c 6c 6f" /dev/ttyUSB0 --hex
  echo "test" | serialterm send -p /dev/ttyUSB0`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data, port string

		// Either "send data port", "send port" or "send" with --port
		switch len(args) {
		case 2:
			data, port = args[0], args[1]
		default:
			port = portArg(args, 0)
			input, err := readInput()
			if err != nil {
				return err
			}
			data = input
		}

		c, err := loadConfig(port, os.Stderr)
		if err != nil {
			return err
		}

		payload, err := buildPayload(c, data)
		if err != nil {
			return err
		}
		return sendData(cmd.Context(), c, payload)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().BoolVarP(&sendNewline, "newline", "n", false, "append the configured line ending to the data")
	sendCmd.Flags().DurationVarP(&sendTimeout, "timeout", "t", 5*time.Second, "give up when the data is not accepted in time")
}

// readInput takes the data from a pipe, or prompts for it
func readInput() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return promptForData(), nil
	}
	stdinData, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("error reading from stdin: %w", err)
	}
	return strings.TrimRight(string(stdinData), "\r\n"), nil
}

func promptForData() string {
	promptStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99"))

	fmt.Print(promptStyle.Render("Enter data to send: "))

	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		return scanner.Text()
	}
	return ""
}

func buildPayload(c *config.Config, data string) ([]byte, error) {
	if c.Hex {
		payload, err := components.ParseHex(strings.NewReplacer("0x", "", "0X", "").Replace(data))
		if err != nil {
			return nil, fmt.Errorf("invalid hex data: %w", err)
		}
		return payload, nil
	}

	payload := []byte(data)
	if sendNewline {
		newline, err := c.NewlineBytes()
		if err != nil {
			return nil, err
		}
		payload = append(payload, newline...)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("nothing to send")
	}
	return payload, nil
}

func sendData(parent context.Context, c *config.Config, payload []byte) error {
	flow, err := c.FlowControlMode()
	if err != nil {
		return err
	}
	sess, loop, err := openSession(c)
	if err != nil {
		return err
	}
	defer closeSession(sess, loop)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	fmt.Printf("%s Opening %s...\n", infoStyle.Render("⚡"), sess.Name())

	con := newConsole(nil)
	if err := dial(ctx, sess, loop, con); err != nil {
		return fmt.Errorf("%s %w", errorStyle.Render("✗"), err)
	}
	fmt.Printf("%s Connected successfully\n", successStyle.Render("✓"))

	monitor := flowcontrol.New(sess, loop, flowcontrol.WithInterval(c.PollInterval))
	done := make(chan int, 1)
	ctrl := sender.New(sess, loop, monitor.SendPermitted,
		sender.WithLogger(slog.Default()),
		sender.WithCompletionHandler(func(n int) { done <- n }),
		sender.WithIndicatorHandler(func(i sender.Indicator) {
			if i == sender.Blocked {
				fmt.Printf("%s Waiting for the peer to accept data...\n", infoStyle.Render("◐"))
			}
		}),
	)

	var sendErr error
	loop.Do(func() {
		if err := monitor.SelectFlowControl(flow); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		sendErr = ctrl.Send(payload)
	})
	defer loop.Do(monitor.Stop)
	if sendErr != nil {
		return fmt.Errorf("%s failed to send data: %w", errorStyle.Render("✗"), sendErr)
	}

	fmt.Printf("%s Sending %d bytes...\n", infoStyle.Render("📤"), len(payload))

	select {
	case n := <-done:
		fmt.Printf("%s Successfully sent %d bytes\n", successStyle.Render("✓"), n)
	case err := <-con.failed:
		return fmt.Errorf("%s failed to send data: %w", errorStyle.Render("✗"), err)
	case <-ctx.Done():
		return fmt.Errorf("%s failed to send data: %w", errorStyle.Render("✗"), ctx.Err())
	}

	preview := components.Printable(payload)
	if len(preview) > 50 {
		preview = preview[:50] + "..."
	}
	fmt.Printf("%s Data: %s\n", infoStyle.Render("📋"), preview)
	return nil
}

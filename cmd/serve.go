/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/allbin/serialterm/internal/remote"
	"github.com/spf13/cobra"
)

var serveConnect bool

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve [port]",
	Short: "Share a serial port with one websocket client",
	Long: `Serve a serial port over a websocket at ws://<listen>/ws.

One client is served at a time; a second client is refused with 409. When
the client goes away the port stays open and received data is held until
the next client connects, then delivered in order.

Messages in both directions are CBOR maps with a "type" key. Clients send
send, connect, disconnect, break, line, flow and show_lines commands.

Example usage:
  serialterm serve /dev/ttyUSB0
  serialterm serve /dev/ttyUSB0 --listen 0.0.0.0:9000 --connect=false`,
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
		sess, loop, err := openSession(c)
		if err != nil {
			return err
		}
		defer loop.Close()

		srv := remote.New(sess, loop, c.PollInterval,
			remote.WithFlowControl(flow),
			remote.WithLogger(slog.Default()),
		)
		defer srv.Close()

		if serveConnect {
			if err := srv.Connect(); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx, c.Listen)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "127.0.0.1:8080", "address to serve the websocket on")
	serveCmd.Flags().BoolVar(&serveConnect, "connect", true, "open the port before a client connects")
	cobra.CheckErr(v.BindPFlag("listen", serveCmd.Flags().Lookup("listen")))
}

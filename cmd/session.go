/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"log/slog"

	"github.com/allbin/serialterm/internal/config"
	"github.com/allbin/serialterm/relay"
	"github.com/allbin/serialterm/session"
)

// openSession builds a disconnected session that delivers on its own loop
func openSession(c *config.Config) (*session.Session, *relay.Loop, error) {
	driver, err := c.NewDriver()
	if err != nil {
		return nil, nil, err
	}

	loop := relay.NewLoop()
	r := relay.New(loop, relay.WithLogger(slog.Default()))
	sess := session.New(driver, r,
		session.WithWriteTimeout(c.WriteTimeout),
		session.WithInitialControlLines(c.AssertControlLines),
		session.WithLogger(slog.Default()),
	)
	return sess, loop, nil
}

// closeSession disconnects and stops the delivery loop
func closeSession(sess *session.Session, loop *relay.Loop) {
	sess.Disconnect()
	loop.Close()
}

// console is the consumer used by the line-oriented commands. Received
// chunks go to onData; the connection outcome and any later failure are
// reported on channels.
type console struct {
	onData    func(chunk []byte)
	connected chan struct{}
	failed    chan error
	up        bool
}

var _ relay.Consumer = (*console)(nil)

func newConsole(onData func(chunk []byte)) *console {
	return &console{
		onData:    onData,
		connected: make(chan struct{}),
		failed:    make(chan error, 1),
	}
}

func (c *console) OnConnected() {
	if !c.up {
		c.up = true
		close(c.connected)
	}
}

func (c *console) OnConnectError(err error) {
	c.fail(err)
}

func (c *console) OnDataReceived(chunks [][]byte) {
	if c.onData == nil {
		return
	}
	for _, chunk := range chunks {
		c.onData(chunk)
	}
}

func (c *console) OnIoError(err error) {
	c.fail(err)
}

func (c *console) fail(err error) {
	select {
	case c.failed <- err:
	default:
	}
}

// dial attaches c to the session relay, connects and waits for the outcome
func dial(ctx context.Context, sess *session.Session, loop *relay.Loop, c *console) error {
	loop.Do(func() { sess.Relay().Attach(c) })
	if err := sess.Connect(); err != nil {
		return err
	}

	select {
	case <-c.connected:
		return nil
	case err := <-c.failed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

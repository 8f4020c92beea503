// Package remote serves one session to a single websocket client. The
// client is the foreground consumer while it is connected; while no
// client is connected events are held by the relay and delivered when the
// next client arrives.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/flowcontrol"
	"github.com/allbin/serialterm/relay"
	"github.com/allbin/serialterm/sender"
	"github.com/allbin/serialterm/session"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer    = 64
	writeTimeout  = 10 * time.Second
	shutdownGrace = 5 * time.Second
	maxBreak      = 5 * time.Second
)

// Server owns the delivery loop of one session
type Server struct {
	session *session.Session
	relay   *relay.Relay
	loop    *relay.Loop
	monitor *flowcontrol.Monitor
	sender  *sender.Controller
	logger  *slog.Logger
	flow    serial.FlowControl

	upgrader websocket.Upgrader

	mu   sync.Mutex
	busy bool

	// Only touched on the loop goroutine
	active *client
}

// Option configures a Server
type Option func(*Server)

// WithFlowControl selects the mode applied on every connect
func WithFlowControl(mode serial.FlowControl) Option {
	return func(s *Server) {
		s.flow = mode
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCheckOrigin replaces the websocket origin check
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// New serves sess, whose relay must dispatch on loop. interval is the
// control-line refresh period.
func New(sess *session.Session, loop *relay.Loop, interval time.Duration, opts ...Option) *Server {
	s := &Server{
		session: sess,
		relay:   sess.Relay(),
		loop:    loop,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	monitorOpts := []flowcontrol.Option{
		flowcontrol.WithLogger(s.logger),
		flowcontrol.WithStatusHandler(func(msg string) {
			s.push(Frame{Type: FrameStatus, Text: msg})
		}),
		flowcontrol.WithLinesHandler(func(supported, current serial.ControlLine) {
			s.push(Frame{Type: FrameLines, Line: current.String(), State: supported.String()})
		}),
		flowcontrol.WithPermitHandler(func(p bool) {
			s.sender.Refresh()
			s.push(Frame{Type: FramePermit, Permitted: p, Mode: s.monitor.Mode().String()})
		}),
	}
	if interval > 0 {
		monitorOpts = append(monitorOpts, flowcontrol.WithInterval(interval))
	}
	s.monitor = flowcontrol.New(sess, loop, monitorOpts...)

	s.sender = sender.New(sess, loop, s.monitor.SendPermitted,
		sender.WithLogger(s.logger),
		sender.WithIndicatorHandler(func(i sender.Indicator) {
			s.push(Frame{Type: FrameIndicator, Indicator: i.String()})
		}),
		sender.WithCompletionHandler(func(n int) {
			s.push(Frame{Type: FrameSent, Size: n})
		}),
	)
	return s
}

// Handler routes /ws to the websocket endpoint
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving", "addr", addr, "device", s.session.Name())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Connect starts connecting the session without waiting for a client
func (s *Server) Connect() error {
	return s.session.Connect()
}

// Close disconnects the session
func (s *Server) Close() {
	s.loop.Do(s.monitor.Stop)
	s.session.Disconnect()
}

func (s *Server) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.claim() {
		http.Error(w, "client already connected", http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.release()
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	s.logger.Info("client connected", "remote", r.RemoteAddr)
	c := newClient(s, conn)
	s.loop.Post(func() { s.attach(c) })

	defer func() {
		s.release()
		s.loop.Post(func() { s.detach(c) })
		s.logger.Info("client disconnected", "remote", r.RemoteAddr)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := Decode(data)
		if err != nil {
			s.loop.Post(func() { c.push(Frame{Type: FrameError, Error: err.Error()}) })
			continue
		}
		s.loop.Post(func() { s.handle(c, f) })
	}
}

func (s *Server) attach(c *client) {
	if s.active != nil {
		s.active.close()
	}
	s.active = c
	c.push(Frame{Type: FrameState, State: s.session.State().String(), Mode: s.monitor.Mode().String()})
	if c.closed {
		return
	}
	s.relay.Attach(c)
}

func (s *Server) detach(c *client) {
	if s.active == c {
		s.relay.Detach()
		s.active = nil
	}
	c.close()
}

// push sends f to the attached client, if any
func (s *Server) push(f Frame) {
	if s.active != nil {
		s.active.push(f)
	}
}

func (s *Server) handle(c *client, f Frame) {
	if s.active != c {
		return
	}

	switch f.Type {
	case CmdSend:
		if err := s.sender.Send(f.Data); err != nil {
			c.push(Frame{Type: FrameError, Error: err.Error()})
		}

	case CmdConnect:
		if err := s.session.Connect(); err != nil {
			c.push(Frame{Type: FrameError, Error: err.Error()})
			return
		}
		c.push(Frame{Type: FrameState, State: s.session.State().String()})

	case CmdDisconnect:
		s.monitor.Stop()
		s.session.Disconnect()
		c.push(Frame{Type: FrameState, State: s.session.State().String()})

	case CmdBreak:
		d := time.Duration(f.Millis) * time.Millisecond
		switch {
		case d <= 0:
			d = 100 * time.Millisecond
		case d > maxBreak:
			d = maxBreak
		}
		// BREAK blocks for d, so it runs off the loop
		go func() {
			err := s.session.SendBreak(d)
			s.loop.Post(func() {
				if err != nil {
					s.push(Frame{Type: FrameError, Error: fmt.Sprintf("send BREAK failed: %v", err)})
				}
			})
		}()

	case CmdLine:
		line, err := serial.ParseControlLine(f.Line)
		if err != nil {
			c.push(Frame{Type: FrameError, Error: err.Error()})
			return
		}
		// The monitor reports failures as status frames
		_ = s.monitor.SetControlLine(line, f.On)

	case CmdFlow:
		mode, err := serial.ParseFlowControl(f.Mode)
		if err != nil {
			c.push(Frame{Type: FrameError, Error: err.Error()})
			return
		}
		s.flow = mode
		if s.session.State() == relay.StateConnected {
			_ = s.monitor.SelectFlowControl(mode)
			s.flow = s.monitor.Mode()
		}
		c.push(Frame{Type: FramePermit, Mode: s.flow.String(), Permitted: s.monitor.SendPermitted()})

	case CmdShowLines:
		shown := s.monitor.ShowControlLines(f.On)
		supported, current := s.monitor.ControlLineState()
		c.push(Frame{Type: FrameLines, On: shown, Line: current.String(), State: supported.String()})

	default:
		c.push(Frame{Type: FrameError, Error: fmt.Sprintf("unknown command %q", f.Type)})
	}
}

// client is the websocket consumer. Its Consumer methods and push run on
// the loop goroutine.
type client struct {
	s      *Server
	conn   *websocket.Conn
	send   chan []byte
	closed bool
}

var _ relay.Consumer = (*client)(nil)

func newClient(s *Server, conn *websocket.Conn) *client {
	c := &client{
		s:    s,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *client) push(f Frame) {
	if c.closed {
		return
	}
	data, err := Encode(f)
	if err != nil {
		c.s.logger.Error("frame encode failed", "type", f.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		// Unreachable while full clients are detached below
		c.s.logger.Error("ws send buffer overflow, frame dropped", "type", f.Type)
		return
	}
	if len(c.send) == cap(c.send) {
		// The client can't keep up. Detaching before the next delivery
		// leaves every later event queued in the relay for the next client.
		c.s.logger.Warn("ws client too slow, disconnecting")
		c.s.detach(c)
	}
}

func (c *client) OnConnected() {
	c.push(Frame{Type: FrameConnected})
	if c.s.monitor.SelectFlowControl(c.s.flow) != nil {
		c.s.flow = c.s.monitor.Mode()
	}
	c.s.sender.Refresh()
}

func (c *client) OnConnectError(err error) {
	c.push(Frame{Type: FrameConnectError, Error: err.Error()})
	c.s.monitor.Stop()
	c.s.session.Disconnect()
}

func (c *client) OnDataReceived(chunks [][]byte) {
	out := make([][]byte, 0, len(chunks))
	for _, chunk := range chunks {
		if data := c.s.monitor.Filter(chunk); len(data) > 0 {
			out = append(out, data)
		}
	}
	if len(out) > 0 {
		c.push(Frame{Type: FrameData, Chunks: out})
	}
}

func (c *client) OnIoError(err error) {
	c.push(Frame{Type: FrameIoError, Error: err.Error()})
	c.s.monitor.Stop()
	c.s.session.Disconnect()
}

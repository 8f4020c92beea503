package serialtest

import (
	"errors"
	"testing"
	"time"

	serial "github.com/allbin/serialterm"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	chunks [][]byte
	errs   []error
}

func (r *recorder) OnChunk(data []byte) { r.chunks = append(r.chunks, data) }
func (r *recorder) OnError(err error)   { r.errs = append(r.errs, err) }

func TestScriptedWrites(t *testing.T) {
	d := NewDriver()
	sp, err := d.Open()
	require.NoError(t, err)
	p := d.Last()

	eio := errors.New("EIO")
	p.ScriptWrites(WriteResult{Accept: 2}, WriteResult{Accept: 0}, WriteResult{Accept: -1, Err: eio})

	err = sp.Write([]byte("hello"), time.Second)
	n, ok := serial.AsWriteTimeout(err)
	require.True(t, ok)
	require.Equal(t, 2, n)

	n, ok = serial.AsWriteTimeout(sp.Write([]byte("llo"), time.Second))
	require.True(t, ok)
	require.Zero(t, n)

	require.ErrorIs(t, sp.Write([]byte("llo"), time.Second), eio)
	require.NoError(t, sp.Write([]byte("!"), time.Second), "script exhausted")

	require.Equal(t, []byte("he"+"llo"+"!"), p.Written())
	require.Equal(t, 4, p.Attempts())
}

func TestRTSCTSBlocksWrites(t *testing.T) {
	d := NewDriver()
	sp, err := d.Open()
	require.NoError(t, err)
	p := d.Last()

	require.NoError(t, sp.SetFlowControl(serial.FlowControlRTSCTS))
	_, ok := serial.AsWriteTimeout(sp.Write([]byte("x"), time.Millisecond))
	require.True(t, ok, "CTS low accepts nothing")

	p.SetLines(serial.CTS)
	require.NoError(t, sp.Write([]byte("x"), time.Millisecond))
}

func TestLoopbackEchoesAndMirrorsLines(t *testing.T) {
	d := Loopback()
	require.Equal(t, "loop://", d.Name())
	sp, err := d.Open()
	require.NoError(t, err)

	r := &recorder{}
	sp.Listen(r)
	require.NoError(t, sp.Write([]byte("abc"), time.Second))
	require.Equal(t, [][]byte{[]byte("abc")}, r.chunks)

	require.NoError(t, sp.SetControlLine(serial.RTS, true))
	require.NoError(t, sp.SetControlLine(serial.DTR, true))
	lines, err := sp.ControlLines()
	require.NoError(t, err)
	require.True(t, lines.Has(serial.RTS|serial.CTS|serial.DTR|serial.DSR|serial.CD))

	require.NoError(t, sp.SetControlLine(serial.RTS, false))
	lines, err = sp.ControlLines()
	require.NoError(t, err)
	require.False(t, lines.Has(serial.CTS))
}

func TestClosedPort(t *testing.T) {
	d := NewDriver()
	sp, err := d.Open()
	require.NoError(t, err)
	p := d.Last()

	r := &recorder{}
	sp.Listen(r)
	require.NoError(t, sp.Close())
	require.True(t, p.Closed())
	require.False(t, p.Emit([]byte("late")))
	require.Empty(t, r.chunks)

	require.ErrorIs(t, sp.Write([]byte("x"), time.Second), serial.ErrPortClosed)
	require.ErrorIs(t, sp.SetControlLine(serial.RTS, true), serial.ErrPortClosed)
}

func TestOpenError(t *testing.T) {
	d := NewDriver()
	d.SetOpenError(serial.ErrDeviceNotFound)
	_, err := d.Open()
	require.ErrorIs(t, err, serial.ErrDeviceNotFound)
	require.Zero(t, d.Opens())

	d.SetOpenError(nil)
	_, err = d.Open()
	require.NoError(t, err)
	require.Equal(t, 1, d.Opens())
}

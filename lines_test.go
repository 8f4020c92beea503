package serial

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestControlLineToTIOCM(t *testing.T) {
	tests := []struct {
		name     string
		lines    ControlLine
		expected int
	}{
		{
			name:     "CTS only",
			lines:    CTS,
			expected: unix.TIOCM_CTS,
		},
		{
			name:     "DSR only",
			lines:    DSR,
			expected: unix.TIOCM_DSR,
		},
		{
			name:     "RI only",
			lines:    RI,
			expected: unix.TIOCM_RI,
		},
		{
			name:     "CD only",
			lines:    CD,
			expected: unix.TIOCM_CAR,
		},
		{
			name:     "Outputs",
			lines:    OutputLines,
			expected: unix.TIOCM_RTS | unix.TIOCM_DTR,
		},
		{
			name:     "All lines",
			lines:    AllControlLines,
			expected: unix.TIOCM_RTS | unix.TIOCM_CTS | unix.TIOCM_DTR | unix.TIOCM_DSR | unix.TIOCM_RI | unix.TIOCM_CAR,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := toTIOCM(tt.lines)
			if result != tt.expected {
				t.Errorf("toTIOCM(%v) = %v, want %v", tt.lines, result, tt.expected)
			}
			if back := fromTIOCM(result); back != tt.lines {
				t.Errorf("fromTIOCM(%v) = %v, want %v", result, back, tt.lines)
			}
		})
	}
}

func TestFromTIOCMIgnoresOtherBits(t *testing.T) {
	require.Equal(t, CTS, fromTIOCM(unix.TIOCM_CTS|unix.TIOCM_LE|unix.TIOCM_ST))
}

func TestChanged(t *testing.T) {
	tests := []struct {
		name     string
		old      ControlLine
		current  ControlLine
		expected ControlLine
	}{
		{"No change", CTS | DSR, CTS | DSR, 0},
		{"CTS dropped", CTS | DSR, DSR, CTS},
		{"RI raised", 0, RI, RI},
		{"Multiple", CTS | CD, DSR | CD, CTS | DSR},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Changed(tt.old, tt.current))
		})
	}
}

func TestControlLineSet(t *testing.T) {
	set := RTS | CTS | RI
	require.True(t, set.Has(RTS))
	require.True(t, set.Has(RTS|CTS))
	require.False(t, set.Has(RTS|DTR))
	require.False(t, set.Has(0), "the empty set is never held")

	require.Equal(t, []ControlLine{RTS, CTS, RI}, set.Lines())
	require.Equal(t, "RTS|CTS|RI", set.String())
	require.Equal(t, "none", ControlLine(0).String())
}

func TestParseControlLine(t *testing.T) {
	for _, name := range []string{"rts", "CTS", "Dtr", "dsr", "cd", "DCD", "ri"} {
		t.Run(name, func(t *testing.T) {
			line, err := ParseControlLine(name)
			require.NoError(t, err)
			require.NotZero(t, line)
		})
	}

	line, err := ParseControlLine("dcd")
	require.NoError(t, err)
	require.Equal(t, CD, line)

	_, err = ParseControlLine("txd")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFlowControlSet(t *testing.T) {
	set := NewFlowControlSet(FlowControlRTSCTS, FlowControlXONXOFFInline)
	require.True(t, set.Has(FlowControlNone), "none is always supported")
	require.True(t, set.Has(FlowControlRTSCTS))
	require.False(t, set.Has(FlowControlDTRDSR))
	require.False(t, set.Has(FlowControl(-1)))
	require.Equal(t, []FlowControl{FlowControlNone, FlowControlRTSCTS, FlowControlXONXOFFInline}, set.Modes())
}

func TestFlowControlUsesControlLines(t *testing.T) {
	require.True(t, FlowControlRTSCTS.UsesControlLines())
	require.True(t, FlowControlDTRDSR.UsesControlLines())
	require.False(t, FlowControlNone.UsesControlLines())
	require.False(t, FlowControlXONXOFF.UsesControlLines())
	require.False(t, FlowControlXONXOFFInline.UsesControlLines())
}

func TestParseFlowControl(t *testing.T) {
	for _, mode := range NewFlowControlSet(FlowControlRTSCTS, FlowControlDTRDSR, FlowControlXONXOFF, FlowControlXONXOFFInline).Modes() {
		got, err := ParseFlowControl(mode.String())
		require.NoError(t, err)
		require.Equal(t, mode, got)
	}

	got, err := ParseFlowControl("CTS")
	require.NoError(t, err)
	require.Equal(t, FlowControlRTSCTS, got)

	_, err = ParseFlowControl("carrier pigeon")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWriteTimeoutError(t *testing.T) {
	err := fmt.Errorf("send: %w", &WriteTimeoutError{Transferred: 3, Length: 10})
	require.ErrorIs(t, err, ErrWriteTimeout)

	n, ok := AsWriteTimeout(err)
	require.True(t, ok)
	require.Equal(t, 3, n)
	require.Equal(t, "send: write timed out after 3 of 10 bytes", err.Error())

	_, ok = AsWriteTimeout(errors.New("EIO"))
	require.False(t, ok)
}

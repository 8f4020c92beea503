package serial

import "strings"

// FlowControl represents the flow control mode
type FlowControl int

const (
	FlowControlNone FlowControl = iota
	FlowControlRTSCTS
	FlowControlDTRDSR
	FlowControlXONXOFF
	// FlowControlXONXOFFInline passes XON/XOFF characters through to the
	// reader, which interprets and strips them in software.
	FlowControlXONXOFFInline
)

func (fc FlowControl) String() string {
	switch fc {
	case FlowControlNone:
		return "none"
	case FlowControlRTSCTS:
		return "rtscts"
	case FlowControlDTRDSR:
		return "dtrdsr"
	case FlowControlXONXOFF:
		return "xonxoff"
	case FlowControlXONXOFFInline:
		return "xonxoff-inline"
	default:
		return "unknown"
	}
}

// Description is the human readable mode name used in menus and status lines
func (fc FlowControl) Description() string {
	switch fc {
	case FlowControlRTSCTS:
		return "RTS/CTS control lines"
	case FlowControlDTRDSR:
		return "DTR/DSR control lines"
	case FlowControlXONXOFF:
		return "XON/XOFF characters"
	case FlowControlXONXOFFInline:
		return "XON/XOFF characters (inline)"
	default:
		return "<none>"
	}
}

// UsesControlLines reports whether the peer grants permission through a
// modem input line
func (fc FlowControl) UsesControlLines() bool {
	return fc == FlowControlRTSCTS || fc == FlowControlDTRDSR
}

// ParseFlowControl accepts the names produced by String plus a few aliases
func ParseFlowControl(s string) (FlowControl, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return FlowControlNone, nil
	case "rtscts", "rts/cts", "hardware", "cts":
		return FlowControlRTSCTS, nil
	case "dtrdsr", "dtr/dsr":
		return FlowControlDTRDSR, nil
	case "xonxoff", "xon/xoff", "software":
		return FlowControlXONXOFF, nil
	case "xonxoff-inline", "inline":
		return FlowControlXONXOFFInline, nil
	default:
		return FlowControlNone, ErrInvalidConfig
	}
}

// FlowControlSet is the set of modes a driver advertises
type FlowControlSet uint8

// NewFlowControlSet builds a set. FlowControlNone is always a member.
func NewFlowControlSet(modes ...FlowControl) FlowControlSet {
	s := FlowControlSet(1 << FlowControlNone)
	for _, m := range modes {
		s |= 1 << m
	}
	return s
}

// Has reports whether mode is in the set
func (s FlowControlSet) Has(mode FlowControl) bool {
	if mode < FlowControlNone || mode > FlowControlXONXOFFInline {
		return false
	}
	return s&(1<<mode) != 0
}

// Modes lists the members in declaration order
func (s FlowControlSet) Modes() []FlowControl {
	var out []FlowControl
	for m := FlowControlNone; m <= FlowControlXONXOFFInline; m++ {
		if s.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

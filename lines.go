package serial

import "strings"

// ControlLine is a set of modem control lines. Single lines are the
// constants below; sets are formed with bitwise OR.
type ControlLine uint8

const (
	RTS ControlLine = 1 << iota // Request To Send (output)
	CTS                         // Clear To Send (input)
	DTR                         // Data Terminal Ready (output)
	DSR                         // Data Set Ready (input)
	CD                          // Carrier Detect (input)
	RI                          // Ring Indicator (input)
)

// AllControlLines is every line a driver may report.
const AllControlLines = RTS | CTS | DTR | DSR | CD | RI

// OutputLines are the lines the local side drives.
const OutputLines = RTS | DTR

var lineNames = []struct {
	line ControlLine
	name string
}{
	{RTS, "RTS"},
	{CTS, "CTS"},
	{DTR, "DTR"},
	{DSR, "DSR"},
	{CD, "CD"},
	{RI, "RI"},
}

// Has reports whether every line in l is present in the set
func (c ControlLine) Has(l ControlLine) bool {
	return l != 0 && c&l == l
}

// Lines splits the set into single lines in display order
func (c ControlLine) Lines() []ControlLine {
	var out []ControlLine
	for _, ln := range lineNames {
		if c&ln.line != 0 {
			out = append(out, ln.line)
		}
	}
	return out
}

func (c ControlLine) String() string {
	if c == 0 {
		return "none"
	}
	var names []string
	for _, ln := range lineNames {
		if c&ln.line != 0 {
			names = append(names, ln.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseControlLine converts a line name (case-insensitive) to its constant
func ParseControlLine(name string) (ControlLine, error) {
	for _, ln := range lineNames {
		if strings.EqualFold(name, ln.name) {
			return ln.line, nil
		}
	}
	if strings.EqualFold(name, "dcd") {
		return CD, nil
	}
	return 0, ErrInvalidConfig
}

// Changed returns the lines whose state differs between two samples
func Changed(old, current ControlLine) ControlLine {
	return old ^ current
}

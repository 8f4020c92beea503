package flowcontrol

// In-band flow-control characters
const (
	XON  byte = 0x11 // DC1
	XOFF byte = 0x13 // DC3
)

// XonXoffFilter strips XON/XOFF characters from received data and
// remembers which one it saw last.
type XonXoffFilter struct {
	xon bool
}

// NewXonXoffFilter returns a filter in the XON state
func NewXonXoffFilter() *XonXoffFilter {
	return &XonXoffFilter{xon: true}
}

// XON reports whether the last control character seen was XON
func (f *XonXoffFilter) XON() bool {
	return f.xon
}

// Filter returns data without XON/XOFF bytes. The input slice is never
// modified; it is returned as-is when it holds no control characters.
func (f *XonXoffFilter) Filter(data []byte) []byte {
	first := -1
	for i, b := range data {
		if b == XON || b == XOFF {
			first = i
			break
		}
	}
	if first < 0 {
		return data
	}

	out := make([]byte, first, len(data)-1)
	copy(out, data[:first])
	for _, b := range data[first:] {
		switch b {
		case XON:
			f.xon = true
		case XOFF:
			f.xon = false
		default:
			out = append(out, b)
		}
	}
	return out
}

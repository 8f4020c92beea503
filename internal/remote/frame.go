package remote

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Frame types sent to the client
const (
	FrameConnected    = "connected"
	FrameConnectError = "connect_error"
	FrameData         = "data"
	FrameIoError      = "io_error"
	FrameState        = "state"
	FrameStatus       = "status"
	FrameLines        = "lines"
	FramePermit       = "permit"
	FrameIndicator    = "indicator"
	FrameSent         = "sent"
	FrameError        = "error"
)

// Commands sent by the client
const (
	CmdSend       = "send"
	CmdConnect    = "connect"
	CmdDisconnect = "disconnect"
	CmdBreak      = "break"
	CmdLine       = "line"
	CmdFlow       = "flow"
	CmdShowLines  = "show_lines"
)

// Frame is one websocket message in either direction. Fields that do not
// apply to a type are left empty.
type Frame struct {
	Type      string   `cbor:"type"`
	Chunks    [][]byte `cbor:"chunks,omitempty"`
	Data      []byte   `cbor:"data,omitempty"`
	Error     string   `cbor:"error,omitempty"`
	Text      string   `cbor:"text,omitempty"`
	Line      string   `cbor:"line,omitempty"`
	On        bool     `cbor:"on,omitempty"`
	State     string   `cbor:"state,omitempty"`
	Mode      string   `cbor:"mode,omitempty"`
	Permitted bool     `cbor:"permitted,omitempty"`
	Indicator string   `cbor:"indicator,omitempty"`
	Millis    uint32   `cbor:"ms,omitempty"`
	Size      int      `cbor:"size,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: the same frame always encodes to the same bytes
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("remote: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("remote: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode marshals f
func Encode(f Frame) ([]byte, error) {
	return encMode.Marshal(f)
}

// Decode unmarshals a client message
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := decMode.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

package flowcontrol

import (
	"bytes"
	"testing"
)

func TestXonXoffFilter(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    []byte
		wantXON bool
	}{
		{"plain data", []byte("hello"), []byte("hello"), true},
		{"xoff stripped", []byte("ab\x13cd"), []byte("abcd"), false},
		{"xoff then xon", []byte("\x13a\x11b"), []byte("ab"), true},
		{"xon then xoff", []byte("\x11\x13"), []byte{}, false},
		{"empty", []byte{}, []byte{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewXonXoffFilter()
			got := f.Filter(tt.input)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Filter(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if f.XON() != tt.wantXON {
				t.Errorf("XON() = %v, want %v", f.XON(), tt.wantXON)
			}
		})
	}
}

func TestXonXoffFilterKeepsStateAcrossChunks(t *testing.T) {
	f := NewXonXoffFilter()
	f.Filter([]byte{XOFF})
	f.Filter([]byte("no control chars"))
	if f.XON() {
		t.Error("Expected XOFF state to persist")
	}
}

func TestXonXoffFilterDoesNotModifyInput(t *testing.T) {
	f := NewXonXoffFilter()
	input := []byte("a\x13b")
	f.Filter(input)
	if !bytes.Equal(input, []byte("a\x13b")) {
		t.Errorf("input modified: %q", input)
	}
}

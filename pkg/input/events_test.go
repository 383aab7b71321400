package input

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/menta2k/image-marker/pkg/types"
)

func TestDecoder(t *testing.T) {
	def := types.Box{Width: 100, Height: 100}
	stream := `
# drag a box at display scale
{"type":"down","x":5,"y":5}
{"type":"move","x":50,"y":40,"layout":{"left":10,"top":0,"width":50,"height":50}}
{"type":"up","x":50,"y":40}

{"type":"action","action":"undo"}
{"type":"key","key":"Escape"}
`
	d := NewDecoder(strings.NewReader(stream), def)

	var got []Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, ev)
	}

	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	if got[0].Kind != PointerDown || got[0].Layout != def {
		t.Errorf("first event = %+v, want pointer-down with default layout", got[0])
	}
	moved := types.Box{Left: 10, Width: 50, Height: 50}
	if got[1].Layout != moved || got[2].Layout != moved {
		t.Errorf("layout not carried forward: %+v %+v", got[1].Layout, got[2].Layout)
	}
	if got[3].Kind != Action || got[3].Action != ActionUndo {
		t.Errorf("fourth event = %+v, want undo", got[3])
	}
	if got[4].Kind != KeyPress || got[4].Key != KeyEscape {
		t.Errorf("fifth event = %+v, want Escape", got[4])
	}
}

func TestDecoderErrors(t *testing.T) {
	tests := []string{
		`{"type":"wiggle"}`,
		`{"type":"action","action":"redo"}`,
		`{"type":"key"}`,
		`not json`,
	}
	for _, line := range tests {
		d := NewDecoder(strings.NewReader(line), types.Box{})
		if _, err := d.Next(); err == nil || errors.Is(err, io.EOF) {
			t.Errorf("expected decode error for %q, got %v", line, err)
		}
	}
}

func TestParseAction(t *testing.T) {
	for _, a := range []ActionKind{ActionUndo, ActionClear, ActionApply, ActionCancel, ActionClose} {
		got, err := ParseAction(a.String())
		if err != nil || got != a {
			t.Errorf("ParseAction(%q) = %v, %v", a.String(), got, err)
		}
	}
}

// Package input describes the operator input stream driving a marking
// session, independent of how the events are sourced.
package input

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/menta2k/image-marker/pkg/types"
)

// Kind enumerates input event kinds.
type Kind int

const (
	PointerDown Kind = iota
	PointerMove
	PointerUp
	KeyPress
	Action
)

func (k Kind) String() string {
	switch k {
	case PointerDown:
		return "down"
	case PointerMove:
		return "move"
	case PointerUp:
		return "up"
	case KeyPress:
		return "key"
	case Action:
		return "action"
	default:
		return "unknown"
	}
}

// ActionKind enumerates toolbar actions.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionUndo
	ActionClear
	ActionApply
	ActionCancel
	// ActionClose is the close affordance of the surface.
	ActionClose
)

func (a ActionKind) String() string {
	switch a {
	case ActionUndo:
		return "undo"
	case ActionClear:
		return "clear"
	case ActionApply:
		return "apply"
	case ActionCancel:
		return "cancel"
	case ActionClose:
		return "close"
	default:
		return "none"
	}
}

// KeyEscape dismisses the surface.
const KeyEscape = "Escape"

// Event is a single operator input. Pointer events carry the pointer position
// in display space and the canvas layout at the time of the event.
type Event struct {
	Kind   Kind
	Pos    types.Point
	Layout types.Box
	Key    string
	Action ActionKind
}

// Down builds a pointer-down event.
func Down(x, y float64, layout types.Box) Event {
	return Event{Kind: PointerDown, Pos: types.Point{X: x, Y: y}, Layout: layout}
}

// Move builds a pointer-move event.
func Move(x, y float64, layout types.Box) Event {
	return Event{Kind: PointerMove, Pos: types.Point{X: x, Y: y}, Layout: layout}
}

// Up builds a pointer-up event.
func Up(x, y float64, layout types.Box) Event {
	return Event{Kind: PointerUp, Pos: types.Point{X: x, Y: y}, Layout: layout}
}

// Key builds a key-press event.
func Key(name string) Event { return Event{Kind: KeyPress, Key: name} }

// Do builds a toolbar action event.
func Do(a ActionKind) Event { return Event{Kind: Action, Action: a} }

// wireEvent is the JSON-lines representation of an Event.
type wireEvent struct {
	Type   string     `json:"type"`
	X      float64    `json:"x"`
	Y      float64    `json:"y"`
	Layout *types.Box `json:"layout,omitempty"`
	Key    string     `json:"key,omitempty"`
	Action string     `json:"action,omitempty"`
}

// Decoder reads events from a JSON-lines stream. Blank lines and lines
// starting with '#' are skipped. Pointer events without a layout reuse the
// last layout seen, or the default layout when none was seen yet.
type Decoder struct {
	scanner *bufio.Scanner
	layout  types.Box
	line    int
}

// NewDecoder returns a Decoder reading from r. def is the layout applied
// until an event carries its own.
func NewDecoder(r io.Reader, def types.Box) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: sc, layout: def}
}

// Next returns the next event, or io.EOF at the end of the stream.
func (d *Decoder) Next() (Event, error) {
	for d.scanner.Scan() {
		d.line++
		text := strings.TrimSpace(d.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var w wireEvent
		if err := json.Unmarshal([]byte(text), &w); err != nil {
			return Event{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		ev, err := d.convert(w)
		if err != nil {
			return Event{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func (d *Decoder) convert(w wireEvent) (Event, error) {
	if w.Layout != nil {
		d.layout = *w.Layout
	}
	switch strings.ToLower(w.Type) {
	case "down":
		return Down(w.X, w.Y, d.layout), nil
	case "move":
		return Move(w.X, w.Y, d.layout), nil
	case "up":
		return Up(w.X, w.Y, d.layout), nil
	case "key":
		if w.Key == "" {
			return Event{}, fmt.Errorf("key event without key")
		}
		return Key(w.Key), nil
	case "action":
		a, err := ParseAction(w.Action)
		if err != nil {
			return Event{}, err
		}
		return Do(a), nil
	default:
		return Event{}, fmt.Errorf("unknown event type %q", w.Type)
	}
}

// ParseAction converts an action name into an ActionKind.
func ParseAction(name string) (ActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "undo":
		return ActionUndo, nil
	case "clear":
		return ActionClear, nil
	case "apply":
		return ActionApply, nil
	case "cancel":
		return ActionCancel, nil
	case "close":
		return ActionClose, nil
	}
	return ActionNone, fmt.Errorf("unknown action %q", name)
}

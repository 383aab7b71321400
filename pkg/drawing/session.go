// Package drawing turns pointer drags into candidate rectangles.
package drawing

import (
	"github.com/menta2k/image-marker/pkg/input"
	"github.com/menta2k/image-marker/pkg/mapper"
	"github.com/menta2k/image-marker/pkg/types"
)

// DefaultMinSize is the exclusive lower bound on |w| and |h| of a committed
// rectangle, in image pixels.
const DefaultMinSize = 5

// State enumerates the states of a drag.
type State int

const (
	StateIdle State = iota
	StateDragging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDragging:
		return "dragging"
	default:
		return "unknown"
	}
}

// TransitionListener is called on each state change.
type TransitionListener func(prev, next State)

// Result tells the caller what a fed event changed.
type Result struct {
	// Redraw is set when the display must be refreshed.
	Redraw bool
	// Committed holds the rectangle produced at drag end, if it cleared the
	// minimum size.
	Committed *types.Rectangle
}

// Session is the drag state machine for one canvas. At most one drag exists
// at a time. It is not safe for concurrent use.
type Session struct {
	nativeW, nativeH int
	minSize          float64

	state     State
	origin    types.Point
	currentW  float64
	currentH  float64
	listeners []TransitionListener
}

// New returns an idle Session for a canvas of nativeW x nativeH pixels.
// minSize <= 0 selects DefaultMinSize.
func New(nativeW, nativeH int, minSize float64) *Session {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	return &Session{nativeW: nativeW, nativeH: nativeH, minSize: minSize}
}

// AddListener registers l for state transitions.
func (s *Session) AddListener(l TransitionListener) {
	if l != nil {
		s.listeners = append(s.listeners, l)
	}
}

// Current returns the current state.
func (s *Session) Current() State { return s.state }

// Live returns the in-progress rectangle while dragging.
func (s *Session) Live() (types.Rectangle, bool) {
	if s.state != StateDragging {
		return types.Rectangle{}, false
	}
	return types.Rectangle{X: s.origin.X, Y: s.origin.Y, W: s.currentW, H: s.currentH}, true
}

// Feed advances the machine with one input event. Non-pointer events are
// ignored.
func (s *Session) Feed(ev input.Event) Result {
	switch ev.Kind {
	case input.PointerDown:
		return s.down(ev)
	case input.PointerMove:
		return s.move(ev)
	case input.PointerUp:
		return s.up()
	}
	return Result{}
}

// Reset discards any drag in progress without committing it.
func (s *Session) Reset() {
	s.origin = types.Point{}
	s.currentW, s.currentH = 0, 0
	s.transition(StateIdle)
}

func (s *Session) down(ev input.Event) Result {
	if s.state == StateDragging {
		return Result{}
	}
	if !ev.Layout.Contains(ev.Pos) {
		return Result{}
	}
	s.origin = mapper.ToImage(ev.Pos, ev.Layout, s.nativeW, s.nativeH)
	s.currentW, s.currentH = 0, 0
	s.transition(StateDragging)
	return Result{}
}

// move tracks the pointer anywhere in the viewport; the far corner is
// clamped to the canvas.
func (s *Session) move(ev input.Event) Result {
	if s.state != StateDragging {
		return Result{}
	}
	p := mapper.ToImage(ev.Pos, ev.Layout, s.nativeW, s.nativeH)
	p = mapper.Clamp(p, s.nativeW, s.nativeH)
	s.currentW = p.X - s.origin.X
	s.currentH = p.Y - s.origin.Y
	return Result{Redraw: true}
}

func (s *Session) up() Result {
	if s.state != StateDragging {
		return Result{}
	}
	r := types.Rectangle{X: s.origin.X, Y: s.origin.Y, W: s.currentW, H: s.currentH}
	s.Reset()
	res := Result{Redraw: true}
	if r.Exceeds(s.minSize) {
		res.Committed = &r
	}
	return res
}

func (s *Session) transition(next State) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	for _, l := range s.listeners {
		l(prev, next)
	}
}

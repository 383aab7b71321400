// Package annotation holds the ordered list of committed rectangles of one
// marking session.
package annotation

import "github.com/menta2k/image-marker/pkg/types"

// Idler is anything holding transient drag state that can be forced idle.
type Idler interface {
	Reset()
}

// State is the ordered list of committed rectangles. Insertion order is the
// draw order and the render order. The zero value is ready to use.
//
// State is not safe for concurrent use; callers serialize access and redraw
// after every mutation.
type State struct {
	rects []types.Rectangle
}

// New returns an empty State.
func New() *State { return &State{} }

// Add appends r to the end of the list.
func (s *State) Add(r types.Rectangle) {
	s.rects = append(s.rects, r)
}

// Undo removes the most recent rectangle. It reports whether anything was
// removed; on an empty list it is a no-op.
func (s *State) Undo() bool {
	if len(s.rects) == 0 {
		return false
	}
	s.rects = s.rects[:len(s.rects)-1]
	return true
}

// Clear empties the list and reports whether it held anything.
func (s *State) Clear() bool {
	had := len(s.rects) > 0
	s.rects = nil
	return had
}

// Reset empties the list and forces the given drag state, if any, to idle.
// It is used when a new image is loaded.
func (s *State) Reset(drag Idler) {
	s.rects = nil
	if drag != nil {
		drag.Reset()
	}
}

// Len returns the number of committed rectangles.
func (s *State) Len() int { return len(s.rects) }

// Rects returns a copy of the committed rectangles in insertion order.
func (s *State) Rects() []types.Rectangle {
	out := make([]types.Rectangle, len(s.rects))
	copy(out, s.rects)
	return out
}

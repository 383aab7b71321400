package drawing

import (
	"testing"

	"github.com/menta2k/image-marker/pkg/input"
	"github.com/menta2k/image-marker/pkg/types"
)

var unitLayout = types.Box{Width: 200, Height: 200}

// drag feeds a full down/move/up sequence and returns the final result.
func drag(s *Session, layout types.Box, x0, y0, x1, y1 float64) Result {
	s.Feed(input.Down(x0, y0, layout))
	s.Feed(input.Move(x1, y1, layout))
	return s.Feed(input.Up(x1, y1, layout))
}

func TestCommitAboveThreshold(t *testing.T) {
	s := New(200, 200, 0)
	res := drag(s, unitLayout, 10, 10, 60, 40)
	if res.Committed == nil {
		t.Fatal("expected a committed rectangle")
	}
	want := types.Rectangle{X: 10, Y: 10, W: 50, H: 30}
	if *res.Committed != want {
		t.Errorf("committed %v, want %v", *res.Committed, want)
	}
	if !res.Redraw {
		t.Error("drag end must request a redraw")
	}
	if s.Current() != StateIdle {
		t.Errorf("expected idle after pointer-up, got %v", s.Current())
	}
}

func TestSubThresholdDiscarded(t *testing.T) {
	tests := []struct {
		name           string
		x0, y0, x1, y1 float64
	}{
		{"tiny", 10, 10, 13, 12},
		{"exactly five wide", 10, 10, 15, 50},
		{"exactly five tall", 10, 10, 50, 15},
		{"wide but flat", 10, 10, 150, 12},
		{"click", 20, 20, 20, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(200, 200, DefaultMinSize)
			res := drag(s, unitLayout, tt.x0, tt.y0, tt.x1, tt.y1)
			if res.Committed != nil {
				t.Errorf("expected discard, committed %v", *res.Committed)
			}
			if !res.Redraw {
				t.Error("discarded drag must still request a redraw")
			}
		})
	}
}

func TestScaledDragCommitsImageSpaceRectangle(t *testing.T) {
	s := New(200, 200, 0)
	display := types.Box{Width: 100, Height: 100}
	res := drag(s, display, 5, 5, 50, 40)
	if res.Committed == nil {
		t.Fatal("expected a committed rectangle")
	}
	want := types.Rectangle{X: 10, Y: 10, W: 90, H: 70}
	if *res.Committed != want {
		t.Errorf("committed %v, want %v", *res.Committed, want)
	}
}

func TestReverseDragKeepsSignedExtent(t *testing.T) {
	s := New(200, 200, 0)
	res := drag(s, unitLayout, 100, 100, 40, 20)
	if res.Committed == nil {
		t.Fatal("expected a committed rectangle")
	}
	want := types.Rectangle{X: 100, Y: 100, W: -60, H: -80}
	if *res.Committed != want {
		t.Errorf("committed %v, want %v", *res.Committed, want)
	}
}

func TestMoveOutsideCanvasIsClamped(t *testing.T) {
	s := New(200, 200, 0)
	s.Feed(input.Down(150, 150, unitLayout))
	res := s.Feed(input.Move(400, -30, unitLayout))
	if !res.Redraw {
		t.Error("move while dragging must request a redraw")
	}
	live, ok := s.Live()
	if !ok {
		t.Fatal("expected a live rectangle while dragging")
	}
	if live.W != 50 || live.H != -150 {
		t.Errorf("live extent = %vx%v, want 50x-150", live.W, live.H)
	}
}

func TestDownOutsideCanvasIgnored(t *testing.T) {
	s := New(200, 200, 0)
	s.Feed(input.Down(250, 10, unitLayout))
	if s.Current() != StateIdle {
		t.Errorf("pointer-down outside the canvas started a drag")
	}
}

func TestIdleEventsAreNoops(t *testing.T) {
	s := New(200, 200, 0)
	if res := s.Feed(input.Up(10, 10, unitLayout)); res.Redraw || res.Committed != nil {
		t.Errorf("pointer-up while idle produced %+v", res)
	}
	if res := s.Feed(input.Move(10, 10, unitLayout)); res.Redraw {
		t.Errorf("pointer-move while idle requested a redraw")
	}
	if _, ok := s.Live(); ok {
		t.Error("idle session reported a live rectangle")
	}
}

func TestSecondDownDoesNotRestartDrag(t *testing.T) {
	s := New(200, 200, 0)
	s.Feed(input.Down(10, 10, unitLayout))
	s.Feed(input.Down(90, 90, unitLayout))
	s.Feed(input.Move(50, 50, unitLayout))
	live, _ := s.Live()
	if live.X != 10 || live.Y != 10 {
		t.Errorf("origin moved to %v,%v", live.X, live.Y)
	}
}

func TestResetDiscardsDrag(t *testing.T) {
	s := New(200, 200, 0)
	var seq []State
	s.AddListener(func(prev, next State) { seq = append(seq, next) })

	s.Feed(input.Down(10, 10, unitLayout))
	s.Feed(input.Move(80, 80, unitLayout))
	s.Reset()

	if s.Current() != StateIdle {
		t.Fatalf("expected idle after Reset, got %v", s.Current())
	}
	if res := s.Feed(input.Up(80, 80, unitLayout)); res.Committed != nil {
		t.Error("pointer-up after Reset committed a rectangle")
	}
	if len(seq) != 2 || seq[0] != StateDragging || seq[1] != StateIdle {
		t.Errorf("transitions = %v, want [dragging idle]", seq)
	}
}

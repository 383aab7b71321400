// Package session runs one interactive marking session, from the trigger that
// opens the surface to the apply or cancel that closes it.
//
// All input, state mutation, rendering and submission completions are
// serialized on a single event loop goroutine. Public methods post an event
// and wait for the loop to handle it.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/image-marker/pkg/analyzer"
	"github.com/menta2k/image-marker/pkg/annotation"
	"github.com/menta2k/image-marker/pkg/drawing"
	"github.com/menta2k/image-marker/pkg/input"
	"github.com/menta2k/image-marker/pkg/processing"
	"github.com/menta2k/image-marker/pkg/render"
	"github.com/menta2k/image-marker/pkg/submit"
	"github.com/menta2k/image-marker/pkg/types"
)

var (
	// ErrClosed is returned by every operation once the session has closed.
	ErrClosed = errors.New("session closed")
	// ErrApplyInFlight is returned for input rejected while an apply call is
	// outstanding.
	ErrApplyInFlight = errors.New("apply in flight")
	// ErrEmptyTarget is returned when a session is opened without a target.
	ErrEmptyTarget = errors.New("empty target identifier")
)

// Surface is the interactive display of a session. Frames passed to Open and
// Present are only valid until the call returns.
type Surface interface {
	Open(targetID string, frame *image.RGBA) error
	Present(frame *image.RGBA)
	ShowError(err error)
	Close()
}

// Phase is the lifecycle position of a session.
type Phase int

const (
	PhaseOpen Phase = iota
	PhaseApplying
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseApplying:
		return "applying"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a session.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeApplied
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

// Options tune a session. The zero value is usable.
type Options struct {
	Logger    *zap.Logger
	Style     render.Style
	MinSize   float64
	Processor *processing.Processor
	Analyzer  *analyzer.Checker
	// Timeout bounds each backend call. Zero means no watchdog.
	Timeout time.Duration
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	TargetID string
	Phase    Phase
	Outcome  Outcome
	Rects    []types.Rectangle
	Dragging bool
}

// Session is one activation of the marking surface.
type Session struct {
	targetID  string
	submitter submit.Submitter
	surface   Surface
	logger    *zap.Logger
	proc      *processing.Processor
	timeout   time.Duration

	drag     *drawing.Session
	rects    *annotation.State
	renderer *render.Renderer
	phase    Phase
	outcome  Outcome

	events    chan interface{}
	done      chan struct{}
	closeOnce sync.Once
	final     Snapshot
	calls     sync.WaitGroup
}

type command int

const (
	cmdInput command = iota
	cmdUndo
	cmdClear
	cmdApply
	cmdCancel
)

type (
	request struct {
		cmd   command
		ev    input.Event
		reply chan error
	}
	evtApplyDone struct{ err error }
	evtSnapshot  struct{ reply chan Snapshot }
)

// Open decodes the trigger's base image and opens a session on it. A
// malformed image fails before the surface is opened.
func Open(trigger types.Trigger, sub submit.Submitter, surface Surface, opts Options) (*Session, error) {
	if strings.TrimSpace(trigger.TargetID) == "" {
		return nil, ErrEmptyTarget
	}
	proc := opts.Processor
	if proc == nil {
		proc = processing.NewProcessor()
	}
	base, err := proc.DecodeDataURL(trigger.ImageData)
	if err != nil {
		return nil, fmt.Errorf("failed to load base image: %w", err)
	}
	opts.Processor = proc
	return New(trigger.TargetID, base, sub, surface, opts)
}

// New opens a session on an already decoded base image.
func New(targetID string, base image.Image, sub submit.Submitter, surface Surface, opts Options) (*Session, error) {
	if strings.TrimSpace(targetID) == "" {
		return nil, ErrEmptyTarget
	}
	if sub == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if surface == nil {
		return nil, fmt.Errorf("surface is required")
	}
	check := opts.Analyzer
	if check == nil {
		check = analyzer.New()
	}
	if err := check.ValidateImage(base); err != nil {
		return nil, fmt.Errorf("%w: %v", processing.ErrInvalidImage, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	proc := opts.Processor
	if proc == nil {
		proc = processing.NewProcessor()
	}

	s := &Session{
		targetID:  targetID,
		submitter: sub,
		surface:   surface,
		logger:    logger.With(zap.String("target", targetID)),
		proc:      proc,
		timeout:   opts.Timeout,
		rects:     annotation.New(),
		renderer:  render.New(opts.Style),
		events:    make(chan interface{}),
		done:      make(chan struct{}),
	}
	s.renderer.Load(base)
	w, h := s.renderer.Size()
	s.drag = drawing.New(w, h, opts.MinSize)
	s.rects.Reset(s.drag)
	s.drag.AddListener(func(prev, next drawing.State) {
		s.logger.Debug("drag transition", zap.Stringer("from", prev), zap.Stringer("to", next))
	})

	if err := surface.Open(targetID, s.renderer.Redraw(nil, nil)); err != nil {
		return nil, fmt.Errorf("failed to open surface: %w", err)
	}
	info := check.GetImageInfo(base)
	s.logger.Info("marking session opened",
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Float64("aspect", info.AspectRatio))

	go s.run()
	return s, nil
}

// TargetID returns the identifier of the backend unit awaiting the result.
func (s *Session) TargetID() string { return s.targetID }

// Done is closed when the session reaches its terminal outcome.
func (s *Session) Done() <-chan struct{} { return s.done }

// Feed hands one input event to the session.
func (s *Session) Feed(ev input.Event) error {
	return s.call(cmdInput, ev)
}

// Undo removes the most recent rectangle.
func (s *Session) Undo() error { return s.call(cmdUndo, input.Event{}) }

// Clear removes every rectangle.
func (s *Session) Clear() error { return s.call(cmdClear, input.Event{}) }

// Apply captures the composited image and starts submitting it. It returns
// once the call is issued; the result arrives on the loop. A failed apply
// leaves the session open for retry.
func (s *Session) Apply() error { return s.call(cmdApply, input.Event{}) }

// Cancel closes the session and notifies the backend in the background.
func (s *Session) Cancel() error { return s.call(cmdCancel, input.Event{}) }

// Snapshot returns the current state, or the final state once closed.
func (s *Session) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case s.events <- evtSnapshot{reply: reply}:
	case <-s.done:
		return s.final
	}
	select {
	case snap := <-reply:
		return snap
	case <-s.done:
		return s.final
	}
}

// Wait blocks until the session closes and its background calls finish.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return OutcomeNone, ctx.Err()
	}
	finished := make(chan struct{})
	go func() {
		s.calls.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return s.final.Outcome, nil
	case <-ctx.Done():
		return s.final.Outcome, ctx.Err()
	}
}

func (s *Session) call(cmd command, ev input.Event) error {
	req := request{cmd: cmd, ev: ev, reply: make(chan error, 1)}
	select {
	case s.events <- req:
		return <-req.reply
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) run() {
	for s.phase != PhaseClosed {
		s.handle(<-s.events)
	}
}

func (s *Session) handle(ev interface{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session loop panic", zap.Any("error", r), zap.String("stack", string(debug.Stack())))
			s.finish(OutcomeNone)
			if req, ok := ev.(request); ok {
				req.reply <- fmt.Errorf("session aborted: %v", r)
			}
		}
	}()

	switch e := ev.(type) {
	case request:
		e.reply <- s.dispatch(e)
	case evtApplyDone:
		s.handleApplyDone(e.err)
	case evtSnapshot:
		e.reply <- s.snapshot()
	}
}

func (s *Session) dispatch(req request) error {
	switch req.cmd {
	case cmdInput:
		return s.handleInput(req.ev)
	case cmdUndo:
		return s.mutate(s.rects.Undo)
	case cmdClear:
		return s.mutate(s.rects.Clear)
	case cmdApply:
		return s.handleApply()
	case cmdCancel:
		return s.handleCancel()
	}
	return nil
}

func (s *Session) handleInput(ev input.Event) error {
	switch ev.Kind {
	case input.KeyPress:
		if ev.Key == input.KeyEscape {
			return s.handleCancel()
		}
		return nil
	case input.Action:
		switch ev.Action {
		case input.ActionUndo:
			return s.mutate(s.rects.Undo)
		case input.ActionClear:
			return s.mutate(s.rects.Clear)
		case input.ActionApply:
			return s.handleApply()
		case input.ActionCancel, input.ActionClose:
			return s.handleCancel()
		}
		return nil
	}

	if s.phase == PhaseApplying {
		return ErrApplyInFlight
	}
	res := s.drag.Feed(ev)
	if res.Committed != nil {
		s.rects.Add(*res.Committed)
		s.logger.Debug("rectangle committed",
			zap.Float64("x", res.Committed.X), zap.Float64("y", res.Committed.Y),
			zap.Float64("w", res.Committed.W), zap.Float64("h", res.Committed.H))
	}
	if res.Redraw {
		s.redraw()
	}
	return nil
}

// mutate is the only path that changes the rectangle list outside of a
// drag. It redraws whenever f reports a change.
func (s *Session) mutate(f func() bool) error {
	if s.phase == PhaseApplying {
		return ErrApplyInFlight
	}
	if f() {
		s.redraw()
	}
	return nil
}

func (s *Session) redraw() {
	var live *types.Rectangle
	if r, ok := s.drag.Live(); ok {
		live = &r
	}
	if frame := s.renderer.Redraw(s.rects.Rects(), live); frame != nil {
		s.surface.Present(frame)
	}
}

func (s *Session) handleApply() error {
	if s.phase == PhaseApplying {
		return ErrApplyInFlight
	}
	if s.targetID == "" {
		return ErrEmptyTarget
	}
	// A drag still in progress is not part of the submitted image.
	if s.drag.Current() == drawing.StateDragging {
		s.drag.Reset()
	}
	frame := s.renderer.Redraw(s.rects.Rects(), nil)
	if frame == nil {
		return fmt.Errorf("%w: nothing loaded", processing.ErrInvalidImage)
	}
	s.surface.Present(frame)

	data, err := s.proc.EncodeDataURL(frame)
	if err != nil {
		err = fmt.Errorf("failed to encode image: %w", err)
		s.surface.ShowError(err)
		return err
	}

	s.phase = PhaseApplying
	s.logger.Info("submitting marked image", zap.Int("rectangles", s.rects.Len()), zap.Int("bytes", len(data)))
	s.calls.Add(1)
	go s.submitApply(data)
	return nil
}

func (s *Session) submitApply(data string) {
	defer s.calls.Done()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("apply panic", zap.Any("error", r), zap.String("stack", string(debug.Stack())))
				err = fmt.Errorf("apply panicked: %v", r)
			}
		}()
		ctx, cancel := s.callContext()
		defer cancel()
		err = s.submitter.Apply(ctx, s.targetID, data)
	}()
	select {
	case s.events <- evtApplyDone{err: err}:
	case <-s.done:
	}
}

func (s *Session) handleApplyDone(err error) {
	if s.phase != PhaseApplying {
		return
	}
	if err != nil {
		s.phase = PhaseOpen
		s.logger.Warn("apply failed", zap.Error(err))
		s.surface.ShowError(fmt.Errorf("apply failed: %w", err))
		return
	}
	s.logger.Info("marked image applied")
	s.finish(OutcomeApplied)
}

func (s *Session) handleCancel() error {
	if s.phase == PhaseApplying {
		return ErrApplyInFlight
	}
	s.calls.Add(1)
	s.finish(OutcomeCancelled)
	s.logger.Info("marking session cancelled")

	go func() {
		defer s.calls.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("cancel panic", zap.Any("error", r))
			}
		}()
		ctx, cancel := s.callContext()
		defer cancel()
		if err := s.submitter.Cancel(ctx, s.targetID); err != nil {
			s.logger.Warn("cancel notice not delivered", zap.Error(err))
		}
	}()
	return nil
}

func (s *Session) callContext() (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(context.Background(), s.timeout)
	}
	return context.WithCancel(context.Background())
}

func (s *Session) finish(outcome Outcome) {
	s.closeOnce.Do(func() {
		s.drag.Reset()
		s.phase = PhaseClosed
		s.outcome = outcome
		s.final = s.snapshot()
		s.surface.Close()
		close(s.done)
	})
}

func (s *Session) snapshot() Snapshot {
	_, dragging := s.drag.Live()
	return Snapshot{
		TargetID: s.targetID,
		Phase:    s.phase,
		Outcome:  s.outcome,
		Rects:    s.rects.Rects(),
		Dragging: dragging,
	}
}

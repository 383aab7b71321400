// Package imagemarker provides an interactive rectangle-marking engine for
// bitmap images.
//
// An operator drags rectangles over a displayed image to mark regions of
// interest, then either applies the session, burning the markings into the
// pixels and handing the result to a backend, or cancels it.
//
// Basic usage:
//
//	package main
//
//	import (
//		"log"
//
//		imagemarker "github.com/menta2k/image-marker"
//		"github.com/menta2k/image-marker/pkg/input"
//		"github.com/menta2k/image-marker/pkg/session"
//		"github.com/menta2k/image-marker/pkg/submit"
//		"github.com/menta2k/image-marker/pkg/types"
//	)
//
//	func main() {
//		sub, err := submit.NewHTTPSubmitter("http://localhost:8188", nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//		rec := session.NewRecorder(nil)
//		marker := imagemarker.New(sub, func(types.Trigger) session.Surface { return rec })
//
//		s, err := marker.Activate(types.Trigger{TargetID: "7", ImageData: dataURL})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		layout := types.Box{Width: 512, Height: 512}
//		s.Feed(input.Down(10, 10, layout))
//		s.Feed(input.Move(200, 150, layout))
//		s.Feed(input.Up(200, 150, layout))
//		s.Apply()
//	}
//
// The package consists of these components:
//
//  1. Mapper (pkg/mapper): display space to image-pixel space
//  2. Drawing (pkg/drawing): the Idle/Dragging drag state machine
//  3. Annotation (pkg/annotation): the ordered list of committed rectangles
//  4. Render (pkg/render): compositing of the base image and the markings
//  5. Submit (pkg/submit): apply and cancel calls to the backend
//  6. Session (pkg/session): one serialized marking session per activation
//
// The backend side (internal/backend) and the image-marker CLI live in the
// same module.
package imagemarker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/image-marker/pkg/processing"
	"github.com/menta2k/image-marker/pkg/render"
	"github.com/menta2k/image-marker/pkg/session"
	"github.com/menta2k/image-marker/pkg/submit"
	"github.com/menta2k/image-marker/pkg/types"
)

// Version of the image marker library
const Version = "1.0.0"

// SurfaceFactory builds the surface for one activation.
type SurfaceFactory func(trigger types.Trigger) session.Surface

// Config holds the settings applied to every session.
type Config struct {
	Logger    *zap.Logger
	Style     render.Style
	MinSize   float64
	Processor *processing.Processor
	Timeout   time.Duration
}

// Marker receives activation triggers and runs one session per trigger.
type Marker struct {
	submitter submit.Submitter
	surfaces  SurfaceFactory
	config    Config

	mu      sync.Mutex
	current *session.Session
}

// New creates a Marker with default configuration
func New(sub submit.Submitter, surfaces SurfaceFactory) *Marker {
	return NewWithConfig(sub, surfaces, Config{})
}

// NewWithConfig creates a Marker with custom configuration
func NewWithConfig(sub submit.Submitter, surfaces SurfaceFactory, config Config) *Marker {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Marker{submitter: sub, surfaces: surfaces, config: config}
}

// Activate opens a fresh session for trigger. A previous session that is
// still open is cancelled first. When the new session cannot be opened the
// previous one is left untouched.
func (m *Marker) Activate(trigger types.Trigger) (*session.Session, error) {
	var surface session.Surface
	if m.surfaces != nil {
		surface = m.surfaces(trigger)
	}

	s, err := session.Open(trigger, m.submitter, surface, session.Options{
		Logger:    m.config.Logger,
		Style:     m.config.Style,
		MinSize:   m.config.MinSize,
		Processor: m.config.Processor,
		Timeout:   m.config.Timeout,
	})
	if err != nil {
		m.config.Logger.Warn("activation rejected", zap.String("target", trigger.TargetID), zap.Error(err))
		return nil, err
	}

	m.mu.Lock()
	prev := m.current
	m.current = s
	m.mu.Unlock()

	if prev != nil {
		if err := prev.Cancel(); err != nil && !errors.Is(err, session.ErrClosed) {
			m.config.Logger.Warn("previous session left running",
				zap.String("target", prev.TargetID()), zap.Error(err))
		}
	}
	return s, nil
}

// Current returns the most recently activated session, or nil.
func (m *Marker) Current() *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close cancels the current session if it is still open.
func (m *Marker) Close() error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	if err := s.Cancel(); err != nil && !errors.Is(err, session.ErrClosed) {
		return err
	}
	return nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

package session

import (
	"image"
	"sync"

	"go.uber.org/zap"
)

// Recorder is a headless Surface. It keeps a copy of the last presented
// frame and every error shown to the operator.
type Recorder struct {
	mu       sync.Mutex
	logger   *zap.Logger
	target   string
	last     *image.RGBA
	presents int
	errs     []error
	opened   bool
	closed   bool
}

// NewRecorder returns a Recorder. A nil logger discards output.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger}
}

func (r *Recorder) Open(targetID string, frame *image.RGBA) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = targetID
	r.opened = true
	r.last = cloneRGBA(frame)
	return nil
}

func (r *Recorder) Present(frame *image.RGBA) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presents++
	r.last = cloneRGBA(frame)
}

func (r *Recorder) ShowError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.logger.Error("surface error", zap.String("target", r.target), zap.Error(err))
}

func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Last returns a copy of the most recent frame.
func (r *Recorder) Last() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneRGBA(r.last)
}

// Presents counts redraws presented after Open.
func (r *Recorder) Presents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presents
}

// Errors returns the errors shown so far.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Opened reports whether the surface was opened.
func (r *Recorder) Opened() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened
}

// Closed reports whether the surface was closed.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	if src == nil {
		return nil
	}
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

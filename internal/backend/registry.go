package backend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/image-marker/pkg/processing"
	"github.com/menta2k/image-marker/pkg/types"
)

// DefaultWaitTimeout is how long a request waits for the operator.
const DefaultWaitTimeout = 300 * time.Second

// Describer reads an applied image back through a vision model.
type Describer interface {
	Describe(ctx context.Context, encoded []byte) (*types.Description, error)
}

// Outcome is the result of one marking request. Image is never nil.
type Outcome struct {
	Image       image.Image
	Applied     bool
	Description *types.Description
}

// Options configure a Registry.
type Options struct {
	WaitTimeout time.Duration
	Describer   Describer
	Logger      *zap.Logger
}

// Registry is the backend side of the marking protocol.
type Registry struct {
	store     Store
	proc      *processing.Processor
	wait      time.Duration
	describer Describer
	logger    *zap.Logger

	mu    sync.Mutex
	bases map[string]image.Image
}

// NewRegistry creates a registry on store.
func NewRegistry(store Store, opts Options) *Registry {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		store:     store,
		proc:      processing.NewProcessor(),
		wait:      opts.WaitTimeout,
		describer: opts.Describer,
		logger:    opts.Logger,
		bases:     make(map[string]image.Image),
	}
}

// Open registers a pending request for targetID and returns the trigger
// operators use to start a session. The base image is sent as png.
func (r *Registry) Open(ctx context.Context, targetID string, base image.Image) (types.Trigger, error) {
	if strings.TrimSpace(targetID) == "" {
		return types.Trigger{}, ErrEmptyTarget
	}
	data, err := r.proc.EncodeDataURL(base)
	if err != nil {
		return types.Trigger{}, fmt.Errorf("failed to encode base image: %w", err)
	}
	trigger := types.Trigger{TargetID: targetID, ImageData: data}

	r.mu.Lock()
	if _, ok := r.bases[targetID]; ok {
		r.mu.Unlock()
		return types.Trigger{}, ErrPending
	}
	r.bases[targetID] = base
	r.mu.Unlock()

	if err := r.store.Register(ctx, trigger); err != nil {
		r.forget(targetID)
		return types.Trigger{}, err
	}
	r.logger.Info("waiting for operator", zap.String("target", targetID))
	return trigger, nil
}

// Await blocks until the operator applies or cancels, or the wait timeout
// elapses. Anything but a decodable applied image yields the base image.
func (r *Registry) Await(ctx context.Context, targetID string) (Outcome, error) {
	r.mu.Lock()
	base, ok := r.bases[targetID]
	r.mu.Unlock()
	if !ok {
		return Outcome{}, ErrNotFound
	}
	defer r.forget(targetID)

	wctx, cancel := context.WithTimeout(ctx, r.wait)
	res, err := r.store.Wait(wctx, targetID)
	cancel()

	if rerr := r.store.Remove(context.Background(), targetID); rerr != nil {
		r.logger.Warn("failed to remove pending request", zap.String("target", targetID), zap.Error(rerr))
	}

	fallback := Outcome{Image: base}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			r.logger.Warn("timeout waiting for operator", zap.String("target", targetID), zap.Duration("wait", r.wait))
		} else {
			r.logger.Warn("wait aborted", zap.String("target", targetID), zap.Error(err))
		}
		return fallback, nil
	}
	if !res.Applied {
		r.logger.Info("marking cancelled", zap.String("target", targetID))
		return fallback, nil
	}

	img, err := r.proc.DecodeDataURL(res.ImageData)
	if err != nil {
		r.logger.Error("failed to decode result image", zap.String("target", targetID), zap.Error(err))
		return fallback, nil
	}
	out := Outcome{Image: processing.FlattenRGB(img), Applied: true}
	out.Description = r.describe(ctx, targetID, out.Image)
	r.logger.Info("marking applied", zap.String("target", targetID))
	return out, nil
}

// Mark runs Open and Await for one request.
func (r *Registry) Mark(ctx context.Context, targetID string, base image.Image) (Outcome, error) {
	if _, err := r.Open(ctx, targetID, base); err != nil {
		return Outcome{}, err
	}
	return r.Await(ctx, targetID)
}

// Apply delivers the operator's annotated image.
func (r *Registry) Apply(ctx context.Context, targetID, imageData string) error {
	if strings.TrimSpace(targetID) == "" {
		return ErrEmptyTarget
	}
	return r.store.Deliver(ctx, targetID, Result{Applied: true, ImageData: imageData})
}

// Cancel releases a waiting request with its base image.
func (r *Registry) Cancel(ctx context.Context, targetID string) error {
	if strings.TrimSpace(targetID) == "" {
		return ErrEmptyTarget
	}
	if err := r.store.Deliver(ctx, targetID, Result{}); err != nil {
		return err
	}
	r.logger.Info("cancel received", zap.String("target", targetID))
	return nil
}

// Pending lists the triggers awaiting an operator.
func (r *Registry) Pending(ctx context.Context) ([]types.Trigger, error) {
	return r.store.Pending(ctx)
}

func (r *Registry) describe(ctx context.Context, targetID string, img image.Image) *types.Description {
	if r.describer == nil {
		return nil
	}
	encoded, _, err := r.proc.Encode(img)
	if err != nil {
		r.logger.Warn("failed to encode image for description", zap.Error(err))
		return nil
	}
	desc, err := r.describer.Describe(ctx, encoded)
	if err != nil {
		r.logger.Warn("vision description failed", zap.String("target", targetID), zap.Error(err))
		return nil
	}
	r.logger.Info("vision description", zap.String("target", targetID), zap.String("summary", desc.Summary))
	return desc
}

func (r *Registry) forget(targetID string) {
	r.mu.Lock()
	delete(r.bases, targetID)
	r.mu.Unlock()
}

package backend

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/menta2k/image-marker/pkg/processing"
	"github.com/menta2k/image-marker/pkg/types"
)

// createTestImage creates an opaque gradient image.
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 255 / width), uint8(y * 255 / height), 90, 255})
		}
	}
	return img
}

func dataURL(t *testing.T, img image.Image) string {
	t.Helper()
	s, err := processing.NewProcessor().EncodeDataURL(img)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func sameImage(a, b image.Image) bool {
	if a.Bounds().Size() != b.Bounds().Size() {
		return false
	}
	ab, bb := a.Bounds(), b.Bounds()
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			r1, g1, b1, a1 := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			r2, g2, b2, a2 := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				return false
			}
		}
	}
	return true
}

type fakeDescriber struct {
	desc *types.Description
	err  error
	got  []byte
}

func (f *fakeDescriber) Describe(ctx context.Context, encoded []byte) (*types.Description, error) {
	f.got = encoded
	return f.desc, f.err
}

func awaitAsync(reg *Registry, targetID string) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		out, _ := reg.Await(context.Background(), targetID)
		ch <- out
	}()
	return ch
}

func receive(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
	return Outcome{}
}

func TestOpenPublishesTrigger(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), Options{})
	base := createTestImage(16, 8)

	trig, err := reg.Open(context.Background(), "7", base)
	if err != nil {
		t.Fatal(err)
	}
	if trig.TargetID != "7" || !strings.HasPrefix(trig.ImageData, "data:image/png;base64,") {
		t.Errorf("unexpected trigger for %q", trig.TargetID)
	}
	pending, _ := reg.Pending(context.Background())
	if len(pending) != 1 || pending[0].TargetID != "7" {
		t.Errorf("pending = %+v", pending)
	}
	if _, err := reg.Open(context.Background(), "7", base); !errors.Is(err, ErrPending) {
		t.Errorf("second Open: got %v, want ErrPending", err)
	}
	if _, err := reg.Open(context.Background(), "", base); !errors.Is(err, ErrEmptyTarget) {
		t.Errorf("empty target: got %v", err)
	}
}

func TestApplyReturnsAnnotatedImage(t *testing.T) {
	desc := &fakeDescriber{desc: &types.Description{Summary: "one box"}}
	reg := NewRegistry(NewMemoryStore(), Options{Describer: desc})
	base := createTestImage(20, 20)
	if _, err := reg.Open(context.Background(), "7", base); err != nil {
		t.Fatal(err)
	}
	ch := awaitAsync(reg, "7")

	marked := createTestImage(20, 20)
	marked.Set(3, 3, color.NRGBA{255, 0, 0, 255})
	if err := reg.Apply(context.Background(), "7", dataURL(t, marked)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	out := receive(t, ch)
	if !out.Applied || !sameImage(out.Image, marked) {
		t.Error("expected the applied image")
	}
	if out.Description == nil || out.Description.Summary != "one box" || len(desc.got) == 0 {
		t.Errorf("description = %+v", out.Description)
	}
	if pending, _ := reg.Pending(context.Background()); len(pending) != 0 {
		t.Errorf("request still pending: %+v", pending)
	}
}

func TestApplyDropsAlpha(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), Options{})
	if _, err := reg.Open(context.Background(), "a", createTestImage(4, 4)); err != nil {
		t.Fatal(err)
	}
	ch := awaitAsync(reg, "a")

	translucent := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range translucent.Pix {
		translucent.Pix[i] = 128
	}
	if err := reg.Apply(context.Background(), "a", dataURL(t, translucent)); err != nil {
		t.Fatal(err)
	}
	out := receive(t, ch)
	if _, _, _, a := out.Image.At(1, 1).RGBA(); a != 0xffff {
		t.Errorf("alpha = %x, want opaque", a)
	}
}

func TestCancelReturnsBase(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), Options{})
	base := createTestImage(10, 10)
	if _, err := reg.Open(context.Background(), "7", base); err != nil {
		t.Fatal(err)
	}
	ch := awaitAsync(reg, "7")

	if err := reg.Cancel(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}
	out := receive(t, ch)
	if out.Applied || !sameImage(out.Image, base) {
		t.Error("expected the unmodified base image")
	}
}

func TestUndecodableResultReturnsBase(t *testing.T) {
	desc := &fakeDescriber{}
	reg := NewRegistry(NewMemoryStore(), Options{Describer: desc})
	base := createTestImage(10, 10)
	if _, err := reg.Open(context.Background(), "7", base); err != nil {
		t.Fatal(err)
	}
	ch := awaitAsync(reg, "7")

	if err := reg.Apply(context.Background(), "7", "data:image/png;base64,bm90IGFuIGltYWdl"); err != nil {
		t.Fatal(err)
	}
	out := receive(t, ch)
	if out.Applied || !sameImage(out.Image, base) {
		t.Error("expected fallback to the base image")
	}
	if desc.got != nil {
		t.Error("describer called for a rejected result")
	}
}

func TestAwaitTimeout(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), Options{WaitTimeout: 20 * time.Millisecond})
	base := createTestImage(10, 10)

	out, err := reg.Mark(context.Background(), "7", base)
	if err != nil {
		t.Fatal(err)
	}
	if out.Applied || !sameImage(out.Image, base) {
		t.Error("expected the base image after timeout")
	}
	if err := reg.Apply(context.Background(), "7", dataURL(t, base)); !errors.Is(err, ErrNotFound) {
		t.Errorf("late apply: got %v, want ErrNotFound", err)
	}
}

func TestDescriberFailureIsIgnored(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), Options{Describer: &fakeDescriber{err: errors.New("offline")}})
	marked := createTestImage(8, 8)
	if _, err := reg.Open(context.Background(), "7", createTestImage(8, 8)); err != nil {
		t.Fatal(err)
	}
	ch := awaitAsync(reg, "7")
	if err := reg.Apply(context.Background(), "7", dataURL(t, marked)); err != nil {
		t.Fatal(err)
	}
	out := receive(t, ch)
	if !out.Applied || out.Description != nil {
		t.Errorf("outcome = %+v", out)
	}
}

func TestUnknownTarget(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), Options{})
	if err := reg.Apply(context.Background(), "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Apply: got %v", err)
	}
	if err := reg.Cancel(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel: got %v", err)
	}
	if _, err := reg.Await(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Await: got %v", err)
	}
	if err := reg.Apply(context.Background(), "", "x"); !errors.Is(err, ErrEmptyTarget) {
		t.Errorf("empty Apply: got %v", err)
	}
}

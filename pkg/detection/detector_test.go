package detection

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/menta2k/image-marker/pkg/types"
)

type stubClient struct {
	desc   *types.Description
	err    error
	prompt string
	image  string
}

func (s *stubClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	s.prompt, s.image = prompt, imgB64
	return "a box", s.err
}

func (s *stubClient) DescribeImage(ctx context.Context, model, prompt, imgB64 string) (*types.Description, error) {
	s.prompt, s.image = prompt, imgB64
	return s.desc, s.err
}

func TestDescribeNormalizes(t *testing.T) {
	stub := &stubClient{desc: &types.Description{
		Summary: "  two marks ",
		Regions: []types.RegionNote{
			{Label: "car", Confidence: 1.4, X: 0.8, Y: -0.1, W: 0.5, H: 0.3},
			{Label: "  "},
		},
		Tags: []string{"Car", "car", " street ", "", "a", "b", "c", "d"},
	}}
	d, err := NewDescriber(stub, "llava", "")
	if err != nil {
		t.Fatal(err)
	}

	got, err := d.Describe(context.Background(), []byte("png"))
	if err != nil {
		t.Fatal(err)
	}
	if stub.prompt != DefaultPrompt {
		t.Error("default prompt not used")
	}
	if stub.image != base64.StdEncoding.EncodeToString([]byte("png")) {
		t.Errorf("image payload = %q", stub.image)
	}
	if got.Summary != "two marks" {
		t.Errorf("Summary = %q", got.Summary)
	}
	if len(got.Regions) != 1 {
		t.Fatalf("Regions = %+v", got.Regions)
	}
	r := got.Regions[0]
	if r.Confidence != 1 || r.Y != 0 || r.X != 0.8 {
		t.Errorf("region not clamped: %+v", r)
	}
	if r.W < 0.19 || r.W > 0.21 {
		t.Errorf("width not clamped to image: %v", r.W)
	}
	want := []string{"car", "street", "a", "b", "c"}
	if len(got.Tags) != len(want) {
		t.Fatalf("Tags = %v, want %v", got.Tags, want)
	}
	for i := range want {
		if got.Tags[i] != want[i] {
			t.Errorf("Tags[%d] = %q, want %q", i, got.Tags[i], want[i])
		}
	}
}

func TestDescribeErrors(t *testing.T) {
	boom := errors.New("model offline")
	d, _ := NewDescriber(&stubClient{err: boom}, "llava", "custom")
	if _, err := d.Describe(context.Background(), []byte("png")); !errors.Is(err, boom) {
		t.Errorf("expected client error, got %v", err)
	}
	if _, err := d.Describe(context.Background(), nil); err == nil {
		t.Error("expected error for empty image")
	}
}

func TestDescribeNilReply(t *testing.T) {
	d, _ := NewDescriber(&stubClient{}, "llava", "")
	got, err := d.Describe(context.Background(), []byte("png"))
	if err != nil || got == nil {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestNewDescriberValidates(t *testing.T) {
	if _, err := NewDescriber(nil, "m", ""); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := NewDescriber(&stubClient{}, " ", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestTestVision(t *testing.T) {
	stub := &stubClient{}
	d, _ := NewDescriber(stub, "llava", "")
	got, err := d.TestVision(context.Background(), []byte{1})
	if err != nil || got != "a box" || stub.prompt != SimpleTestPrompt {
		t.Errorf("TestVision = %q, %v (prompt %q)", got, err, stub.prompt)
	}
}

// Package detection reads marked images back through a vision model.
package detection

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/menta2k/image-marker/pkg/client"
	"github.com/menta2k/image-marker/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for the regions outlined by red rectangles.
const DefaultPrompt = `The image contains one or more regions outlined with red rectangles.

Return JSON only:
{
  "summary": "short neutral sentence about the marked regions (<= 25 words)",
  "regions": [
    {"label": "string", "confidence": 0.0, "x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}
  ],
  "tags": ["tag1", "tag2", "tag3"]
}

HARD RULES
- One entry in "regions" per red rectangle, in reading order.
- Coordinates are normalized to [0,1] (NOT pixels) and describe the rectangle.
- Describe only what is inside the rectangles. Do not guess real identities.
- Tags: lowercase, concise, no punctuation or duplicates.
- If there are no red rectangles, return an empty "regions" list.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// MaxTags bounds the tags kept from a reply.
const MaxTags = 5

// Describer describes marked images with a fixed model and prompt.
type Describer struct {
	client client.VisionClient
	model  string
	prompt string
}

// NewDescriber creates a describer. An empty prompt selects DefaultPrompt.
func NewDescriber(c client.VisionClient, model, prompt string) (*Describer, error) {
	if c == nil {
		return nil, fmt.Errorf("vision client is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("vision model is required")
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	return &Describer{client: c, model: model, prompt: prompt}, nil
}

// Describe sends the encoded image to the model and normalizes the reply.
func (d *Describer) Describe(ctx context.Context, encoded []byte) (*types.Description, error) {
	if len(encoded) == 0 {
		return nil, fmt.Errorf("no image to describe")
	}
	desc, err := d.client.DescribeImage(ctx, d.model, d.prompt, base64.StdEncoding.EncodeToString(encoded))
	if err != nil {
		return nil, err
	}
	return normalize(desc), nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Describer) TestVision(ctx context.Context, encoded []byte) (string, error) {
	return d.client.SimpleQuery(ctx, d.model, SimpleTestPrompt, base64.StdEncoding.EncodeToString(encoded))
}

func normalize(desc *types.Description) *types.Description {
	if desc == nil {
		return &types.Description{}
	}
	desc.Summary = strings.TrimSpace(desc.Summary)

	regions := desc.Regions[:0]
	for _, r := range desc.Regions {
		r.Label = strings.TrimSpace(r.Label)
		if r.Label == "" {
			continue
		}
		r.Confidence = clamp(r.Confidence, 0, 1)
		r.X, r.Y = clamp(r.X, 0, 1), clamp(r.Y, 0, 1)
		r.W, r.H = clamp(r.W, 0, 1-r.X), clamp(r.H, 0, 1-r.Y)
		regions = append(regions, r)
	}
	desc.Regions = regions
	desc.Tags = normalizeTags(desc.Tags)
	return desc
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeTags lowercases, deduplicates and limits tags to MaxTags entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, MaxTags)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}

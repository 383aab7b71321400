// Package client defines the vision backends that can read a marked image.
package client

import (
	"context"

	"github.com/menta2k/image-marker/pkg/types"
)

// VisionClient sends an image and a prompt to a vision model. imgB64 is the
// bare base64 payload of the encoded image.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DescribeImage(ctx context.Context, model, prompt, imgB64 string) (*types.Description, error)
}

package types

import "math"

// Point is a coordinate pair. Depending on context it is either in display
// space (pointer positions) or in image-pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is the rendered bounding box of the canvas in display space.
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether p lies inside the box, edges included.
func (b Box) Contains(p Point) bool {
	return p.X >= b.Left && p.X <= b.Left+b.Width &&
		p.Y >= b.Top && p.Y <= b.Top+b.Height
}

// Rectangle is a marked region in image-pixel space. W and H are signed and
// keep the direction of the drag that produced them.
type Rectangle struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Exceeds reports whether both |W| and |H| are strictly larger than min.
func (r Rectangle) Exceeds(min float64) bool {
	return math.Abs(r.W) > min && math.Abs(r.H) > min
}

// Trigger activates one marking session.
type Trigger struct {
	TargetID  string `json:"node_id"`
	ImageData string `json:"image_data"`
}

// ApplyRequest is the body of the apply call.
type ApplyRequest struct {
	TargetID  string `json:"node_id"`
	ImageData string `json:"image_data"`
}

// CancelRequest is the body of the cancel call.
type CancelRequest struct {
	TargetID string `json:"node_id"`
}

// Reply is the backend's answer to apply and cancel.
type Reply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// MarkResult is returned to the host that requested a marking session.
type MarkResult struct {
	TargetID    string `json:"node_id"`
	ImageData   string `json:"image_data"`
	Applied     bool   `json:"applied"`
	Description string `json:"description,omitempty"`
}

// RegionNote is one marked region as reported by a vision model. The
// coordinates are normalized to [0,1] of the image size.
type RegionNote struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
}

// Description is a vision model's reading of a marked image.
type Description struct {
	Summary string       `json:"summary"`
	Regions []RegionNote `json:"regions"`
	Tags    []string     `json:"tags"`
}

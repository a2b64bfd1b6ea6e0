// Package detector provides PPE object detection interfaces and types.
package detector

import "math"

// PPEType identifies a detection class produced by the model.
type PPEType string

// Detection classes known to the model.
const (
	TypeGloves PPEType = "gloves"
	TypeHelmet PPEType = "helmet"
	TypePerson PPEType = "person"
	TypeShoes  PPEType = "shoes"
	TypeVest   PPEType = "vest"
)

// ClassLabels maps model class indices to PPE types.
// The order is fixed by the model and must not be changed.
var ClassLabels = [5]PPEType{
	0: TypeGloves,
	1: TypeHelmet,
	2: TypePerson,
	3: TypeShoes,
	4: TypeVest,
}

// LabelForClass returns the PPE type for a model class index,
// or an empty type if the index is out of range.
func LabelForClass(class int) PPEType {
	if class < 0 || class >= len(ClassLabels) {
		return ""
	}
	return ClassLabels[class]
}

// Box is an axis-aligned bounding box with all coordinates normalized to
// [0,1] relative to the source frame, so boxes compare across resolutions.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Centroid returns the center point of the box.
func (b Box) Centroid() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Area returns the area of the box.
func (b Box) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// IoU returns the Intersection-over-Union overlap ratio between two boxes.
// The result is in [0,1]; 0 means no overlap.
func (b Box) IoU(o Box) float64 {
	x1 := math.Max(b.X, o.X)
	y1 := math.Max(b.Y, o.Y)
	x2 := math.Min(b.X+b.Width, o.X+o.Width)
	y2 := math.Min(b.Y+b.Height, o.Y+o.Height)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	inter := (x2 - x1) * (y2 - y1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ContainsWithMargin reports whether the point (x, y) falls inside the box
// expanded by margin on every side.
func (b Box) ContainsWithMargin(x, y, margin float64) bool {
	return x >= b.X-margin && x <= b.X+b.Width+margin &&
		y >= b.Y-margin && y <= b.Y+b.Height+margin
}

// CentroidDistance returns the Euclidean distance between the centroids
// of two boxes.
func (b Box) CentroidDistance(o Box) float64 {
	bx, by := b.Centroid()
	ox, oy := o.Centroid()
	dx := bx - ox
	dy := by - oy
	return math.Sqrt(dx*dx + dy*dy)
}

// RawDetection is one object instance returned by the detector for a frame.
type RawDetection struct {
	Type       PPEType `json:"type"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// NormalizeBoxes converts pixel-coordinate boxes, as emitted by the
// inference service, to the [0,1] range the rest of the pipeline uses.
// Width and height are the source frame dimensions in pixels.
func NormalizeBoxes(dets []RawDetection, width, height int) []RawDetection {
	if width <= 0 || height <= 0 {
		return dets
	}
	w := float64(width)
	h := float64(height)
	out := make([]RawDetection, len(dets))
	for i, d := range dets {
		d.Box = Box{
			X:      d.Box.X / w,
			Y:      d.Box.Y / h,
			Width:  d.Box.Width / w,
			Height: d.Box.Height / h,
		}
		out[i] = d
	}
	return out
}

// ApplyFloor returns the detections whose confidence meets the floor.
// Order is preserved.
func ApplyFloor(dets []RawDetection, floor float64) []RawDetection {
	kept := make([]RawDetection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= floor {
			kept = append(kept, d)
		}
	}
	return kept
}

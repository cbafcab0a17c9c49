package vision

import (
	"image"

	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/media"
)

// ClampROI clamps roi into a width x height frame. ok is false when the ROI is
// absent or degenerate, in which case the whole frame is used.
func ClampROI(roi *anpr.ROI, width, height int) (image.Rectangle, bool) {
	if roi == nil {
		return image.Rectangle{}, false
	}
	x1 := clampI(roi.X1, 0, width)
	y1 := clampI(roi.Y1, 0, height)
	x2 := clampI(roi.X2, 0, width)
	y2 := clampI(roi.Y2, 0, height)
	if x2 <= x1 || y2 <= y1 {
		return image.Rectangle{}, false
	}
	if x1 == 0 && y1 == 0 && x2 == width && y2 == height {
		return image.Rectangle{}, false
	}
	return image.Rect(x1, y1, x2, y2), true
}

// Gated is the frame detection runs on after the ROI gate.
type Gated struct {
	Frame media.Frame
	// Offset is the position of Frame's origin in the source frame.
	Offset image.Point
	owned  bool
}

// Release closes the cropped copy, if one was made.
func (g Gated) Release() {
	if g.owned {
		_ = g.Frame.Close()
	}
}

// ApplyROI never fails: a missing or unusable ROI passes the frame through.
func ApplyROI(frame media.Frame, roi *anpr.ROI) Gated {
	r, ok := ClampROI(roi, frame.Width(), frame.Height())
	if !ok {
		return Gated{Frame: frame}
	}
	return Gated{Frame: frame.Crop(r), Offset: r.Min, owned: true}
}

// Translate shifts boxes from ROI space back to source frame space.
func Translate(boxes []anpr.Box, offset image.Point) []anpr.Box {
	if offset == (image.Point{}) {
		return boxes
	}
	out := make([]anpr.Box, len(boxes))
	for i, b := range boxes {
		b.X1 += float64(offset.X)
		b.X2 += float64(offset.X)
		b.Y1 += float64(offset.Y)
		b.Y2 += float64(offset.Y)
		out[i] = b
	}
	return out
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

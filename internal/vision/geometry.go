// Package vision turns raw detection-model output into filtered boxes and
// renders them back onto frames.
package vision

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// iouEpsilon keeps IoU finite for zero-area boxes.
const iouEpsilon = 1e-6

// XYXY is an axis-aligned box in corner form.
type XYXY [4]float64

func Area(b XYXY) float64 {
	return (b[2] - b[0]) * (b[3] - b[1])
}

// IntersectionArea clamps the overlap width and height at zero, so disjoint or
// malformed boxes intersect with area 0.
func IntersectionArea(a, b XYXY) float64 {
	w := math.Max(0, math.Min(a[2], b[2])-math.Max(a[0], b[0]))
	h := math.Max(0, math.Min(a[3], b[3])-math.Max(a[1], b[1]))
	return w * h
}

func IoU(a, b XYXY) float64 {
	inter := IntersectionArea(a, b)
	return inter / (Area(a) + Area(b) - inter + iouEpsilon)
}

// IoUMatrix returns the len(a) x len(b) matrix of pairwise IoU values.
func IoUMatrix(a, b []XYXY) *mat.Dense {
	if len(a) == 0 || len(b) == 0 {
		return &mat.Dense{}
	}
	m := mat.NewDense(len(a), len(b), nil)
	for i := range a {
		for j := range b {
			m.Set(i, j, IoU(a[i], b[j]))
		}
	}
	return m
}

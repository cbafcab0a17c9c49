// Package opencv backs the media and inference contracts with gocv.
package opencv

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"anpr-vision/internal/media"
)

// Frame wraps a BGR gocv.Mat.
type Frame struct {
	mat gocv.Mat
}

func NewFrame(mat gocv.Mat) *Frame {
	return &Frame{mat: mat}
}

func (f *Frame) Mat() gocv.Mat { return f.mat }

func (f *Frame) Width() int  { return f.mat.Cols() }
func (f *Frame) Height() int { return f.mat.Rows() }

func (f *Frame) Crop(r image.Rectangle) media.Frame {
	region := f.mat.Region(r)
	defer region.Close()
	return &Frame{mat: region.Clone()}
}

func (f *Frame) Resize(width, height int) media.Frame {
	dst := gocv.NewMat()
	gocv.Resize(f.mat, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	return &Frame{mat: dst}
}

func (f *Frame) Clone() media.Frame {
	return &Frame{mat: f.mat.Clone()}
}

func (f *Frame) DrawRect(r image.Rectangle, c color.RGBA, thickness int) {
	gocv.Rectangle(&f.mat, r, c, thickness)
}

func (f *Frame) DrawText(text string, at image.Point, scale float64, c color.RGBA, thickness int) {
	gocv.PutText(&f.mat, text, at, gocv.FontHersheySimplex, scale, c, thickness)
}

// Blob stretches the frame to size x size without letterboxing, swaps BGR to
// RGB and scales to [0,1].
func (f *Frame) Blob(size int) ([]float32, error) {
	blob := gocv.BlobFromImage(f.mat, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

func (f *Frame) Encode(ext string) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.FileExt(ext), f.mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	src := buf.GetBytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (f *Frame) Close() error {
	return f.mat.Close()
}

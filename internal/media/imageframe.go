package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageFrame is a pure Go Frame backed by an NRGBA image.
type ImageFrame struct {
	img *image.NRGBA
}

func NewImageFrame(img image.Image) *ImageFrame {
	return &ImageFrame{img: imaging.Clone(img)}
}

// NewBlankFrame returns a black frame of the given size.
func NewBlankFrame(width, height int) *ImageFrame {
	return &ImageFrame{img: imaging.New(width, height, color.NRGBA{A: 255})}
}

// DecodeImageFrame decodes any format registered with the image package.
func DecodeImageFrame(data []byte) (*ImageFrame, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return NewImageFrame(img), nil
}

func (f *ImageFrame) Image() *image.NRGBA { return f.img }

func (f *ImageFrame) Width() int  { return f.img.Bounds().Dx() }
func (f *ImageFrame) Height() int { return f.img.Bounds().Dy() }

func (f *ImageFrame) Crop(r image.Rectangle) Frame {
	return &ImageFrame{img: imaging.Crop(f.img, r)}
}

func (f *ImageFrame) Resize(width, height int) Frame {
	return &ImageFrame{img: imaging.Resize(f.img, width, height, imaging.Linear)}
}

func (f *ImageFrame) Clone() Frame {
	return &ImageFrame{img: imaging.Clone(f.img)}
}

func (f *ImageFrame) DrawRect(r image.Rectangle, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(f.img, e.Intersect(f.img.Bounds()), src, image.Point{}, draw.Src)
	}
}

// DrawText uses a fixed 7x13 face; scale and thickness are ignored.
func (f *ImageFrame) DrawText(text string, at image.Point, _ float64, c color.RGBA, _ int) {
	d := &font.Drawer{
		Dst:  f.img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(at.X, at.Y),
	}
	d.DrawString(text)
}

func (f *ImageFrame) Blob(size int) ([]float32, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid blob size %d", size)
	}
	resized := imaging.Resize(f.img, size, size, imaging.Linear)
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			p := row[x*4:]
			i := y*size + x
			out[i] = float32(p[0]) / 255
			out[plane+i] = float32(p[1]) / 255
			out[2*plane+i] = float32(p[2]) / 255
		}
	}
	return out, nil
}

func (f *ImageFrame) Encode(ext string) ([]byte, error) {
	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, f.img, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *ImageFrame) Close() error { return nil }

// Package media defines the frame, reader and writer contracts the pipelines run
// on, independent of the codec library backing them.
package media

import (
	"errors"
	"image"
	"image/color"
)

var (
	ErrOpen    = errors.New("cannot open media")
	ErrNoCodec = errors.New("no working video writer codec")
)

// Frame is a single decoded image owned by the caller until Close.
type Frame interface {
	Width() int
	Height() int
	// Crop returns an independent copy of r.
	Crop(r image.Rectangle) Frame
	// Resize returns an independent copy scaled to width x height.
	Resize(width, height int) Frame
	Clone() Frame
	DrawRect(r image.Rectangle, c color.RGBA, thickness int)
	DrawText(text string, at image.Point, scale float64, c color.RGBA, thickness int)
	// Blob returns the frame resized to size x size as RGB planes (CHW) scaled to [0,1].
	Blob(size int) ([]float32, error)
	// Encode renders the frame in the format named by ext (".png", ".jpg").
	Encode(ext string) ([]byte, error)
	Close() error
}

type VideoInfo struct {
	FPS        float64
	Width      int
	Height     int
	FrameCount int
}

// Reader yields frames in order. Read returns false once no frame is available.
type Reader interface {
	Info() VideoInfo
	Read() (Frame, bool)
	Close() error
}

type Writer interface {
	Write(f Frame) error
	Close() error
}

// Backend opens media through a concrete codec library.
type Backend interface {
	DecodeImage(data []byte) (Frame, error)
	OpenFile(path string) (Reader, error)
	OpenStream(source string) (Reader, error)
	CreateWriter(path, fourcc string, fps float64, width, height int) (Writer, error)
}

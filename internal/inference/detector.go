// Package inference runs the vehicle detection model on frames.
package inference

import (
	"fmt"

	"gorgonia.org/tensor"

	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/media"
	"anpr-vision/internal/vision"
)

// Runtime is a loaded detection model. Input is a [1, 3, S, S] RGB tensor
// scaled to [0,1]; output is the raw detection tensor.
type Runtime interface {
	Infer(input *tensor.Dense) (*tensor.Dense, error)
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(input *tensor.Dense) (*tensor.Dense, error)

func (f RuntimeFunc) Infer(input *tensor.Dense) (*tensor.Dense, error) { return f(input) }

// Detector preprocesses a frame, runs the model and decodes its output.
type Detector struct {
	runtime Runtime
	decoder *vision.Decoder
}

func NewDetector(runtime Runtime, decoder *vision.Decoder) *Detector {
	return &Detector{runtime: runtime, decoder: decoder}
}

// Detect returns boxes in the coordinate space of frame. Malformed model output
// is reported as vision.ErrDecode.
func (d *Detector) Detect(frame media.Frame) ([]anpr.Box, error) {
	size := d.decoder.Params.InputSize
	blob, err := frame.Blob(size)
	if err != nil {
		return nil, fmt.Errorf("preprocess frame: %w", err)
	}

	input := tensor.New(tensor.WithShape(1, 3, size, size), tensor.WithBacking(blob))
	out, err := d.runtime.Infer(input)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	return d.decoder.Decode(out, frame.Width(), frame.Height())
}

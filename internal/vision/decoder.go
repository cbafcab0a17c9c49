package vision

import (
	"errors"
	"fmt"
	"math"

	"gorgonia.org/tensor"

	"anpr-vision/internal/domain/anpr"
)

// ErrDecode marks model output that cannot be interpreted as detections.
var ErrDecode = errors.New("malformed detection output")

const (
	DefaultInputSize     = 640
	DefaultConfThreshold = 0.30

	// cx, cy, w, h, objectness
	minFeatures = 5
)

// DecoderParams defines the post processing parameters for a single-output
// YOLO style detector.
type DecoderParams struct {
	// InputSize is the square resolution frames are resized to before inference
	InputSize int
	// ConfThreshold is the minimum objectness x class score kept
	ConfThreshold float32
	// IoUThreshold is the overlap above which NMS suppresses a box
	IoUThreshold float64
}

func DefaultDecoderParams() DecoderParams {
	return DecoderParams{
		InputSize:     DefaultInputSize,
		ConfThreshold: DefaultConfThreshold,
		IoUThreshold:  DefaultIoUThreshold,
	}
}

type Decoder struct {
	Params DecoderParams
}

func NewDecoder(p DecoderParams) *Decoder {
	if p.InputSize <= 0 {
		p.InputSize = DefaultInputSize
	}
	return &Decoder{Params: p}
}

// candidateView indexes a [1, A, B] output regardless of which of A and B holds
// the candidates.
type candidateView struct {
	data       []float32
	candidates int
	features   int
	transposed bool
}

func (v candidateView) at(c, f int) float32 {
	if v.transposed {
		return v.data[f*v.candidates+c]
	}
	return v.data[c*v.features+f]
}

func newCandidateView(out *tensor.Dense) (candidateView, error) {
	if out == nil {
		return candidateView{}, fmt.Errorf("%w: nil tensor", ErrDecode)
	}
	shape := out.Shape()
	if len(shape) != 3 || shape[0] != 1 {
		return candidateView{}, fmt.Errorf("%w: unexpected output shape %v", ErrDecode, shape)
	}

	var data []float32
	switch raw := out.Data().(type) {
	case []float32:
		data = raw
	case []float64:
		data = make([]float32, len(raw))
		for i, x := range raw {
			data[i] = float32(x)
		}
	default:
		return candidateView{}, fmt.Errorf("%w: unsupported dtype %v", ErrDecode, out.Dtype())
	}

	a, b := shape[1], shape[2]
	if len(data) < a*b {
		return candidateView{}, fmt.Errorf("%w: %d values for shape %v", ErrDecode, len(data), shape)
	}

	v := candidateView{data: data, candidates: a, features: b}
	if a < b {
		v = candidateView{data: data, candidates: b, features: a, transposed: true}
	}
	if v.features < minFeatures {
		return candidateView{}, fmt.Errorf("%w: %d feature columns, need at least %d", ErrDecode, v.features, minFeatures)
	}
	return v, nil
}

// Decode converts raw model output into boxes in the coordinate space of a
// width x height frame.
func (d *Decoder) Decode(out *tensor.Dense, width, height int) ([]anpr.Box, error) {
	v, err := newCandidateView(out)
	if err != nil {
		return nil, err
	}

	size := float64(d.Params.InputSize)
	sx := float64(width) / size
	sy := float64(height) / size

	boxes := make([]XYXY, 0)
	scores := make([]float64, 0)
	classes := make([]int, 0)

	for c := 0; c < v.candidates; c++ {
		obj := v.at(c, 4)
		clsConf := float32(1)
		clsID := 0
		if v.features > minFeatures {
			clsConf = v.at(c, minFeatures)
			for f := minFeatures + 1; f < v.features; f++ {
				if s := v.at(c, f); s > clsConf {
					clsConf = s
					clsID = f - minFeatures
				}
			}
		}

		score := obj * clsConf
		if score < d.Params.ConfThreshold {
			continue
		}

		cx, cy := float64(v.at(c, 0)), float64(v.at(c, 1))
		w, h := float64(v.at(c, 2)), float64(v.at(c, 3))

		boxes = append(boxes, XYXY{
			clampF(cx-w/2, 0, size) * sx,
			clampF(cy-h/2, 0, size) * sy,
			clampF(cx+w/2, 0, size) * sx,
			clampF(cy+h/2, 0, size) * sy,
		})
		scores = append(scores, float64(score))
		classes = append(classes, clsID)
	}

	if len(boxes) == 0 {
		return []anpr.Box{}, nil
	}

	keep := NMS(boxes, scores, d.Params.IoUThreshold)
	result := make([]anpr.Box, 0, len(keep))
	for _, i := range keep {
		b := anpr.Box{
			X1:         math.Round(boxes[i][0]),
			Y1:         math.Round(boxes[i][1]),
			X2:         math.Round(boxes[i][2]),
			Y2:         math.Round(boxes[i][3]),
			Confidence: scores[i],
			ClassID:    classes[i],
		}
		if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
			continue
		}
		result = append(result, b)
	}
	return result, nil
}

func clampF(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

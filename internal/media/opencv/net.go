package opencv

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// Net runs an ONNX detection model through the OpenCV DNN module. A gocv.Net
// is not safe for concurrent use, so calls are serialized.
type Net struct {
	mu  sync.Mutex
	net gocv.Net
}

func LoadNet(modelPath string) (*Net, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		_ = net.Close()
		return nil, fmt.Errorf("load model %s: empty network", modelPath)
	}
	return &Net{net: net}, nil
}

func (n *Net) Infer(input *tensor.Dense) (*tensor.Dense, error) {
	data, ok := input.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("input tensor must be float32, got %v", input.Dtype())
	}

	blob := gocv.NewMatWithSizes([]int(input.Shape()), gocv.MatTypeCV32F)
	defer blob.Close()
	dst, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	copy(dst, data)

	n.mu.Lock()
	n.net.SetInput(blob, "")
	out := n.net.Forward("")
	n.mu.Unlock()
	defer out.Close()

	raw, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	backing := make([]float32, len(raw))
	copy(backing, raw)
	return tensor.New(tensor.WithShape(out.Size()...), tensor.WithBacking(backing)), nil
}

func (n *Net) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.net.Close()
}

package opencv

import (
	"fmt"
	"strconv"

	"gocv.io/x/gocv"

	"anpr-vision/internal/media"
)

// Backend opens images, files, streams and writers through OpenCV.
type Backend struct{}

func (Backend) DecodeImage(data []byte) (media.Frame, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrOpen, err)
	}
	if mat.Empty() {
		_ = mat.Close()
		return nil, fmt.Errorf("%w: could not decode image", media.ErrOpen)
	}
	return NewFrame(mat), nil
}

func (Backend) OpenFile(path string) (media.Reader, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrOpen, err)
	}
	return newReader(vc)
}

// OpenStream accepts RTSP/HTTP URLs or a numeric camera index.
func (Backend) OpenStream(source string) (media.Reader, error) {
	var device interface{} = source
	if idx, err := strconv.Atoi(source); err == nil {
		device = idx
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrOpen, err)
	}
	return newReader(vc)
}

func (Backend) CreateWriter(path, fourcc string, fps float64, width, height int) (media.Writer, error) {
	vw, err := gocv.VideoWriterFile(path, fourcc, fps, width, height, true)
	if err != nil {
		return nil, err
	}
	if !vw.IsOpened() {
		_ = vw.Close()
		return nil, fmt.Errorf("writer %s did not open", fourcc)
	}
	return &writer{vw: vw}, nil
}

type reader struct {
	vc   *gocv.VideoCapture
	info media.VideoInfo
}

func newReader(vc *gocv.VideoCapture) (*reader, error) {
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("%w: capture not opened", media.ErrOpen)
	}
	return &reader{
		vc: vc,
		info: media.VideoInfo{
			FPS:        vc.Get(gocv.VideoCaptureFPS),
			Width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
			Height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
			FrameCount: int(vc.Get(gocv.VideoCaptureFrameCount)),
		},
	}, nil
}

func (r *reader) Info() media.VideoInfo { return r.info }

func (r *reader) Read() (media.Frame, bool) {
	mat := gocv.NewMat()
	if ok := r.vc.Read(&mat); !ok || mat.Empty() {
		_ = mat.Close()
		return nil, false
	}
	return NewFrame(mat), true
}

func (r *reader) Close() error {
	return r.vc.Close()
}

type writer struct {
	vw *gocv.VideoWriter
}

func (w *writer) Write(f media.Frame) error {
	cf, ok := f.(*Frame)
	if !ok {
		return fmt.Errorf("opencv writer cannot write %T", f)
	}
	return w.vw.Write(cf.mat)
}

func (w *writer) Close() error {
	return w.vw.Close()
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.viam.com/test"

	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/media"
)

type streamHarness struct {
	fs      afero.Fs
	clock   *clock.Mock
	backend *fakeBackend
	det     *fakeDetector
	svc     *StreamService
}

func newStreamHarness(script []bool, tweak ...func(*StreamOptions)) *streamHarness {
	fs := afero.NewMemMapFs()
	h := &streamHarness{
		fs:      fs,
		clock:   clock.NewMock(),
		backend: &fakeBackend{fs: fs, width: 64, height: 48, fps: 25, stream: script},
		det:     &fakeDetector{fn: oneVehicle},
	}
	opts := DefaultStreamOptions()
	opts.IdlePoll = 0
	opts.PreviewDir = "previews"
	for _, f := range tweak {
		f(&opts)
	}
	h.svc = NewStreamService(h.backend, NewPipeline(h.det, nil, nil), fs, h.clock, opts, zerolog.Nop())
	return h
}

// tick makes every read take one second of mock time.
func (h *streamHarness) tick() {
	h.backend.onRead = func(int) { h.clock.Add(time.Second) }
}

func liveFrames(n int) []bool {
	script := make([]bool, n)
	for i := range script {
		script[i] = true
	}
	return script
}

func TestStreamMaxFrames(t *testing.T) {
	h := newStreamHarness(liveFrames(10))
	res, err := h.svc.Run(context.Background(), StreamRequest{Source: "rtsp://cam", Task: anpr.TaskVehicleDetection, MaxFrames: 3})

	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, "completed")
	test.That(t, res.FramesSeen, test.ShouldEqual, 3)
	test.That(t, res.FramesProcessed, test.ShouldEqual, 3)
	test.That(t, res.VehicleDetections, test.ShouldEqual, 3)
	test.That(t, res.PlateDetections, test.ShouldEqual, 0)
	test.That(t, len(res.SampleDetections), test.ShouldEqual, 3)
	test.That(t, res.SampleDetections[0].Frame, test.ShouldEqual, 1)
	test.That(t, res.SampleDetections[0].BBox, test.ShouldResemble, anpr.Rect{X1: 10, Y1: 10, X2: 50, Y2: 40})
	test.That(t, res.PreviewPath, test.ShouldBeEmpty)
	test.That(t, h.backend.readerClosed, test.ShouldBeTrue)
}

func TestStreamDurationBudget(t *testing.T) {
	h := newStreamHarness(liveFrames(20))
	h.tick()
	res, err := h.svc.Run(context.Background(), StreamRequest{Source: "0", Task: anpr.TaskVehicleDetection, Duration: 3 * time.Second})

	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.FramesSeen, test.ShouldEqual, 4)
	test.That(t, res.ElapsedSec, test.ShouldEqual, 4.0)
}

func TestStreamStopsWhenIdle(t *testing.T) {
	h := newStreamHarness([]bool{true, true}, func(o *StreamOptions) { o.Duration = 5 * time.Second })
	h.tick()
	res, err := h.svc.Run(context.Background(), StreamRequest{Source: "rtsp://cam", Task: anpr.TaskVehicleDetection, Duration: -1})

	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.FramesSeen, test.ShouldEqual, 2)
	test.That(t, res.FramesProcessed, test.ShouldEqual, 2)
	// the last frame arrived at 2s, the source was given up after 5s of silence
	test.That(t, res.ElapsedSec, test.ShouldEqual, 8.0)
}

func TestStreamSampleLimit(t *testing.T) {
	h := newStreamHarness(liveFrames(30))
	h.det.fn = func(int) ([]anpr.Box, error) {
		return []anpr.Box{
			{X1: 0, Y1: 0, X2: 10, Y2: 10, Confidence: 0.9},
			{X1: 20, Y1: 0, X2: 30, Y2: 10, Confidence: 0.8},
			{X1: 40, Y1: 0, X2: 50, Y2: 10, Confidence: 0.7},
		}, nil
	}
	res, err := h.svc.Run(context.Background(), StreamRequest{Source: "rtsp://cam", Task: anpr.TaskVehicleDetection, MaxFrames: 20})

	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.VehicleDetections, test.ShouldEqual, 60)
	test.That(t, len(res.SampleDetections), test.ShouldEqual, 50)
	test.That(t, res.SampleDetections[49].Frame, test.ShouldEqual, 17)
}

func TestStreamFrameSkip(t *testing.T) {
	h := newStreamHarness(liveFrames(10))
	res, err := h.svc.Run(context.Background(), StreamRequest{Source: "rtsp://cam", Task: anpr.TaskVehicleDetection, FrameSkip: 2, MaxFrames: 3})

	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.FramesSeen, test.ShouldEqual, 5)
	test.That(t, res.FramesProcessed, test.ShouldEqual, 3)
	test.That(t, h.det.calls, test.ShouldEqual, 3)
	frames := []int{}
	for _, s := range res.SampleDetections {
		frames = append(frames, s.Frame)
	}
	test.That(t, frames, test.ShouldResemble, []int{1, 3, 5})
}

func TestStreamPlateTask(t *testing.T) {
	h := newStreamHarness(liveFrames(4))
	res, err := h.svc.Run(context.Background(), StreamRequest{Source: "rtsp://cam", Task: anpr.TaskPlateRecognition, MaxFrames: 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.PlateDetections, test.ShouldEqual, 4)
}

func TestStreamPreview(t *testing.T) {
	h := newStreamHarness(liveFrames(5))
	res, err := h.svc.Run(context.Background(), StreamRequest{Source: "rtsp://cam", Task: anpr.TaskVehicleDetection, MaxFrames: 2, Preview: true})

	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.HasPrefix(res.PreviewPath, "previews/stream_preview_"), test.ShouldBeTrue)
	test.That(t, strings.HasSuffix(res.PreviewPath, ".png"), test.ShouldBeTrue)

	data, err := afero.ReadFile(h.fs, res.PreviewPath)
	test.That(t, err, test.ShouldBeNil)
	img, err := media.DecodeImageFrame(data)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Width(), test.ShouldEqual, 64)

	entries, err := afero.ReadDir(h.fs, "previews")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(entries), test.ShouldEqual, 1)
}

func TestStreamSkipsFailedFrames(t *testing.T) {
	h := newStreamHarness(liveFrames(5))
	h.det.fn = func(call int) ([]anpr.Box, error) {
		if call == 0 {
			return nil, errors.New("inference timeout")
		}
		return oneVehicle(call)
	}
	res, err := h.svc.Run(context.Background(), StreamRequest{Source: "rtsp://cam", Task: anpr.TaskVehicleDetection, MaxFrames: 2})

	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.FramesSeen, test.ShouldEqual, 3)
	test.That(t, res.FramesProcessed, test.ShouldEqual, 2)
	test.That(t, res.SampleDetections[0].Frame, test.ShouldEqual, 2)
}

func TestStreamOpenFailure(t *testing.T) {
	h := newStreamHarness(nil)
	h.backend.openErr = fmt.Errorf("%w: connection refused", media.ErrOpen)
	_, err := h.svc.Run(context.Background(), StreamRequest{Source: "rtsp://cam", Task: anpr.TaskVehicleDetection})

	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldStartWith, "failed to open stream")
	test.That(t, errors.Is(err, media.ErrOpen), test.ShouldBeTrue)
}

func TestStreamValidation(t *testing.T) {
	h := newStreamHarness(nil)
	_, err := h.svc.Run(context.Background(), StreamRequest{Task: anpr.TaskVehicleDetection})
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
	_, err = h.svc.Run(context.Background(), StreamRequest{Source: "rtsp://cam", Task: "faces"})
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
}

func TestStreamStopsOnContext(t *testing.T) {
	h := newStreamHarness(liveFrames(5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.svc.Run(ctx, StreamRequest{Source: "rtsp://cam", Task: anpr.TaskVehicleDetection})

	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.FramesSeen, test.ShouldEqual, 0)
	test.That(t, res.SampleDetections, test.ShouldBeEmpty)
	test.That(t, h.backend.readerClosed, test.ShouldBeTrue)
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.viam.com/test"

	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/media"
	"anpr-vision/internal/repository"
	"anpr-vision/internal/storage"
	"anpr-vision/internal/vision"
)

type brokenHistory struct {
	*repository.Memory
}

func (brokenHistory) SaveFrame(context.Context, *anpr.FrameRecord) error {
	return errors.New("disk full")
}

func newImageService(det *fakeDetector, bucket *fakeBucket, history HistoryStore) *ImageService {
	backend := &fakeBackend{fs: afero.NewMemMapFs()}
	return NewImageService(backend, NewPipeline(det, nil, nil), bucket, history, clock.NewMock(), zerolog.Nop())
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	data, err := media.NewBlankFrame(w, h).Encode(".png")
	test.That(t, err, test.ShouldBeNil)
	return data
}

func TestImageDetectVehicles(t *testing.T) {
	history := repository.NewMemory()
	bucket := &fakeBucket{url: "https://cdn.example"}
	svc := newImageService(&fakeDetector{fn: oneVehicle}, bucket, history)

	res, err := svc.Detect(context.Background(), pngBytes(t, 64, 48), anpr.TaskVehicleDetection, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Count, test.ShouldEqual, 1)
	test.That(t, res.VehicleCount, test.ShouldEqual, 1)
	test.That(t, res.Detections[0].BBox, test.ShouldResemble, [4]float64{10, 10, 50, 40})
	test.That(t, res.Detections[0].Score, test.ShouldEqual, 0.9)
	test.That(t, res.Plates, test.ShouldNotBeNil)
	test.That(t, res.Plates, test.ShouldBeEmpty)
	test.That(t, res.Message, test.ShouldBeEmpty)
	test.That(t, strings.HasPrefix(res.ImageURL, "https://cdn.example/images/"), test.ShouldBeTrue)
	test.That(t, res.FrameID, test.ShouldEqual, int64(1))
	test.That(t, bucket.contentType, test.ShouldEqual, "image/png")
	test.That(t, res.Annotated, test.ShouldResemble, bucket.data[0])

	rec, err := history.GetFrame(context.Background(), res.FrameID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.ImageURL, test.ShouldEqual, res.ImageURL)
	test.That(t, rec.VehicleCount, test.ShouldEqual, 1)
	test.That(t, rec.RawMeta["task"], test.ShouldEqual, "vehicle_detection")
}

func TestImageDetectPlates(t *testing.T) {
	history := repository.NewMemory()
	svc := newImageService(&fakeDetector{fn: oneVehicle}, &fakeBucket{url: "https://cdn.example"}, history)

	res, err := svc.Detect(context.Background(), pngBytes(t, 64, 48), anpr.TaskPlateRecognition, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.PlateCount, test.ShouldEqual, 1)
	test.That(t, res.Plates[0].PlateText, test.ShouldEqual, vision.PlaceholderPlateText)

	plates, total, err := history.ListPlates(context.Background(), 10, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, total, test.ShouldEqual, int64(1))
	test.That(t, plates[0].FrameID, test.ShouldEqual, res.FrameID)
	test.That(t, plates[0].VehicleBox, test.ShouldResemble, anpr.Rect{X1: 10, Y1: 10, X2: 50, Y2: 40})
}

func TestImageEmptyMessages(t *testing.T) {
	svc := newImageService(&fakeDetector{}, &fakeBucket{url: "https://cdn.example"}, repository.NewMemory())

	res, err := svc.Detect(context.Background(), pngBytes(t, 32, 32), anpr.TaskVehicleDetection, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Message, test.ShouldEqual, "No vehicles detected")
	test.That(t, res.Detections, test.ShouldBeEmpty)

	res, err = svc.Detect(context.Background(), pngBytes(t, 32, 32), anpr.TaskPlateRecognition, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Message, test.ShouldEqual, "No number plates detected")
}

func TestImageROITranslatesBoxes(t *testing.T) {
	det := &fakeDetector{fn: func(int) ([]anpr.Box, error) {
		return []anpr.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10, Confidence: 0.8}}, nil
	}}
	svc := newImageService(det, &fakeBucket{url: "https://cdn.example"}, repository.NewMemory())

	roi := &anpr.ROI{X1: 20, Y1: 20, X2: 64, Y2: 48}
	res, err := svc.Detect(context.Background(), pngBytes(t, 64, 48), anpr.TaskVehicleDetection, roi)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det.sizes[0], test.ShouldResemble, [2]int{44, 28})
	test.That(t, res.Detections[0].BBox, test.ShouldResemble, [4]float64{20, 20, 30, 30})
	test.That(t, res.ROI, test.ShouldEqual, roi)
}

func TestImageInvalidInput(t *testing.T) {
	svc := newImageService(&fakeDetector{}, &fakeBucket{url: "https://cdn.example"}, repository.NewMemory())

	_, err := svc.Detect(context.Background(), []byte("not an image"), anpr.TaskVehicleDetection, nil)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
	_, err = svc.Detect(context.Background(), nil, anpr.TaskVehicleDetection, nil)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
	_, err = svc.Detect(context.Background(), pngBytes(t, 8, 8), "segment", nil)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
}

func TestImageDecodeErrorAborts(t *testing.T) {
	det := &fakeDetector{fn: func(int) ([]anpr.Box, error) { return nil, vision.ErrDecode }}
	bucket := &fakeBucket{url: "https://cdn.example"}
	svc := newImageService(det, bucket, repository.NewMemory())

	_, err := svc.Detect(context.Background(), pngBytes(t, 16, 16), anpr.TaskVehicleDetection, nil)
	test.That(t, errors.Is(err, vision.ErrDecode), test.ShouldBeTrue)
	test.That(t, bucket.keys, test.ShouldBeEmpty)
}

func TestImageUploadFailure(t *testing.T) {
	bucket := &fakeBucket{err: errors.New("access denied")}
	svc := newImageService(&fakeDetector{fn: oneVehicle}, bucket, repository.NewMemory())

	_, err := svc.Detect(context.Background(), pngBytes(t, 64, 48), anpr.TaskVehicleDetection, nil)
	test.That(t, errors.Is(err, storage.ErrUpload), test.ShouldBeTrue)
}

func TestImageHistoryFailureIsNotFatal(t *testing.T) {
	svc := newImageService(&fakeDetector{fn: oneVehicle}, &fakeBucket{url: "https://cdn.example"}, brokenHistory{repository.NewMemory()})

	res, err := svc.Detect(context.Background(), pngBytes(t, 64, 48), anpr.TaskVehicleDetection, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.FrameID, test.ShouldEqual, int64(0))
	test.That(t, res.VehicleCount, test.ShouldEqual, 1)
}

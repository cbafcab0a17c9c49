package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/media"
	"anpr-vision/internal/storage"
)

type ImageService struct {
	backend  media.Backend
	pipeline *Pipeline
	bucket   storage.Bucket
	history  HistoryStore
	clock    clock.Clock
	log      zerolog.Logger
}

func NewImageService(backend media.Backend, pipeline *Pipeline, bucket storage.Bucket, history HistoryStore, clk clock.Clock, log zerolog.Logger) *ImageService {
	if clk == nil {
		clk = clock.New()
	}
	return &ImageService{backend: backend, pipeline: pipeline, bucket: bucket, history: history, clock: clk, log: log}
}

// Detect runs one image through the pipeline, stores the annotated result and
// records it in history. Unlike the video loop, a decode error aborts.
func (s *ImageService) Detect(ctx context.Context, data []byte, task anpr.Task, roi *anpr.ROI) (*anpr.ImageResult, error) {
	if !task.Valid() {
		return nil, fmt.Errorf("%w: task must be %q or %q", ErrInvalidInput, anpr.TaskVehicleDetection, anpr.TaskPlateRecognition)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image is empty", ErrInvalidInput)
	}

	frame, err := s.backend.DecodeImage(data)
	if err != nil {
		if errors.Is(err, media.ErrOpen) {
			return nil, fmt.Errorf("%w: invalid image file", ErrInvalidInput)
		}
		return nil, err
	}
	defer frame.Close()

	res, err := s.pipeline.Process(frame, roi, task, true)
	if err != nil {
		s.log.Error().Err(err).Str("task", string(task)).Msg("image inference failed")
		return nil, fmt.Errorf("image inference: %w", err)
	}

	annotated, err := frame.Encode(".png")
	if err != nil {
		return nil, fmt.Errorf("encode annotated image: %w", err)
	}

	stored, err := s.bucket.Upload(ctx, storage.ImageKey(), annotated, "image/png")
	if err != nil {
		return nil, err
	}

	out := &anpr.ImageResult{
		Task:         task,
		Count:        len(res.Vehicles),
		Detections:   lo.Map(res.Vehicles, func(b anpr.Box, _ int) anpr.ImageDetection { return toImageDetection(b) }),
		ImageURL:     stored.URL,
		VehicleCount: len(res.Vehicles),
		PlateCount:   len(res.Plates),
		Plates:       lo.Ternary(res.Plates == nil, []anpr.PlateRecord{}, res.Plates),
		ROI:          roi,
		Annotated:    annotated,
	}
	switch {
	case task.WantsPlates() && len(res.Plates) == 0:
		out.Message = "No number plates detected"
	case len(res.Vehicles) == 0:
		out.Message = "No vehicles detected"
	}

	rec := &anpr.FrameRecord{
		ImageURL:     stored.URL,
		CapturedAt:   s.clock.Now(),
		VehicleCount: out.VehicleCount,
		PlateCount:   out.PlateCount,
		RawMeta: map[string]interface{}{
			"task":       string(task),
			"roi":        roi,
			"detections": out.Detections,
		},
		Plates: lo.Map(res.Plates, func(p anpr.PlateRecord, _ int) anpr.PlateRow {
			return anpr.PlateRow{
				PlateText:  p.PlateText,
				Confidence: p.Confidence,
				VehicleBox: p.VehicleBox,
				PlateBox:   p.PlateBox,
				CreatedAt:  s.clock.Now(),
			}
		}),
	}
	if err := s.history.SaveFrame(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("image_url", stored.URL).Msg("failed to save frame history")
	} else {
		out.FrameID = rec.ID
	}

	s.log.Info().
		Str("task", string(task)).
		Int("vehicle_count", out.VehicleCount).
		Int("plate_count", out.PlateCount).
		Int64("frame_id", out.FrameID).
		Msg("image processed")
	return out, nil
}

func toImageDetection(b anpr.Box) anpr.ImageDetection {
	return anpr.ImageDetection{
		BBox:    [4]float64{b.X1, b.Y1, b.X2, b.Y2},
		Score:   b.Confidence,
		ClassID: b.ClassID,
	}
}

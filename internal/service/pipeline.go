package service

import (
	"fmt"

	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/media"
	"anpr-vision/internal/vision"
)

// Detector finds vehicles in a frame. *inference.Detector satisfies it.
type Detector interface {
	Detect(frame media.Frame) ([]anpr.Box, error)
}

type FrameResult struct {
	Vehicles []anpr.Box
	Plates   []anpr.PlateRecord
}

// Pipeline is the per-frame work shared by image, video and stream requests:
// ROI gate, detection, plate stage, annotation.
type Pipeline struct {
	detector  Detector
	plates    vision.PlateRecognizer
	annotator *vision.Annotator
}

func NewPipeline(detector Detector, plates vision.PlateRecognizer, annotator *vision.Annotator) *Pipeline {
	if plates == nil {
		plates = vision.FixedOffsetPlates{}
	}
	if annotator == nil {
		annotator = vision.NewAnnotator()
	}
	return &Pipeline{detector: detector, plates: plates, annotator: annotator}
}

// Process runs detection inside roi and reports boxes in frame coordinates.
// With annotate set the detections are drawn onto frame.
func (p *Pipeline) Process(frame media.Frame, roi *anpr.ROI, task anpr.Task, annotate bool) (FrameResult, error) {
	gated := vision.ApplyROI(frame, roi)
	boxes, err := p.detector.Detect(gated.Frame)
	gated.Release()
	if err != nil {
		return FrameResult{}, err
	}

	res := FrameResult{Vehicles: vision.Translate(boxes, gated.Offset)}
	if task.WantsPlates() {
		plates, err := p.plates.Recognize(frame, res.Vehicles)
		if err != nil {
			return FrameResult{}, fmt.Errorf("plate stage: %w", err)
		}
		res.Plates = plates
	}

	if annotate {
		p.annotator.Annotate(frame, res.Vehicles, res.Plates, task)
	}
	return res, nil
}

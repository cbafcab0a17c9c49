package vision

import (
	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/media"
)

// PlateRecognizer locates and reads the plate of each detected vehicle.
type PlateRecognizer interface {
	Recognize(frame media.Frame, vehicles []anpr.Box) ([]anpr.PlateRecord, error)
}

// PlaceholderPlateText is reported by FixedOffsetPlates for every vehicle.
const PlaceholderPlateText = "DUMMY1234"

// FixedOffsetPlates assumes the plate sits in the lower part of the vehicle
// box and does no OCR.
type FixedOffsetPlates struct{}

func (FixedOffsetPlates) Recognize(_ media.Frame, vehicles []anpr.Box) ([]anpr.PlateRecord, error) {
	plates := make([]anpr.PlateRecord, 0, len(vehicles))
	for _, v := range vehicles {
		vb := v.Rect()
		w := vb.X2 - vb.X1
		h := vb.Y2 - vb.Y1
		plates = append(plates, anpr.PlateRecord{
			VehicleBox: vb,
			PlateBox: anpr.Rect{
				X1: vb.X1 + int(0.1*float64(w)),
				Y1: vb.Y2 - int(0.3*float64(h)),
				X2: vb.X2 - int(0.1*float64(w)),
				Y2: vb.Y2 - int(0.1*float64(h)),
			},
			Confidence: v.Confidence,
			PlateText:  PlaceholderPlateText,
		})
	}
	return plates, nil
}

package vision

import (
	"fmt"
	"image"
	"image/color"

	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/media"
)

var (
	VehicleColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	PlateColor     = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	PlateTextColor = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// Annotator draws detections onto frames for human viewing.
type Annotator struct {
	LineThickness int
}

func NewAnnotator() *Annotator {
	return &Annotator{LineThickness: 2}
}

// Annotate draws in place. Plate boxes are drawn only for the plate task.
func (a *Annotator) Annotate(frame media.Frame, vehicles []anpr.Box, plates []anpr.PlateRecord, task anpr.Task) {
	for _, v := range vehicles {
		r := v.Rect()
		frame.DrawRect(r.Image(), VehicleColor, a.LineThickness)
		frame.DrawText(fmt.Sprintf("%.2f", v.Confidence), image.Pt(r.X1, max(0, r.Y1-5)), 0.5, VehicleColor, 1)
	}

	if !task.WantsPlates() {
		return
	}
	for _, p := range plates {
		frame.DrawRect(p.PlateBox.Image(), PlateColor, a.LineThickness)
		frame.DrawText(p.PlateText, image.Pt(p.PlateBox.X1, max(0, p.PlateBox.Y1-10)), 0.6, PlateTextColor, 2)
	}
}

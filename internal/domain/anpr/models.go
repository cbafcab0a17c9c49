package anpr

import (
	"encoding/json"
	"image"
	"time"
)

type Task string

const (
	TaskVehicleDetection Task = "vehicle_detection"
	TaskPlateRecognition Task = "plate_recognition"
)

func (t Task) Valid() bool {
	return t == TaskVehicleDetection || t == TaskPlateRecognition
}

// WantsPlates reports whether the plate stage runs for this task.
func (t Task) WantsPlates() bool {
	return t == TaskPlateRecognition
}

type JobStatus string

const (
	StatusUploadReceived JobStatus = "upload_received"
	StatusProcessing     JobStatus = "processing"
	StatusReencoding     JobStatus = "reencoding"
	StatusUploading      JobStatus = "uploading"
	StatusCompleted      JobStatus = "completed"
	StatusFailed         JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rect is an integer pixel rectangle in image space.
type Rect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// ROI limits where detection is evaluated.
type ROI struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// UnmarshalJSON accepts fractional coordinates and truncates them toward zero.
func (r *ROI) UnmarshalJSON(data []byte) error {
	var raw struct {
		X1 float64 `json:"x1"`
		Y1 float64 `json:"y1"`
		X2 float64 `json:"x2"`
		Y2 float64 `json:"y2"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ROI{X1: int(raw.X1), Y1: int(raw.Y1), X2: int(raw.X2), Y2: int(raw.Y2)}
	return nil
}

// Box is a single decoded detection. Coordinates are in the space of the frame
// that was handed to the detector.
type Box struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
}

func (b Box) Rect() Rect {
	return Rect{X1: int(b.X1), Y1: int(b.Y1), X2: int(b.X2), Y2: int(b.Y2)}
}

type PlateRecord struct {
	VehicleBox Rect    `json:"bbox_vehicle"`
	PlateBox   Rect    `json:"bbox_plate"`
	Confidence float64 `json:"confidence"`
	PlateText  string  `json:"plate_text"`
}

type Job struct {
	ID                string     `json:"job_id"`
	Task              Task       `json:"task"`
	ROI               *ROI       `json:"roi,omitempty"`
	Status            JobStatus  `json:"status"`
	ProgressPercent   float64    `json:"progress"`
	Cancelled         bool       `json:"cancelled"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	ProcessedFrames   int        `json:"processed_frames"`
	VehicleCount      int        `json:"vehicle_count"`
	PlateCount        int        `json:"plate_count"`
	VideoURL          string     `json:"result_url,omitempty"`
	Error             string     `json:"error,omitempty"`
	ProcessingTimeSec float64    `json:"processing_time_sec,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// JobUpdate is a partial write to a job record. Nil fields are left untouched.
type JobUpdate struct {
	Status            *JobStatus
	ProgressPercent   *float64
	Cancelled         *bool
	CancelledAt       *time.Time
	ProcessedFrames   *int
	VehicleCount      *int
	PlateCount        *int
	VideoURL          *string
	Error             *string
	ProcessingTimeSec *float64
}

type SampleDetection struct {
	Frame      int     `json:"frame"`
	BBox       Rect    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

type StreamResult struct {
	Task              Task              `json:"task"`
	Status            string            `json:"status"`
	FramesSeen        int               `json:"frames_seen"`
	FramesProcessed   int               `json:"frames_processed"`
	VehicleDetections int               `json:"vehicle_detections"`
	PlateDetections   int               `json:"plate_detections"`
	SampleDetections  []SampleDetection `json:"sample_detections"`
	PreviewPath       string            `json:"preview_path,omitempty"`
	ElapsedSec        float64           `json:"elapsed_sec"`
}

// ImageDetection is the flat detection shape returned for single images.
type ImageDetection struct {
	BBox    [4]float64 `json:"bbox"`
	Score   float64    `json:"score"`
	ClassID int        `json:"class_id"`
}

type ImageResult struct {
	Task         Task             `json:"task"`
	Count        int              `json:"count"`
	Detections   []ImageDetection `json:"detections"`
	ImageURL     string           `json:"image_url"`
	Message      string           `json:"message,omitempty"`
	FrameID      int64            `json:"frame_id"`
	VehicleCount int              `json:"vehicle_count"`
	PlateCount   int              `json:"plate_count"`
	Plates       []PlateRecord    `json:"plates"`
	ROI          *ROI             `json:"roi,omitempty"`
	Annotated    []byte           `json:"-"`
}

// FrameRecord is a persisted single-image inference.
type FrameRecord struct {
	ID           int64                  `json:"id"`
	ImageURL     string                 `json:"image_url"`
	CapturedAt   time.Time              `json:"captured_at"`
	VehicleCount int                    `json:"vehicle_count"`
	PlateCount   int                    `json:"plate_count"`
	RawMeta      map[string]interface{} `json:"raw_meta,omitempty"`
	Plates       []PlateRow             `json:"plates,omitempty"`
}

type PlateRow struct {
	ID         int64     `json:"id"`
	FrameID    int64     `json:"frame_id"`
	PlateText  string    `json:"plate_text"`
	Confidence float64   `json:"confidence"`
	VehicleBox Rect      `json:"bbox_vehicle"`
	PlateBox   Rect      `json:"bbox_plate"`
	CreatedAt  time.Time `json:"created_at"`
}

type Stats struct {
	TotalFrames           int64 `json:"total_frames"`
	TotalVideos           int64 `json:"total_videos"`
	CompletedVideos       int64 `json:"completed_videos"`
	TotalVehiclesDetected int64 `json:"total_vehicles_detected"`
	TotalPlatesDetected   int64 `json:"total_plates_detected"`
	TotalPlateRecords     int64 `json:"total_plate_records"`
}

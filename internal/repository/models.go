package repository

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"

	"anpr-vision/internal/domain/anpr"
)

var ErrNotFound = errors.New("record not found")

type VideoJob struct {
	ID                string         `gorm:"primaryKey;type:uuid"`
	Task              string         `gorm:"not null"`
	ROI               datatypes.JSON `gorm:"column:roi"`
	Status            string         `gorm:"not null"`
	ProgressPercent   float64        `gorm:"not null;default:0"`
	Cancelled         bool           `gorm:"not null;default:false"`
	CancelledAt       *time.Time
	ProcessedFrames   int `gorm:"not null;default:0"`
	VehicleCount      int `gorm:"not null;default:0"`
	PlateCount        int `gorm:"not null;default:0"`
	VideoURL          *string
	Error             *string
	ProcessingTimeSec *float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (VideoJob) TableName() string { return "video_jobs" }

type Frame struct {
	ID           int64  `gorm:"primaryKey"`
	ImageURL     string `gorm:"not null"`
	CapturedAt   time.Time
	VehicleCount int `gorm:"not null;default:0"`
	PlateCount   int `gorm:"not null;default:0"`
	RawMeta      datatypes.JSON
}

type Plate struct {
	ID          int64  `gorm:"primaryKey"`
	FrameID     int64  `gorm:"not null;index"`
	PlateText   string `gorm:"not null"`
	Confidence  float64
	BBoxVehicle datatypes.JSON `gorm:"column:bbox_vehicle"`
	BBoxPlate   datatypes.JSON `gorm:"column:bbox_plate"`
	CreatedAt   time.Time
}

func jobFromDomain(j *anpr.Job) (VideoJob, error) {
	row := VideoJob{
		ID:              j.ID,
		Task:            string(j.Task),
		Status:          string(j.Status),
		ProgressPercent: j.ProgressPercent,
		Cancelled:       j.Cancelled,
		CancelledAt:     j.CancelledAt,
		ProcessedFrames: j.ProcessedFrames,
		VehicleCount:    j.VehicleCount,
		PlateCount:      j.PlateCount,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
	if j.ROI != nil {
		raw, err := json.Marshal(j.ROI)
		if err != nil {
			return VideoJob{}, err
		}
		row.ROI = datatypes.JSON(raw)
	}
	if j.VideoURL != "" {
		row.VideoURL = &j.VideoURL
	}
	if j.Error != "" {
		row.Error = &j.Error
	}
	if j.ProcessingTimeSec != 0 {
		row.ProcessingTimeSec = &j.ProcessingTimeSec
	}
	return row, nil
}

func (v VideoJob) toDomain() anpr.Job {
	job := anpr.Job{
		ID:              v.ID,
		Task:            anpr.Task(v.Task),
		Status:          anpr.JobStatus(v.Status),
		ProgressPercent: v.ProgressPercent,
		Cancelled:       v.Cancelled,
		CancelledAt:     v.CancelledAt,
		ProcessedFrames: v.ProcessedFrames,
		VehicleCount:    v.VehicleCount,
		PlateCount:      v.PlateCount,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
	if len(v.ROI) > 0 {
		var roi anpr.ROI
		if err := json.Unmarshal(v.ROI, &roi); err == nil {
			job.ROI = &roi
		}
	}
	if v.VideoURL != nil {
		job.VideoURL = *v.VideoURL
	}
	if v.Error != nil {
		job.Error = *v.Error
	}
	if v.ProcessingTimeSec != nil {
		job.ProcessingTimeSec = *v.ProcessingTimeSec
	}
	return job
}

// updateColumns turns a partial update into a gorm column map.
func updateColumns(u anpr.JobUpdate, now time.Time) map[string]interface{} {
	cols := map[string]interface{}{"updated_at": now}
	if u.Status != nil {
		cols["status"] = string(*u.Status)
	}
	if u.ProgressPercent != nil {
		cols["progress_percent"] = *u.ProgressPercent
	}
	if u.Cancelled != nil {
		cols["cancelled"] = *u.Cancelled
	}
	if u.CancelledAt != nil {
		cols["cancelled_at"] = *u.CancelledAt
	}
	if u.ProcessedFrames != nil {
		cols["processed_frames"] = *u.ProcessedFrames
	}
	if u.VehicleCount != nil {
		cols["vehicle_count"] = *u.VehicleCount
	}
	if u.PlateCount != nil {
		cols["plate_count"] = *u.PlateCount
	}
	if u.VideoURL != nil {
		cols["video_url"] = *u.VideoURL
	}
	if u.Error != nil {
		cols["error"] = *u.Error
	}
	if u.ProcessingTimeSec != nil {
		cols["processing_time_sec"] = *u.ProcessingTimeSec
	}
	return cols
}

// applyUpdate is updateColumns for in-memory records.
func applyUpdate(j *anpr.Job, u anpr.JobUpdate, now time.Time) {
	j.UpdatedAt = now
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.ProgressPercent != nil {
		j.ProgressPercent = *u.ProgressPercent
	}
	if u.Cancelled != nil {
		j.Cancelled = *u.Cancelled
	}
	if u.CancelledAt != nil {
		t := *u.CancelledAt
		j.CancelledAt = &t
	}
	if u.ProcessedFrames != nil {
		j.ProcessedFrames = *u.ProcessedFrames
	}
	if u.VehicleCount != nil {
		j.VehicleCount = *u.VehicleCount
	}
	if u.PlateCount != nil {
		j.PlateCount = *u.PlateCount
	}
	if u.VideoURL != nil {
		j.VideoURL = *u.VideoURL
	}
	if u.Error != nil {
		j.Error = *u.Error
	}
	if u.ProcessingTimeSec != nil {
		j.ProcessingTimeSec = *u.ProcessingTimeSec
	}
}

func frameToDomain(f Frame) anpr.FrameRecord {
	rec := anpr.FrameRecord{
		ID:           f.ID,
		ImageURL:     f.ImageURL,
		CapturedAt:   f.CapturedAt,
		VehicleCount: f.VehicleCount,
		PlateCount:   f.PlateCount,
	}
	if len(f.RawMeta) > 0 {
		_ = json.Unmarshal(f.RawMeta, &rec.RawMeta)
	}
	return rec
}

func plateToDomain(p Plate) anpr.PlateRow {
	row := anpr.PlateRow{
		ID:         p.ID,
		FrameID:    p.FrameID,
		PlateText:  p.PlateText,
		Confidence: p.Confidence,
		CreatedAt:  p.CreatedAt,
	}
	_ = json.Unmarshal(p.BBoxVehicle, &row.VehicleBox)
	_ = json.Unmarshal(p.BBoxPlate, &row.PlateBox)
	return row
}

func mustJSON(v interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

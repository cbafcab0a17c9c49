package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"anpr-vision/internal/domain/anpr"
)

type ANPRRepository struct {
	db *gorm.DB
}

func NewANPRRepository(db *gorm.DB) *ANPRRepository {
	return &ANPRRepository{db: db}
}

func (r *ANPRRepository) CreateJob(ctx context.Context, job *anpr.Job) error {
	row, err := jobFromDomain(job)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *ANPRRepository) UpdateJob(ctx context.Context, id string, u anpr.JobUpdate) error {
	res := r.db.WithContext(ctx).
		Model(&VideoJob{}).
		Where("id = ?", id).
		Updates(updateColumns(u, time.Now()))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ANPRRepository) GetJob(ctx context.Context, id string) (*anpr.Job, error) {
	var row VideoJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job := row.toDomain()
	return &job, nil
}

func (r *ANPRRepository) ListJobs(ctx context.Context, limit, offset int) ([]anpr.Job, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&VideoJob{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []VideoJob
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	jobs := make([]anpr.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}
	return jobs, total, nil
}

// SaveFrame stores a frame with its plates in one transaction and fills in the
// generated IDs.
func (r *ANPRRepository) SaveFrame(ctx context.Context, rec *anpr.FrameRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		frame := Frame{
			ImageURL:     rec.ImageURL,
			CapturedAt:   rec.CapturedAt,
			VehicleCount: rec.VehicleCount,
			PlateCount:   rec.PlateCount,
		}
		if len(rec.RawMeta) > 0 {
			frame.RawMeta = mustJSON(rec.RawMeta)
		}
		if err := tx.Create(&frame).Error; err != nil {
			return err
		}
		rec.ID = frame.ID

		for i := range rec.Plates {
			p := &rec.Plates[i]
			row := Plate{
				FrameID:     frame.ID,
				PlateText:   p.PlateText,
				Confidence:  p.Confidence,
				BBoxVehicle: mustJSON(p.VehicleBox),
				BBoxPlate:   mustJSON(p.PlateBox),
				CreatedAt:   p.CreatedAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			p.ID = row.ID
			p.FrameID = frame.ID
		}
		return nil
	})
}

func (r *ANPRRepository) ListFrames(ctx context.Context, limit, offset int) ([]anpr.FrameRecord, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&Frame{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []Frame
	err := r.db.WithContext(ctx).
		Order("captured_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	frames := make([]anpr.FrameRecord, 0, len(rows))
	for _, row := range rows {
		frames = append(frames, frameToDomain(row))
	}
	return frames, total, nil
}

func (r *ANPRRepository) GetFrame(ctx context.Context, id int64) (*anpr.FrameRecord, error) {
	var row Frame
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var plates []Plate
	if err := r.db.WithContext(ctx).Where("frame_id = ?", id).Order("id").Find(&plates).Error; err != nil {
		return nil, err
	}

	rec := frameToDomain(row)
	for _, p := range plates {
		rec.Plates = append(rec.Plates, plateToDomain(p))
	}
	return &rec, nil
}

func (r *ANPRRepository) ListPlates(ctx context.Context, limit, offset int) ([]anpr.PlateRow, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&Plate{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []Plate
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	plates := make([]anpr.PlateRow, 0, len(rows))
	for _, row := range rows {
		plates = append(plates, plateToDomain(row))
	}
	return plates, total, nil
}

// Stats counts single-image detections plus those of completed video jobs.
func (r *ANPRRepository) Stats(ctx context.Context) (anpr.Stats, error) {
	var s anpr.Stats
	db := r.db.WithContext(ctx)

	var frameSums struct {
		Frames   int64
		Vehicles int64
		Plates   int64
	}
	err := db.Model(&Frame{}).
		Select("COUNT(*) AS frames, COALESCE(SUM(vehicle_count), 0) AS vehicles, COALESCE(SUM(plate_count), 0) AS plates").
		Scan(&frameSums).Error
	if err != nil {
		return s, err
	}

	var jobSums struct {
		Vehicles int64
		Plates   int64
	}
	completed := db.Model(&VideoJob{}).Where("status = ?", string(anpr.StatusCompleted))
	err = completed.
		Select("COALESCE(SUM(vehicle_count), 0) AS vehicles, COALESCE(SUM(plate_count), 0) AS plates").
		Scan(&jobSums).Error
	if err != nil {
		return s, err
	}

	if err := db.Model(&VideoJob{}).Count(&s.TotalVideos).Error; err != nil {
		return s, err
	}
	if err := db.Model(&VideoJob{}).Where("status = ?", string(anpr.StatusCompleted)).Count(&s.CompletedVideos).Error; err != nil {
		return s, err
	}
	if err := db.Model(&Plate{}).Count(&s.TotalPlateRecords).Error; err != nil {
		return s, err
	}

	s.TotalFrames = frameSums.Frames
	s.TotalVehiclesDetected = frameSums.Vehicles + jobSums.Vehicles
	s.TotalPlatesDetected = frameSums.Plates + jobSums.Plates
	return s, nil
}

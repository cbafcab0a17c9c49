package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	// ErrUnavailable means the job store could not be reached after retrying.
	ErrUnavailable = errors.New("job store unavailable")
	ErrCancelled   = errors.New("job cancelled")
)

const (
	CancelledMessage  = "Cancelled by user"
	ShutdownMessage   = "Service shutting down"
	MissingURLMessage = "Upload completed but URL missing"
)

type JobStore interface {
	CreateJob(ctx context.Context, job *anpr.Job) error
	UpdateJob(ctx context.Context, id string, u anpr.JobUpdate) error
	GetJob(ctx context.Context, id string) (*anpr.Job, error)
}

type HistoryStore interface {
	SaveFrame(ctx context.Context, rec *anpr.FrameRecord) error
	ListFrames(ctx context.Context, limit, offset int) ([]anpr.FrameRecord, int64, error)
	GetFrame(ctx context.Context, id int64) (*anpr.FrameRecord, error)
	ListPlates(ctx context.Context, limit, offset int) ([]anpr.PlateRow, int64, error)
	ListJobs(ctx context.Context, limit, offset int) ([]anpr.Job, int64, error)
	Stats(ctx context.Context) (anpr.Stats, error)
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

type HistoryService struct {
	store HistoryStore
	log   zerolog.Logger
}

func NewHistoryService(store HistoryStore, log zerolog.Logger) *HistoryService {
	return &HistoryService{store: store, log: log}
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *HistoryService) Frames(ctx context.Context, limit, offset int) (*Page[anpr.FrameRecord], error) {
	limit, offset = normalizePage(limit, offset)
	frames, total, err := s.store.ListFrames(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	return &Page[anpr.FrameRecord]{Items: frames, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *HistoryService) Frame(ctx context.Context, id int64) (*anpr.FrameRecord, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: frame id must be positive", ErrInvalidInput)
	}
	frame, err := s.store.GetFrame(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: frame %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frame: %w", err)
	}
	return frame, nil
}

func (s *HistoryService) Plates(ctx context.Context, limit, offset int) (*Page[anpr.PlateRow], error) {
	limit, offset = normalizePage(limit, offset)
	plates, total, err := s.store.ListPlates(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list plates: %w", err)
	}
	return &Page[anpr.PlateRow]{Items: plates, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *HistoryService) Videos(ctx context.Context, limit, offset int) (*Page[anpr.Job], error) {
	limit, offset = normalizePage(limit, offset)
	jobs, total, err := s.store.ListJobs(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list video jobs: %w", err)
	}
	return &Page[anpr.Job]{Items: jobs, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *HistoryService) Stats(ctx context.Context) (anpr.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to compute stats")
		return anpr.Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

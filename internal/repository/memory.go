package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"anpr-vision/internal/domain/anpr"
)

// Memory keeps jobs and history in process. It backs database.driver=memory
// and the service tests.
type Memory struct {
	mu      sync.RWMutex
	jobs    map[string]*anpr.Job
	frames  []anpr.FrameRecord
	plates  []anpr.PlateRow
	frameID int64
	plateID int64
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*anpr.Job), now: time.Now}
}

func (m *Memory) CreateJob(_ context.Context, job *anpr.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *Memory) UpdateJob(_ context.Context, id string, u anpr.JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	applyUpdate(job, u, m.now())
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*anpr.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *Memory) ListJobs(_ context.Context, limit, offset int) ([]anpr.Job, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]anpr.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, *j)
	}
	sort.SliceStable(jobs, func(a, b int) bool { return jobs[a].CreatedAt.After(jobs[b].CreatedAt) })
	return lo.Slice(jobs, offset, offset+limit), int64(len(jobs)), nil
}

func (m *Memory) SaveFrame(_ context.Context, rec *anpr.FrameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameID++
	rec.ID = m.frameID
	for i := range rec.Plates {
		m.plateID++
		rec.Plates[i].ID = m.plateID
		rec.Plates[i].FrameID = rec.ID
		m.plates = append(m.plates, rec.Plates[i])
	}
	stored := *rec
	stored.Plates = nil
	m.frames = append(m.frames, stored)
	return nil
}

func (m *Memory) ListFrames(_ context.Context, limit, offset int) ([]anpr.FrameRecord, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	frames := lo.Reverse(append([]anpr.FrameRecord(nil), m.frames...))
	return lo.Slice(frames, offset, offset+limit), int64(len(frames)), nil
}

func (m *Memory) GetFrame(_ context.Context, id int64) (*anpr.FrameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := lo.Find(m.frames, func(f anpr.FrameRecord) bool { return f.ID == id })
	if !ok {
		return nil, ErrNotFound
	}
	rec.Plates = lo.Filter(m.plates, func(p anpr.PlateRow, _ int) bool { return p.FrameID == id })
	return &rec, nil
}

func (m *Memory) ListPlates(_ context.Context, limit, offset int) ([]anpr.PlateRow, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plates := lo.Reverse(append([]anpr.PlateRow(nil), m.plates...))
	return lo.Slice(plates, offset, offset+limit), int64(len(plates)), nil
}

func (m *Memory) Stats(_ context.Context) (anpr.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := anpr.Stats{
		TotalFrames:       int64(len(m.frames)),
		TotalVideos:       int64(len(m.jobs)),
		TotalPlateRecords: int64(len(m.plates)),
	}
	for _, f := range m.frames {
		s.TotalVehiclesDetected += int64(f.VehicleCount)
		s.TotalPlatesDetected += int64(f.PlateCount)
	}
	for _, j := range m.jobs {
		if j.Status != anpr.StatusCompleted {
			continue
		}
		s.CompletedVideos++
		s.TotalVehiclesDetected += int64(j.VehicleCount)
		s.TotalPlatesDetected += int64(j.PlateCount)
	}
	return s, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/media"
)

type StreamOptions struct {
	MaxFrames   int
	Duration    time.Duration
	SampleLimit int
	PreviewDir  string
	// IdlePoll is how long to wait before re-reading a source that had no
	// frame ready.
	IdlePoll time.Duration
}

func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		MaxFrames:   300,
		Duration:    30 * time.Second,
		SampleLimit: 50,
		PreviewDir:  "outputs",
		IdlePoll:    100 * time.Millisecond,
	}
}

type StreamRequest struct {
	Source    string
	Task      anpr.Task
	ROI       *anpr.ROI
	FrameSkip int
	MaxFrames int
	Duration  time.Duration
	Preview   bool
}

// StreamService runs detection over a live source for a bounded time. Nothing
// is persisted apart from an optional preview image.
type StreamService struct {
	backend  media.Backend
	pipeline *Pipeline
	fs       afero.Fs
	clock    clock.Clock
	opts     StreamOptions
	log      zerolog.Logger
}

func NewStreamService(backend media.Backend, pipeline *Pipeline, fs afero.Fs, clk clock.Clock, opts StreamOptions, log zerolog.Logger) *StreamService {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &StreamService{backend: backend, pipeline: pipeline, fs: fs, clock: clk, opts: opts, log: log}
}

func (s *StreamService) Run(ctx context.Context, req StreamRequest) (*anpr.StreamResult, error) {
	if req.Source == "" {
		return nil, fmt.Errorf("%w: stream_url is required", ErrInvalidInput)
	}
	if !req.Task.Valid() {
		return nil, fmt.Errorf("%w: task must be %q or %q", ErrInvalidInput, anpr.TaskVehicleDetection, anpr.TaskPlateRecognition)
	}
	skip := max(req.FrameSkip, 1)
	maxFrames := req.MaxFrames
	if maxFrames == 0 {
		maxFrames = s.opts.MaxFrames
	}
	// A negative duration disables the wall-clock budget; the idle timeout
	// then falls back to the configured default.
	budget := req.Duration
	if budget == 0 {
		budget = s.opts.Duration
	}
	idle := budget
	if idle <= 0 {
		idle = s.opts.Duration
	}

	reader, err := s.backend.OpenStream(req.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			s.log.Warn().Err(err).Msg("failed to close stream")
		}
	}()

	log := s.log.With().Str("source", req.Source).Str("task", string(req.Task)).Logger()
	start := s.clock.Now()
	lastFrame := start
	res := &anpr.StreamResult{Task: req.Task, Status: "completed", SampleDetections: []anpr.SampleDetection{}}

	for ctx.Err() == nil {
		if budget > 0 && s.clock.Since(start) > budget {
			break
		}
		if maxFrames > 0 && res.FramesProcessed >= maxFrames {
			break
		}

		frame, ok := reader.Read()
		if !ok {
			if s.clock.Since(lastFrame) > idle {
				log.Info().Msg("stream idle, stopping")
				break
			}
			if s.opts.IdlePoll > 0 {
				s.clock.Sleep(s.opts.IdlePoll)
			}
			continue
		}
		lastFrame = s.clock.Now()
		res.FramesSeen++

		if (res.FramesSeen-1)%skip != 0 {
			_ = frame.Close()
			continue
		}

		wantPreview := req.Preview && res.PreviewPath == ""
		r, err := s.pipeline.Process(frame, req.ROI, req.Task, wantPreview)
		if err != nil {
			log.Warn().Err(err).Int("frame", res.FramesSeen).Msg("stream inference failed, skipping frame")
			_ = frame.Close()
			continue
		}
		res.FramesProcessed++
		res.VehicleDetections += len(r.Vehicles)
		res.PlateDetections += len(r.Plates)

		for _, v := range r.Vehicles {
			if len(res.SampleDetections) >= s.opts.SampleLimit {
				break
			}
			res.SampleDetections = append(res.SampleDetections, anpr.SampleDetection{
				Frame:      res.FramesSeen,
				BBox:       v.Rect(),
				Confidence: v.Confidence,
			})
		}

		if wantPreview {
			path, err := s.savePreview(frame)
			if err != nil {
				log.Warn().Err(err).Msg("failed to save stream preview")
			} else {
				res.PreviewPath = path
			}
		}
		_ = frame.Close()
	}

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("stream stopped by context")
	}

	res.ElapsedSec = round2(s.clock.Since(start).Seconds())
	log.Info().
		Int("frames_seen", res.FramesSeen).
		Int("frames_processed", res.FramesProcessed).
		Int("vehicle_detections", res.VehicleDetections).
		Float64("elapsed_sec", res.ElapsedSec).
		Msg("stream run finished")
	return res, nil
}

func (s *StreamService) savePreview(frame media.Frame) (string, error) {
	data, err := frame.Encode(".png")
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(s.opts.PreviewDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("stream_preview_%s.png", s.clock.Now().UTC().Format("20060102_150405.000000"))
	path := filepath.Join(s.opts.PreviewDir, name)
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

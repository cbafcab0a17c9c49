package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/spf13/afero"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/media"
	"anpr-vision/internal/repository"
	"anpr-vision/internal/storage"
	"anpr-vision/internal/transcode"
	"anpr-vision/internal/vision"
)

const defaultFPS = 25.0

type VideoOptions struct {
	WorkDir        string
	FrameSkip      int
	DownscaleWidth int
	Codecs         []media.Codec
	Reencode       transcode.Params
	ProgressEvery  time.Duration
}

func DefaultVideoOptions() VideoOptions {
	return VideoOptions{
		WorkDir:        filepath.Join(os.TempDir(), "anpr-vision"),
		FrameSkip:      1,
		DownscaleWidth: 1280,
		Codecs:         media.DefaultCodecs,
		Reencode:       transcode.DefaultParams(),
		ProgressEvery:  time.Second,
	}
}

// VideoDeps are the collaborators a VideoService drives.
type VideoDeps struct {
	Jobs      JobStore
	Backend   media.Backend
	Pipeline  *Pipeline
	Reencoder transcode.Reencoder
	Bucket    storage.Bucket
	Fs        afero.Fs
	Clock     clock.Clock
}

type VideoRequest struct {
	Data      []byte
	Task      anpr.Task
	ROI       *anpr.ROI
	FrameSkip int
}

// VideoService runs video jobs in the background, one goroutine per job.
type VideoService struct {
	deps VideoDeps
	opts VideoOptions
	log  zerolog.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   conc.WaitGroup

	mu      sync.Mutex
	running map[string]*atomic.String
}

func NewVideoService(deps VideoDeps, opts VideoOptions, log zerolog.Logger) *VideoService {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if opts.FrameSkip < 1 {
		opts.FrameSkip = 1
	}
	if len(opts.Codecs) == 0 {
		opts.Codecs = media.DefaultCodecs
	}
	ctx, stop := context.WithCancel(context.Background())
	return &VideoService{
		deps:    deps,
		opts:    opts,
		log:     log,
		ctx:     ctx,
		stop:    stop,
		running: make(map[string]*atomic.String),
	}
}

// Submit records a new job and starts processing it. It returns as soon as the
// job exists; callers poll for status.
func (s *VideoService) Submit(ctx context.Context, req VideoRequest) (*anpr.Job, error) {
	if !req.Task.Valid() {
		return nil, fmt.Errorf("%w: task must be %q or %q", ErrInvalidInput, anpr.TaskVehicleDetection, anpr.TaskPlateRecognition)
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: video is empty", ErrInvalidInput)
	}
	if req.FrameSkip < 0 {
		return nil, fmt.Errorf("%w: frame_skip must be positive", ErrInvalidInput)
	}
	if req.FrameSkip == 0 {
		req.FrameSkip = s.opts.FrameSkip
	}

	now := s.deps.Clock.Now()
	job := &anpr.Job{
		ID:        uuid.NewString(),
		Task:      req.Task,
		ROI:       req.ROI,
		Status:    anpr.StatusUploadReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Jobs.CreateJob(ctx, job); err != nil {
		s.log.Error().Err(err).Msg("failed to create video job")
		return nil, fmt.Errorf("failed to create video job: %w", err)
	}

	token := s.track(job.ID)
	s.wg.Go(func() {
		defer s.untrack(job.ID)
		var pc panics.Catcher
		pc.Try(func() { _ = s.run(s.ctx, job.ID, req, token) })
		if r := pc.Recovered(); r != nil {
			s.log.Error().
				Str("job_id", job.ID).
				Str("panic", fmt.Sprint(r.Value)).
				Bytes("stack", r.Stack).
				Msg("video job panicked")
			s.update(s.ctx, s.log, job.ID, anpr.JobUpdate{
				Status: lo.ToPtr(anpr.StatusFailed),
				Error:  lo.ToPtr(fmt.Sprintf("internal error: %v", r.Value)),
			})
		}
	})

	s.log.Info().
		Str("job_id", job.ID).
		Str("task", string(req.Task)).
		Int("bytes", len(req.Data)).
		Int("frame_skip", req.FrameSkip).
		Msg("video job accepted")
	return job, nil
}

// Cancel flags a running job. The job observes the flag before its next frame
// and ends as failed with CancelledMessage.
func (s *VideoService) Cancel(ctx context.Context, id string) error {
	job, err := s.deps.Jobs.GetJob(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrConflict, id, job.Status)
	}

	err = s.deps.Jobs.UpdateJob(ctx, id, anpr.JobUpdate{
		Cancelled:   lo.ToPtr(true),
		CancelledAt: lo.ToPtr(s.deps.Clock.Now()),
	})
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if token := s.token(id); token != nil {
		token.Store(CancelledMessage)
	}

	s.log.Info().Str("job_id", id).Msg("video job cancellation requested")
	return nil
}

// Shutdown asks running jobs to stop and waits for them until ctx expires, at
// which point in-flight re-encodes and uploads are aborted.
func (s *VideoService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, token := range s.running {
		token.Store(ShutdownMessage)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.stop()
		return nil
	case <-ctx.Done():
		s.stop()
		<-done
		return ctx.Err()
	}
}

// Wait blocks until every submitted job has finished.
func (s *VideoService) Wait() {
	s.wg.Wait()
}

func (s *VideoService) track(id string) *atomic.String {
	token := atomic.NewString("")
	s.mu.Lock()
	s.running[id] = token
	s.mu.Unlock()
	return token
}

func (s *VideoService) untrack(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

func (s *VideoService) token(id string) *atomic.String {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[id]
}

type loopStats struct {
	consumed  int
	processed int
	vehicles  int
	plates    int
}

// run executes one job to a terminal state. Failures are written to the job
// record; the returned error is for logging and tests only.
func (s *VideoService) run(ctx context.Context, id string, req VideoRequest, token *atomic.String) error {
	start := s.deps.Clock.Now()
	log := s.log.With().Str("job_id", id).Str("task", string(req.Task)).Logger()
	skip := max(req.FrameSkip, 1)

	res := &resources{}
	var workFiles []string
	defer func() {
		if err := res.release(); err != nil {
			log.Warn().Err(err).Msg("failed to release video resources")
		}
		s.removeFiles(log, workFiles...)
	}()

	inPath, err := s.writeInput(id, req.Data)
	if err != nil {
		return s.fail(ctx, log, id, fmt.Errorf("store input video: %w", err))
	}
	rawPath := filepath.Join(s.opts.WorkDir, id+"_raw.mp4")
	finalPath := filepath.Join(s.opts.WorkDir, id+".mp4")
	workFiles = append(workFiles, inPath, rawPath, finalPath)

	reader, err := s.deps.Backend.OpenFile(inPath)
	if err != nil {
		return s.fail(ctx, log, id, fmt.Errorf("open input video: %w", err))
	}
	res.add(reader.Close)

	info := reader.Info()
	fps := info.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	tw, th := s.targetSize(info.Width, info.Height)

	writer, codec, err := media.OpenWriter(s.deps.Backend, rawPath, fps, tw, th, s.opts.Codecs)
	if err != nil {
		return s.fail(ctx, log, id, err)
	}
	res.add(writer.Close)

	log.Info().
		Str("codec", codec.FourCC).
		Float64("fps", fps).
		Int("width", tw).
		Int("height", th).
		Int("frames", info.FrameCount).
		Msg("processing video")

	prog := newProgress(s.deps.Clock, s.opts.ProgressEvery)
	s.update(ctx, log, id, anpr.JobUpdate{
		Status:          lo.ToPtr(anpr.StatusProcessing),
		ProgressPercent: lo.ToPtr(prog.set(progressStart)),
		ProcessedFrames: lo.ToPtr(0),
	})

	stats, err := s.frameLoop(ctx, log, id, req, skip, reader, writer, tw, th, info.FrameCount, prog, token)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			s.update(ctx, log, id, anpr.JobUpdate{
				Status:          lo.ToPtr(anpr.StatusFailed),
				Error:           lo.ToPtr(token.Load()),
				ProcessedFrames: lo.ToPtr(stats.processed),
			})
			log.Info().Int("processed_frames", stats.processed).Str("reason", token.Load()).Msg("video job cancelled")
			return err
		}
		return s.fail(ctx, log, id, err)
	}
	if err := res.release(); err != nil {
		return s.fail(ctx, log, id, fmt.Errorf("finalize output video: %w", err))
	}

	s.update(ctx, log, id, anpr.JobUpdate{
		Status:          lo.ToPtr(anpr.StatusReencoding),
		ProgressPercent: lo.ToPtr(prog.set(progressReencode)),
		ProcessedFrames: lo.ToPtr(stats.processed),
	})

	uploadPath := finalPath
	params := s.opts.Reencode
	params.FPS = fps
	params.MaxWidth = s.opts.DownscaleWidth
	if err := s.deps.Reencoder.Reencode(ctx, rawPath, finalPath, params); err != nil {
		log.Warn().Err(err).Msg("re-encode failed, uploading raw output")
		uploadPath = rawPath
	}

	s.update(ctx, log, id, anpr.JobUpdate{
		Status:          lo.ToPtr(anpr.StatusUploading),
		ProgressPercent: lo.ToPtr(prog.set(progressUploading)),
	})

	data, err := afero.ReadFile(s.deps.Fs, uploadPath)
	if err != nil {
		return s.fail(ctx, log, id, fmt.Errorf("read output video: %w", err))
	}

	result, err := s.deps.Bucket.Upload(ctx, storage.VideoKey(), data, "video/mp4")
	if err != nil || result.URL == "" {
		msg := MissingURLMessage
		if err != nil {
			msg = err.Error()
		} else {
			err = errors.New(MissingURLMessage)
		}
		s.update(ctx, log, id, anpr.JobUpdate{
			Status:          lo.ToPtr(anpr.StatusFailed),
			Error:           lo.ToPtr(msg),
			ProgressPercent: lo.ToPtr(prog.set(progressDone)),
		})
		log.Error().Err(err).Msg("video upload failed")
		return err
	}

	elapsed := round2(s.deps.Clock.Since(start).Seconds())
	s.update(ctx, log, id, anpr.JobUpdate{
		Status:            lo.ToPtr(anpr.StatusCompleted),
		VideoURL:          lo.ToPtr(result.URL),
		ProgressPercent:   lo.ToPtr(prog.set(progressDone)),
		ProcessedFrames:   lo.ToPtr(stats.processed),
		VehicleCount:      lo.ToPtr(stats.vehicles),
		PlateCount:        lo.ToPtr(stats.plates),
		ProcessingTimeSec: lo.ToPtr(elapsed),
	})

	log.Info().
		Int("processed_frames", stats.processed).
		Int("vehicle_count", stats.vehicles).
		Int("plate_count", stats.plates).
		Float64("processing_time_sec", elapsed).
		Str("video_url", result.URL).
		Msg("video job completed")
	return nil
}

func (s *VideoService) frameLoop(
	ctx context.Context,
	log zerolog.Logger,
	id string,
	req VideoRequest,
	skip int,
	reader media.Reader,
	writer media.Writer,
	tw, th, total int,
	prog *progress,
	token *atomic.String,
) (loopStats, error) {
	var st loopStats
	for {
		if token.Load() == "" {
			s.pollCancelled(ctx, id, token)
		}
		if token.Load() != "" {
			return st, ErrCancelled
		}

		frame, ok := reader.Read()
		if !ok {
			return st, nil
		}
		idx := st.consumed
		st.consumed++

		out := frame
		if frame.Width() != tw || frame.Height() != th {
			out = frame.Resize(tw, th)
			_ = frame.Close()
		}

		if idx%skip == 0 {
			r, err := s.deps.Pipeline.Process(out, req.ROI, req.Task, true)
			switch {
			case errors.Is(err, vision.ErrDecode):
				log.Warn().Err(err).Int("frame", idx).Msg("skipping frame")
			case err != nil:
				_ = out.Close()
				return st, fmt.Errorf("frame %d: %w", idx, err)
			default:
				st.processed++
				st.vehicles += len(r.Vehicles)
				st.plates += len(r.Plates)
			}
		}

		err := writer.Write(out)
		_ = out.Close()
		if err != nil {
			return st, fmt.Errorf("write frame %d: %w", idx, err)
		}

		if pct, due := prog.frame(st.consumed, total); due {
			s.update(ctx, log, id, anpr.JobUpdate{
				ProcessedFrames: lo.ToPtr(st.processed),
				ProgressPercent: lo.ToPtr(pct),
			})
		}
	}
}

// pollCancelled picks up cancellations written to the store by other
// processes. It runs before every frame; store errors leave the token alone.
func (s *VideoService) pollCancelled(ctx context.Context, id string, token *atomic.String) {
	job, err := s.deps.Jobs.GetJob(ctx, id)
	if err != nil || !job.Cancelled {
		return
	}
	token.CompareAndSwap("", CancelledMessage)
}

func (s *VideoService) targetSize(w, h int) (int, int) {
	if w <= 0 || h <= 0 || s.opts.DownscaleWidth <= 0 || w <= s.opts.DownscaleWidth {
		return w, h
	}
	scale := float64(s.opts.DownscaleWidth) / float64(w)
	return int(float64(w) * scale), int(float64(h) * scale)
}

func (s *VideoService) writeInput(id string, data []byte) (string, error) {
	if err := s.deps.Fs.MkdirAll(s.opts.WorkDir, 0o755); err != nil {
		return "", err
	}
	f, err := afero.TempFile(s.deps.Fs, s.opts.WorkDir, id+"-input-*.mp4")
	if err != nil {
		return "", err
	}
	_, err = f.Write(data)
	return f.Name(), multierr.Append(err, f.Close())
}

func (s *VideoService) removeFiles(log zerolog.Logger, paths ...string) {
	for _, p := range paths {
		if err := s.deps.Fs.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", p).Msg("failed to remove work file")
		}
	}
}

func (s *VideoService) fail(ctx context.Context, log zerolog.Logger, id string, err error) error {
	log.Error().Err(err).Msg("video job failed")
	s.update(ctx, log, id, anpr.JobUpdate{
		Status: lo.ToPtr(anpr.StatusFailed),
		Error:  lo.ToPtr(err.Error()),
	})
	return err
}

// update writes job state. Nobody waits on a background job, so store errors
// are only logged.
func (s *VideoService) update(ctx context.Context, log zerolog.Logger, id string, u anpr.JobUpdate) {
	if err := s.deps.Jobs.UpdateJob(ctx, id, u); err != nil {
		log.Error().Err(err).Msg("failed to update video job")
	}
}

// resources closes what a job opened, once, newest first.
type resources struct {
	closers []func() error
	done    bool
}

func (r *resources) add(f func() error) {
	r.closers = append(r.closers, f)
}

func (r *resources) release() error {
	if r.done {
		return nil
	}
	r.done = true
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i]())
	}
	return err
}

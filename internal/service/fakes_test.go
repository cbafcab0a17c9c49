package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/media"
	"anpr-vision/internal/repository"
	"anpr-vision/internal/storage"
	"anpr-vision/internal/transcode"
)

// fakeDetector returns boxes from a per-call function and records the size of
// every frame it was given.
type fakeDetector struct {
	mu    sync.Mutex
	calls int
	sizes [][2]int
	fn    func(call int) ([]anpr.Box, error)
}

func (d *fakeDetector) Detect(frame media.Frame) ([]anpr.Box, error) {
	d.mu.Lock()
	call := d.calls
	d.calls++
	d.sizes = append(d.sizes, [2]int{frame.Width(), frame.Height()})
	d.mu.Unlock()
	if d.fn == nil {
		return []anpr.Box{}, nil
	}
	return d.fn(call)
}

func oneVehicle(int) ([]anpr.Box, error) {
	return []anpr.Box{{X1: 10, Y1: 10, X2: 50, Y2: 40, Confidence: 0.9}}, nil
}

// fakeBackend serves blank frames from memory. The raw writer output lands in
// fs so the service can read it back for upload.
type fakeBackend struct {
	fs     afero.Fs
	width  int
	height int
	fps    float64
	frames int

	failCodecs map[string]bool
	openErr    error
	onRead     func(idx int)
	stream     []bool

	mu           sync.Mutex
	written      int
	writtenSizes [][2]int
	codec        string
	readerClosed bool
	writerClosed bool
}

func (b *fakeBackend) DecodeImage(data []byte) (media.Frame, error) {
	return media.DecodeImageFrame(data)
}

func (b *fakeBackend) OpenFile(string) (media.Reader, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return &fakeReader{b: b, available: func(idx int) bool { return idx < b.frames }}, nil
}

// OpenStream replays b.stream: true yields a frame, false an empty read. The
// source keeps returning empty reads once the script runs out.
func (b *fakeBackend) OpenStream(string) (media.Reader, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return &fakeReader{b: b, available: func(idx int) bool {
		return idx < len(b.stream) && b.stream[idx]
	}}, nil
}

func (b *fakeBackend) CreateWriter(path, fourcc string, _ float64, width, height int) (media.Writer, error) {
	if b.failCodecs[fourcc] {
		return nil, fmt.Errorf("codec %s unavailable", fourcc)
	}
	b.mu.Lock()
	b.codec = fourcc
	b.mu.Unlock()
	return &fakeWriter{b: b, path: path}, nil
}

type fakeReader struct {
	b         *fakeBackend
	available func(idx int) bool
	reads     int
}

func (r *fakeReader) Info() media.VideoInfo {
	return media.VideoInfo{FPS: r.b.fps, Width: r.b.width, Height: r.b.height, FrameCount: r.b.frames}
}

func (r *fakeReader) Read() (media.Frame, bool) {
	idx := r.reads
	r.reads++
	if r.b.onRead != nil {
		r.b.onRead(idx)
	}
	if !r.available(idx) {
		return nil, false
	}
	return media.NewBlankFrame(r.b.width, r.b.height), true
}

func (r *fakeReader) Close() error {
	r.b.mu.Lock()
	r.b.readerClosed = true
	r.b.mu.Unlock()
	return nil
}

type fakeWriter struct {
	b    *fakeBackend
	path string
}

func (w *fakeWriter) Write(f media.Frame) error {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	w.b.written++
	w.b.writtenSizes = append(w.b.writtenSizes, [2]int{f.Width(), f.Height()})
	return nil
}

func (w *fakeWriter) Close() error {
	w.b.mu.Lock()
	w.b.writerClosed = true
	w.b.mu.Unlock()
	return afero.WriteFile(w.b.fs, w.path, []byte("raw-video"), 0o644)
}

type fakeReencoder struct {
	fs     afero.Fs
	err    error
	params transcode.Params
	calls  int
}

func (r *fakeReencoder) Reencode(_ context.Context, _, dst string, p transcode.Params) error {
	r.calls++
	r.params = p
	if r.err != nil {
		return r.err
	}
	return afero.WriteFile(r.fs, dst, []byte("final-video"), 0o644)
}

type fakeBucket struct {
	mu          sync.Mutex
	url         string
	err         error
	keys        []string
	data        [][]byte
	contentType string
}

func (b *fakeBucket) Upload(_ context.Context, key string, data []byte, contentType string) (storage.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, key)
	b.data = append(b.data, data)
	b.contentType = contentType
	if b.err != nil {
		return storage.Result{}, fmt.Errorf("%w: %v", storage.ErrUpload, b.err)
	}
	if b.url == "" {
		return storage.Result{Key: key}, nil
	}
	return storage.Result{Key: key, URL: b.url + "/" + key}, nil
}

// recordingStore keeps every update applied to a job, in order.
type recordingStore struct {
	*repository.Memory
	mu      sync.Mutex
	updates []anpr.JobUpdate
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Memory: repository.NewMemory()}
}

func (s *recordingStore) UpdateJob(ctx context.Context, id string, u anpr.JobUpdate) error {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
	return s.Memory.UpdateJob(ctx, id, u)
}

func (s *recordingStore) recorded() []anpr.JobUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]anpr.JobUpdate(nil), s.updates...)
}

// flakyStore fails GetJob a fixed number of times before delegating.
type flakyStore struct {
	JobStore
	failures int
	calls    int
}

var errStoreDown = errors.New("connection refused")

func (s *flakyStore) GetJob(ctx context.Context, id string) (*anpr.Job, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errStoreDown
	}
	return s.JobStore.GetJob(ctx, id)
}

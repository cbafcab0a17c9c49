package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// LocalBucket writes objects below a directory, typically served by the HTTP
// layer under BaseURL.
type LocalBucket struct {
	fs      afero.Fs
	root    string
	baseURL string
}

func NewLocalBucket(fs afero.Fs, root, baseURL string) *LocalBucket {
	return &LocalBucket{fs: fs, root: root, baseURL: baseURL}
}

func (b *LocalBucket) Root() string { return b.root }

func (b *LocalBucket) Upload(ctx context.Context, key string, data []byte, _ string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUpload, err)
	}

	target := filepath.Join(b.root, filepath.FromSlash(key))
	if err := b.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if err := afero.WriteFile(b.fs, target, data, 0o644); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUpload, err)
	}

	return Result{Key: key, URL: joinURL(b.baseURL, key)}, nil
}

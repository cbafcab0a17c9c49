// Package storage puts processed media where clients can fetch it.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/google/uuid"
)

var ErrUpload = errors.New("upload failed")

// Result describes a stored object. URL may be empty when the backend does not
// expose one; callers decide whether that is acceptable.
type Result struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type Bucket interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (Result, error)
}

// VideoKey returns a fresh object key for a processed video.
func VideoKey() string {
	return path.Join("videos", uuid.NewString()+".mp4")
}

// ImageKey returns a fresh object key for an annotated image.
func ImageKey() string {
	return path.Join("images", uuid.NewString()+".png")
}

func joinURL(base, key string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

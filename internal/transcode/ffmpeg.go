// Package transcode normalizes processed video with the ffmpeg binary.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ErrToolMissing means no ffmpeg binary is on PATH. Callers treat it as
// recoverable and ship the raw output instead.
var ErrToolMissing = errors.New("ffmpeg not available")

type Params struct {
	CRF      int
	Preset   string
	MaxWidth int
	FPS      float64
	Bitrate  string
	MaxRate  string
	BufSize  string
}

func DefaultParams() Params {
	return Params{
		CRF:      24,
		Preset:   "slow",
		MaxWidth: 1280,
		FPS:      25,
		Bitrate:  "800k",
		MaxRate:  "800k",
		BufSize:  "1600k",
	}
}

// Reencoder converts src into a web-friendly H.264 file at dst.
type Reencoder interface {
	Reencode(ctx context.Context, src, dst string, p Params) error
}

type FFmpeg struct {
	binary string
	log    zerolog.Logger
}

func NewFFmpeg(log zerolog.Logger) *FFmpeg {
	return &FFmpeg{binary: "ffmpeg", log: log}
}

func (f *FFmpeg) Reencode(ctx context.Context, src, dst string, p Params) error {
	if _, err := exec.LookPath(f.binary); err != nil {
		return fmt.Errorf("%w: %v", ErrToolMissing, err)
	}

	var stderr bytes.Buffer
	stream := command(src, dst, p).WithErrorOutput(&stderr)
	stream.Context = ctx

	f.log.Debug().
		Str("src", src).
		Str("dst", dst).
		Strs("args", stream.GetArgs()).
		Msg("running ffmpeg")

	if err := stream.Run(); err != nil {
		return fmt.Errorf("ffmpeg reencode: %w: %s", err, tail(stderr.String(), 512))
	}
	return nil
}

func command(src, dst string, p Params) *ffmpeg.Stream {
	return ffmpeg.Input(src).
		Output(dst, outputArgs(p)).
		OverWriteOutput()
}

func outputArgs(p Params) ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{
		"map":      "0:v",
		"c:v":      "libx264",
		"preset":   p.Preset,
		"crf":      p.CRF,
		"b:v":      p.Bitrate,
		"maxrate":  p.MaxRate,
		"bufsize":  p.BufSize,
		"pix_fmt":  "yuv420p",
		"movflags": "+faststart",
	}
	if p.MaxWidth > 0 {
		args["vf"] = fmt.Sprintf("scale='min(iw,%d)':-2", p.MaxWidth)
	}
	if p.FPS > 0 {
		args["r"] = fmt.Sprintf("%g", p.FPS)
	}
	return args
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

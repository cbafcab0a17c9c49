package media

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Codec is one writer configuration to try.
type Codec struct {
	FourCC      string
	Description string
}

// DefaultCodecs is ordered by preference: hardware H264 variants, then MPEG-4,
// then MJPG which opens nearly everywhere.
var DefaultCodecs = []Codec{
	{FourCC: "avc1", Description: "H264/avc1"},
	{FourCC: "H264", Description: "H264"},
	{FourCC: "X264", Description: "X264"},
	{FourCC: "mp4v", Description: "MPEG-4"},
	{FourCC: "XVID", Description: "XVID"},
	{FourCC: "MJPG", Description: "MJPG"},
}

// OpenWriter commits to the first codec in candidates that opens for the given
// path, frame rate and size.
func OpenWriter(b Backend, path string, fps float64, width, height int, candidates []Codec) (Writer, Codec, error) {
	var errs error
	for _, c := range candidates {
		w, err := b.CreateWriter(path, c.FourCC, fps, width, height)
		if err == nil {
			return w, c, nil
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.FourCC, err))
	}
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.FourCC)
	}
	return nil, Codec{}, fmt.Errorf("%w (tried %s): %v", ErrNoCodec, strings.Join(names, ","), errs)
}

// Package video plays a looping video file onto a surface.Target.
package video

import (
	"context"

	"github.com/matjam/waypaper/internal/surface"
)

// Info describes an opened stream.
type Info struct {
	Decoder      string
	SourceWidth  int
	SourceHeight int
	Width        int
	Height       int
}

// Decoder produces XRGB frames from a file. Next returns io.EOF at the end
// of the stream; Rewind restarts it from the first frame.
type Decoder interface {
	Open(ctx context.Context) (Info, error)
	Next(ctx context.Context) (*surface.Frame, error)
	Rewind() error
	// Close releases the pipeline and any hardware context. It is safe to
	// call concurrently with a blocked Next and more than once.
	Close() error
}

// FitFunc picks the decoded output size for a source size.
type FitFunc func(srcW, srcH int) (int, int)

type DecoderOptions struct {
	Path     string
	Hardware bool
	Fit      FitFunc
}

// NewDecoderFunc builds a decoder. The GStreamer one is NewGstDecoder.
type NewDecoderFunc func(opts DecoderOptions) Decoder

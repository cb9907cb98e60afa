// Package surface binds one background surface per display output and hands
// decoded frames to it.
//
// The package is windowing-system agnostic: a Display driver (the Wayland one
// lives in internal/wlsurface) discovers outputs and creates surfaces, and the
// Layer in this package owns the per-output Handles that backends present to.
package surface

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrOutputUnavailable   = errors.New("output unavailable")
	ErrViewportUnsupported = errors.New("compositor does not support viewport scaling")
	ErrBufferBusy          = errors.New("no free buffer")
	ErrSurfaceLost         = errors.New("surface lost")
	ErrClosed              = errors.New("surface layer closed")
)

// Output is a display output as announced by the compositor.
type Output struct {
	ID          uint32 `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Width       int    `json:"width"`  // native mode, pixels
	Height      int    `json:"height"` // native mode, pixels
	Scale       int    `json:"scale"`
}

func (o Output) String() string {
	return fmt.Sprintf("%s (%dx%d@%dx)", o.Name, o.Width, o.Height, o.Scale)
}

type EventKind int

const (
	OutputAdded EventKind = iota
	OutputRemoved
)

func (k EventKind) String() string {
	switch k {
	case OutputAdded:
		return "added"
	case OutputRemoved:
		return "removed"
	}
	return "unknown"
}

type Event struct {
	Kind   EventKind
	Output Output
}

// Frame is a packed XRGB8888 image (B, G, R, X bytes in memory).
type Frame struct {
	Seq    uint64
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// NewFrame allocates a frame with a tightly packed stride.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Stride: width * 4,
		Pix:    make([]byte, width*height*4),
	}
}

// Size is the destination negotiated for a surface: its logical size as
// configured by the compositor and the output scale.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Scale  int `json:"scale"`
}

// Native returns the size in output pixels.
func (s Size) Native() (int, int) {
	scale := s.Scale
	if scale < 1 {
		scale = 1
	}
	return s.Width * scale, s.Height * scale
}

// Target is the part of a Handle a playback backend uses.
type Target interface {
	Present(f *Frame)
	Size() Size
}

// Display is implemented by windowing-system drivers.
type Display interface {
	Outputs() []Output
	// Events delivers output hot-plug notifications. It is closed when the
	// display connection ends.
	Events() <-chan Event
	CreateSurface(ctx context.Context, out Output) (Surface, error)
	Close() error
}

// Surface is one configured background surface on one output.
type Surface interface {
	Size() Size
	// SetViewport asks the compositor to scale a srcW×srcH buffer to the
	// dstW×dstH logical destination. ErrViewportUnsupported means the caller
	// must hand over buffers that already match the native size.
	SetViewport(srcW, srcH, dstW, dstH int) error
	// Commit attaches f and commits. It must not block waiting for the
	// compositor; ErrBufferBusy is returned when no buffer is free.
	Commit(f *Frame) error
	Destroy()
}

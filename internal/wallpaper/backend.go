package wallpaper

import (
	"context"
	"sync"
	"time"

	"github.com/matjam/waypaper/internal/config"
	"github.com/matjam/waypaper/internal/surface"
	"github.com/matjam/waypaper/internal/types"
)

// Backend renders one wallpaper onto one surface. A backend is used for a
// single session: Bind, Start, then Stop.
type Backend interface {
	Bind(t surface.Target) error
	Start(ctx context.Context) error
	// Stop must return within the deadline of ctx, releasing every decode
	// resource even when the playback goroutines do not cooperate.
	Stop(ctx context.Context) error
	Stats() Stats
	// Done is closed once the backend has stopped, either through Stop or
	// because of a fatal error reported by Err.
	Done() <-chan struct{}
	Err() error
}

// Factory builds the backend for a descriptor. The manager dispatches on
// Descriptor.Type, so a factory only ever sees its own type.
type Factory func(d Descriptor, opts SessionOptions) (Backend, error)

type SessionOptions struct {
	Output        surface.Output
	TargetFPS     int
	MaxResolution config.Resolution
	DecodeMode    types.DecodeMode
}

type State string

const (
	StateStarting State = "starting"
	StatePlaying  State = "playing"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Stats is a point-in-time view of a running backend.
type Stats struct {
	State        State     `json:"state"`
	Decoder      string    `json:"decoder,omitempty"`
	SourceWidth  int       `json:"source_width"`
	SourceHeight int       `json:"source_height"`
	OutputWidth  int       `json:"output_width"`
	OutputHeight int       `json:"output_height"`
	TargetFPS    int       `json:"target_fps"`
	FPS          float64   `json:"fps"`
	Decoded      uint64    `json:"decoded"`
	Dropped      uint64    `json:"dropped"`
	Presented    uint64    `json:"presented"`
	Repeated     uint64    `json:"repeated"`
	Loops        uint64    `json:"loops"`
	StartedAt    time.Time `json:"started_at"`
}

// Session is one running backend bound to one output.
type Session struct {
	ID            string
	Output        surface.Output
	Descriptor    Descriptor
	Backend       Backend
	TargetFPS     int
	MaxResolution config.Resolution
	Handle        *surface.Handle
	StartedAt     time.Time

	// retired is closed once the manager has torn the session down itself
	retired    chan struct{}
	retireOnce sync.Once
}

func (s *Session) retire() {
	s.retireOnce.Do(func() { close(s.retired) })
}

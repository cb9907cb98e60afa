// Package surfacetest provides an in-memory surface.Display for tests.
package surfacetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matjam/waypaper/internal/surface"
)

// NewOutput returns an output with scale 1 and the given native mode.
func NewOutput(id uint32, name string, width, height int) surface.Output {
	return surface.Output{ID: id, Name: name, Width: width, Height: height, Scale: 1}
}

// Display records every surface it creates.
type Display struct {
	// NoViewporter makes SetViewport return surface.ErrViewportUnsupported.
	NoViewporter bool
	// CommitDelay is slept inside every Commit.
	CommitDelay time.Duration

	mu         sync.Mutex
	outputs    []surface.Output
	surfaces   []*Surface
	live       map[string]int
	maxLive    map[string]int
	createErrs map[string]error
	events     chan surface.Event
	closed     bool
}

func New(outputs ...surface.Output) *Display {
	return &Display{
		outputs:    append([]surface.Output(nil), outputs...),
		live:       map[string]int{},
		maxLive:    map[string]int{},
		createErrs: map[string]error{},
		events:     make(chan surface.Event, 64),
	}
}

func (d *Display) Outputs() []surface.Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]surface.Output(nil), d.outputs...)
}

func (d *Display) Events() <-chan surface.Event { return d.events }

// AddOutput plugs in a new output and announces it.
func (d *Display) AddOutput(o surface.Output) {
	d.mu.Lock()
	d.outputs = append(d.outputs, o)
	d.mu.Unlock()
	d.events <- surface.Event{Kind: surface.OutputAdded, Output: o}
}

// RemoveOutput unplugs an output. Surfaces on it start failing with
// surface.ErrSurfaceLost.
func (d *Display) RemoveOutput(name string) {
	d.mu.Lock()
	var removed surface.Output
	found := false
	for i, o := range d.outputs {
		if o.Name == name {
			removed = o
			found = true
			d.outputs = append(d.outputs[:i], d.outputs[i+1:]...)
			break
		}
	}
	for _, s := range d.surfaces {
		if s.output.Name == name {
			s.mu.Lock()
			s.lost = true
			s.mu.Unlock()
		}
	}
	d.mu.Unlock()

	if found {
		d.events <- surface.Event{Kind: surface.OutputRemoved, Output: removed}
	}
}

// FailCreate makes the next CreateSurface calls for output fail with err.
func (d *Display) FailCreate(output string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.createErrs, output)
		return
	}
	d.createErrs[output] = err
}

func (d *Display) CreateSurface(_ context.Context, out surface.Output) (surface.Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, surface.ErrClosed
	}
	if err := d.createErrs[out.Name]; err != nil {
		return nil, err
	}
	known := false
	for _, o := range d.outputs {
		if o.Name == out.Name {
			known = true
		}
	}
	if !known {
		return nil, fmt.Errorf("create surface: %w", surface.ErrOutputUnavailable)
	}

	scale := out.Scale
	if scale < 1 {
		scale = 1
	}
	s := &Surface{
		display: d,
		output:  out,
		size:    surface.Size{Width: out.Width / scale, Height: out.Height / scale, Scale: scale},
	}
	d.surfaces = append(d.surfaces, s)
	d.live[out.Name]++
	if d.live[out.Name] > d.maxLive[out.Name] {
		d.maxLive[out.Name] = d.live[out.Name]
	}
	return s, nil
}

func (d *Display) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	return nil
}

// Surfaces returns every surface ever created on output, oldest first.
func (d *Display) Surfaces(output string) []*Surface {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Surface
	for _, s := range d.surfaces {
		if s.output.Name == output {
			out = append(out, s)
		}
	}
	return out
}

// Live returns the number of surfaces on output that are not destroyed.
func (d *Display) Live(output string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[output]
}

// MaxLive returns the highest number of simultaneously live surfaces ever
// seen on output.
func (d *Display) MaxLive(output string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxLive[output]
}

func (d *Display) destroyed(s *Surface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live[s.output.Name]--
}

// Surface is a fake layer surface.
type Surface struct {
	display *Display
	output  surface.Output
	size    surface.Size

	mu        sync.Mutex
	commits   int
	last      *surface.Frame
	viewport  [4]int
	destroyed bool
	lost      bool
}

func (s *Surface) Size() surface.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Resize behaves like a compositor configure with a new size or scale.
func (s *Surface) Resize(size surface.Size) {
	s.mu.Lock()
	s.size = size
	s.mu.Unlock()
}

func (s *Surface) SetViewport(srcW, srcH, dstW, dstH int) error {
	if s.display.NoViewporter {
		return surface.ErrViewportUnsupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = [4]int{srcW, srcH, dstW, dstH}
	return nil
}

func (s *Surface) Commit(f *surface.Frame) error {
	if s.display.CommitDelay > 0 {
		time.Sleep(s.display.CommitDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return fmt.Errorf("commit on destroyed surface")
	}
	if s.lost {
		return surface.ErrSurfaceLost
	}
	s.commits++
	s.last = f
	return nil
}

func (s *Surface) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()
	s.display.destroyed(s)
}

func (s *Surface) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Surface) Last() *surface.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Surface) Viewport() [4]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

func (s *Surface) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

package surface

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/image/draw"
)

// HandleStats counts what happened to frames handed to a Handle.
type HandleStats struct {
	Submitted uint64 `json:"submitted"`
	Replaced  uint64 `json:"replaced"`
	Committed uint64 `json:"committed"`
	Skipped   uint64 `json:"skipped"`
}

// Handle binds one Output to one Surface. Frames handed to Present go through
// a single slot: a new frame replaces an unconsumed one, and a presenter
// goroutine commits whatever is newest.
type Handle struct {
	output  Output
	surface Surface
	size    Size

	mu      sync.Mutex
	cond    *sync.Cond
	pending *Frame
	closed  bool

	done      chan struct{}
	closeOnce sync.Once

	submitted atomic.Uint64
	replaced  atomic.Uint64
	committed atomic.Uint64
	skipped   atomic.Uint64

	// owned by the presenter goroutine
	srcW, srcH int
	softScale  bool
	scratch    *Frame
}

func newHandle(out Output, s Surface) *Handle {
	h := &Handle{
		output:  out,
		surface: s,
		size:    s.Size(),
		done:    make(chan struct{}),
	}
	h.cond = sync.NewCond(&h.mu)
	go h.present()
	return h
}

func (h *Handle) Output() Output { return h.output }

// Size is the current destination. It follows reconfigures of the surface
// once the next frame has been committed.
func (h *Handle) Size() Size {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Present hands f to the presenter and returns immediately. f must not be
// modified afterwards.
func (h *Handle) Present(f *Frame) {
	if f == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if h.pending != nil {
		h.replaced.Add(1)
	}
	h.pending = f
	h.submitted.Add(1)
	h.cond.Signal()
}

func (h *Handle) Stats() HandleStats {
	return HandleStats{
		Submitted: h.submitted.Load(),
		Replaced:  h.replaced.Load(),
		Committed: h.committed.Load(),
		Skipped:   h.skipped.Load(),
	}
}

func (h *Handle) present() {
	defer close(h.done)

	for {
		h.mu.Lock()
		for h.pending == nil && !h.closed {
			h.cond.Wait()
		}
		if h.closed {
			h.mu.Unlock()
			return
		}
		f := h.pending
		h.pending = nil
		h.mu.Unlock()

		h.commit(f)
	}
}

func (h *Handle) commit(f *Frame) {
	// the compositor may reconfigure the surface after a mode or scale change
	size := h.surface.Size()
	h.mu.Lock()
	resized := size != h.size
	h.size = size
	h.mu.Unlock()
	if resized {
		log.Debugf("surface %s: reconfigured to %dx%d@%dx", h.output.Name, size.Width, size.Height, size.Scale)
	}

	if resized || f.Width != h.srcW || f.Height != h.srcH {
		h.negotiate(f.Width, f.Height, size)
	}

	out := f
	if h.softScale {
		out = h.scale(f, size)
	}

	err := h.surface.Commit(out)
	switch {
	case err == nil:
		h.committed.Add(1)
	case errors.Is(err, ErrBufferBusy):
		h.skipped.Add(1)
	case errors.Is(err, ErrSurfaceLost):
		h.skipped.Add(1)
	default:
		h.skipped.Add(1)
		log.Debugf("surface %s: commit failed: %v", h.output.Name, err)
	}
}

// negotiate asks the compositor to scale buffers of the new source size to
// the logical destination, falling back to scaling on the CPU.
func (h *Handle) negotiate(srcW, srcH int, size Size) {
	h.srcW, h.srcH = srcW, srcH
	if h.softScale {
		return
	}

	err := h.surface.SetViewport(srcW, srcH, size.Width, size.Height)
	switch {
	case err == nil:
		log.Debugf("surface %s: viewport %dx%d -> %dx%d", h.output.Name, srcW, srcH, size.Width, size.Height)
	case errors.Is(err, ErrViewportUnsupported):
		log.Warnf("surface %s: no viewporter, scaling frames in software", h.output.Name)
		h.softScale = true
	default:
		log.Errorf("surface %s: viewport negotiation failed: %v", h.output.Name, err)
	}
}

func (h *Handle) scale(f *Frame, size Size) *Frame {
	w, hh := size.Native()
	if w <= 0 || hh <= 0 || (f.Width == w && f.Height == hh) {
		return f
	}
	if h.scratch == nil || h.scratch.Width != w || h.scratch.Height != hh {
		h.scratch = NewFrame(w, hh)
	}

	// Channel order does not matter to the interpolator, so the XRGB bytes
	// are viewed as RGBA on both sides.
	src := &image.RGBA{Pix: f.Pix, Stride: f.Stride, Rect: image.Rect(0, 0, f.Width, f.Height)}
	dst := &image.RGBA{Pix: h.scratch.Pix, Stride: h.scratch.Stride, Rect: image.Rect(0, 0, w, hh)}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	h.scratch.Seq = f.Seq
	return h.scratch
}

// close stops the presenter, waits for an in-flight commit and destroys the
// surface. Safe to call more than once.
func (h *Handle) close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.pending = nil
		h.cond.Broadcast()
		h.mu.Unlock()

		<-h.done
		h.surface.Destroy()
	})
}

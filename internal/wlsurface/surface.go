package wlsurface

/*
#include "wlsurface.h"
*/
import "C"

import (
	"math"

	"github.com/charmbracelet/log"
	"github.com/matjam/waypaper/internal/surface"
)

// Surface is a configured background layer surface. It implements
// surface.Surface. All state is guarded by the display lock.
type Surface struct {
	d      *Display
	key    uintptr
	output surface.Output

	wl       *C.struct_wl_surface
	layer    *C.struct_zwlr_layer_surface_v1
	viewport *C.struct_wp_viewport

	size       surface.Size
	configured chan struct{}
	hasConfig  bool
	lost       bool
	destroyed  bool

	buffers [2]*buffer
}

func (s *Surface) Size() surface.Size {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return s.size
}

func (s *Surface) SetViewport(srcW, srcH, dstW, dstH int) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	if s.d.viewporter == nil {
		return surface.ErrViewportUnsupported
	}
	if s.destroyed || s.lost {
		return surface.ErrSurfaceLost
	}

	if s.viewport == nil {
		s.viewport = C.wp_get_viewport(s.d.viewporter, s.wl)
		if s.viewport == nil {
			return surface.ErrViewportUnsupported
		}
	}
	// the whole buffer is the source; only the destination is fixed
	C.wp_viewport_unset_source(s.viewport)
	C.wp_viewport_set_destination(s.viewport, C.int32_t(dstW), C.int32_t(dstH))
	log.Debugf("%s: viewport %dx%d -> %dx%d", s.output.Name, srcW, srcH, dstW, dstH)
	return nil
}

// Commit copies f into a free shm buffer, attaches it and commits. It never
// waits for a release.
func (s *Surface) Commit(f *surface.Frame) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	if s.destroyed || s.lost {
		return surface.ErrSurfaceLost
	}

	b, err := s.freeBuffer(f.Width, f.Height)
	if err != nil {
		return err
	}
	copyFrame(b.data, b.stride, f)

	if s.viewport == nil && s.d.compositorVersion >= 3 {
		C.wl_surface_set_buffer_scale(s.wl, C.int32_t(max(s.size.Scale, 1)))
	}
	C.wl_surface_attach(s.wl, b.wl, 0, 0)
	if s.d.compositorVersion >= 4 {
		C.wl_surface_damage_buffer(s.wl, 0, 0, C.int32_t(b.width), C.int32_t(b.height))
	} else {
		C.wl_surface_damage(s.wl, 0, 0, math.MaxInt32, math.MaxInt32)
	}
	C.wl_surface_commit(s.wl)
	b.busy = true

	C.wl_display_flush(s.d.dpy)
	return nil
}

// freeBuffer returns a released buffer of the requested size, reallocating a
// released one of the wrong size if needed.
func (s *Surface) freeBuffer(width, height int) (*buffer, error) {
	spare := -1
	for i, b := range s.buffers {
		switch {
		case b == nil:
			if spare < 0 {
				spare = i
			}
		case b.busy:
		case b.width == width && b.height == height:
			return b, nil
		default:
			if spare < 0 {
				spare = i
			}
		}
	}
	if spare < 0 {
		return nil, surface.ErrBufferBusy
	}

	if old := s.buffers[spare]; old != nil {
		old.destroy()
		s.buffers[spare] = nil
	}
	b, err := newBuffer(s.d, width, height)
	if err != nil {
		return nil, err
	}
	s.buffers[spare] = b
	return b, nil
}

// Destroy tears the surface down. It is safe to call more than once.
func (s *Surface) Destroy() {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	if s.destroyed {
		return
	}
	s.destroyed = true
	delete(s.d.surfaces, s)
	unregister(s.key)

	for i, b := range s.buffers {
		if b != nil {
			b.destroy()
			s.buffers[i] = nil
		}
	}
	if s.viewport != nil {
		C.wp_viewport_destroy(s.viewport)
		s.viewport = nil
	}
	C.wp_layer_surface_destroy(s.layer)
	C.wl_surface_destroy(s.wl)
	C.wl_display_flush(s.d.dpy)

	log.Debugf("%s: layer surface destroyed", s.output.Name)
}

//export goLayerConfigure
func goLayerConfigure(key C.uintptr_t, width, height C.uint32_t) {
	s, ok := lookup[*Surface](uintptr(key))
	if !ok {
		return
	}

	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	scale := max(s.output.Scale, 1)
	if o, ok := s.d.outputs[s.output.ID]; ok {
		scale = max(o.info.Scale, 1)
	}

	w, h := int(width), int(height)
	// zero means the client picks; anchored to all edges that is the output
	if w == 0 {
		w = s.output.Width / scale
	}
	if h == 0 {
		h = s.output.Height / scale
	}
	s.size = surface.Size{Width: w, Height: h, Scale: scale}

	if !s.hasConfig {
		s.hasConfig = true
		close(s.configured)
	}
}

//export goLayerClosed
func goLayerClosed(key C.uintptr_t) {
	s, ok := lookup[*Surface](uintptr(key))
	if !ok {
		return
	}

	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	s.lost = true
	log.Warnf("%s: compositor closed the layer surface", s.output.Name)

	// the output stays bound but its background is gone until it is
	// announced again
	if o, ok := d.outputs[s.output.ID]; ok && o.announced {
		o.announced = false
		d.queue(surface.OutputRemoved, o.info)
	}
}

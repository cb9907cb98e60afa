// Package wlsurface is the Wayland driver for internal/surface. It puts one
// zwlr_layer_shell_v1 background surface on each output and feeds it wl_shm
// buffers.
package wlsurface

/*
#cgo pkg-config: wayland-client
#include "wlsurface.h"
*/
import "C"

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
	"unsafe"

	"github.com/charmbracelet/log"
	"github.com/matjam/waypaper/internal/surface"
	"golang.org/x/sys/unix"
)

const (
	namespace        = "waypaper"
	configureTimeout = 5 * time.Second
)

// objects maps the keys handed to C listeners to their Go owners. A key
// removed from the table turns late events for a destroyed proxy into
// no-ops.
var objects = struct {
	sync.RWMutex
	m    map[uintptr]any
	next uintptr
}{m: make(map[uintptr]any)}

func register(v any) uintptr {
	objects.Lock()
	defer objects.Unlock()
	objects.next++
	objects.m[objects.next] = v
	return objects.next
}

func unregister(key uintptr) {
	objects.Lock()
	delete(objects.m, key)
	objects.Unlock()
}

func lookup[T any](key uintptr) (T, bool) {
	objects.RLock()
	v, ok := objects.m[key].(T)
	objects.RUnlock()
	return v, ok
}

type output struct {
	d       *Display
	key     uintptr
	proxy   *C.struct_wl_output
	version uint32
	info    surface.Output
	// announced is set once OutputAdded has been sent
	announced bool
}

// Display is a connection to the compositor. It implements surface.Display.
type Display struct {
	dpy        *C.struct_wl_display
	registry   *C.struct_wl_registry
	compositor *C.struct_wl_compositor
	shm        *C.struct_wl_shm
	layerShell *C.struct_zwlr_layer_shell_v1
	viewporter *C.struct_wp_viewporter
	key        uintptr

	compositorVersion uint32

	mu       sync.Mutex
	outputs  map[uint32]*output
	surfaces map[*Surface]struct{}
	queued   []surface.Event
	ready    bool
	closed   bool

	events   chan surface.Event
	wake     [2]int
	loopDone chan struct{}
	quit     chan struct{}
	once     sync.Once
}

// Connect opens the display named by WAYLAND_DISPLAY and binds the globals
// waypaper needs. The compositor must offer zwlr_layer_shell_v1.
func Connect() (*Display, error) {
	dpy := C.wl_display_connect(nil)
	if dpy == nil {
		return nil, fmt.Errorf("failed to connect to Wayland display")
	}

	d := &Display{
		dpy:      dpy,
		outputs:  make(map[uint32]*output),
		surfaces: make(map[*Surface]struct{}),
		events:   make(chan surface.Event, 16),
		loopDone: make(chan struct{}),
		quit:     make(chan struct{}),
	}
	d.key = register(d)

	d.registry = C.wl_display_get_registry(dpy)
	if d.registry == nil {
		d.disconnect()
		return nil, fmt.Errorf("failed to get Wayland registry")
	}
	C.wp_add_registry_listener(d.registry, C.uintptr_t(d.key))

	// globals, then the output properties sent right after binding
	for range 2 {
		if C.wl_display_roundtrip(dpy) < 0 {
			d.disconnect()
			return nil, fmt.Errorf("failed to roundtrip display")
		}
	}

	switch {
	case d.compositor == nil:
		d.disconnect()
		return nil, fmt.Errorf("compositor does not offer wl_compositor")
	case d.shm == nil:
		d.disconnect()
		return nil, fmt.Errorf("compositor does not offer wl_shm")
	case d.layerShell == nil:
		d.disconnect()
		return nil, fmt.Errorf("compositor does not support zwlr_layer_shell_v1")
	}
	if d.viewporter == nil {
		log.Warnf("compositor does not support wp_viewporter, frames will be scaled in software")
	}

	if err := unix.Pipe2(d.wake[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		d.disconnect()
		return nil, fmt.Errorf("wake pipe: %w", err)
	}

	d.mu.Lock()
	d.ready = true
	for _, o := range d.outputs {
		o.announced = true
		log.Debugf("found output %s", o.info)
	}
	d.mu.Unlock()

	go d.dispatch()
	return d, nil
}

func (d *Display) Outputs() []surface.Output {
	d.mu.Lock()
	defer d.mu.Unlock()

	outs := make([]surface.Output, 0, len(d.outputs))
	for _, o := range d.outputs {
		if o.announced {
			outs = append(outs, o.info)
		}
	}
	// registry order, which is the order the compositor announced them in
	slices.SortFunc(outs, func(a, b surface.Output) int { return cmp.Compare(a.ID, b.ID) })
	return outs
}

func (d *Display) Events() <-chan surface.Event { return d.events }

// dispatch reads and dispatches compositor events until Close or a
// connection error.
func (d *Display) dispatch() {
	defer close(d.loopDone)
	defer close(d.events)

	fd := int32(C.wl_display_get_fd(d.dpy))
	for {
		for C.wl_display_prepare_read(d.dpy) != 0 {
			if C.wl_display_dispatch_pending(d.dpy) < 0 {
				d.lost(errors.New("dispatch failed"))
				return
			}
		}
		C.wl_display_flush(d.dpy)

		fds := []unix.PollFd{
			{Fd: fd, Events: unix.POLLIN},
			{Fd: int32(d.wake[0]), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(fds, -1); err != nil && !errors.Is(err, unix.EINTR) {
			C.wl_display_cancel_read(d.dpy)
			d.lost(err)
			return
		}

		if fds[1].Revents != 0 {
			C.wl_display_cancel_read(d.dpy)
			return
		}

		switch {
		case fds[0].Revents&unix.POLLIN != 0:
			if C.wl_display_read_events(d.dpy) < 0 {
				d.lost(errors.New("reading events failed"))
				return
			}
		case fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0:
			C.wl_display_cancel_read(d.dpy)
			d.lost(errors.New("connection closed by compositor"))
			return
		default:
			C.wl_display_cancel_read(d.dpy)
		}

		if C.wl_display_dispatch_pending(d.dpy) < 0 {
			d.lost(errors.New("dispatch failed"))
			return
		}

		if !d.deliver() {
			return
		}
	}
}

// deliver hands queued hot-plug events to the consumer. It reports false
// when the display is closing.
func (d *Display) deliver() bool {
	d.mu.Lock()
	queued := d.queued
	d.queued = nil
	d.mu.Unlock()

	for _, ev := range queued {
		select {
		case d.events <- ev:
		case <-d.quit:
			return false
		}
	}
	return true
}

// lost reports every output as removed after the connection broke.
func (d *Display) lost(err error) {
	log.Errorf("wayland connection lost: %v", err)

	d.mu.Lock()
	var removed []surface.Event
	for _, o := range d.outputs {
		if o.announced {
			removed = append(removed, surface.Event{Kind: surface.OutputRemoved, Output: o.info})
			o.announced = false
		}
	}
	for s := range d.surfaces {
		s.lost = true
	}
	d.mu.Unlock()

	for _, ev := range removed {
		select {
		case d.events <- ev:
		case <-d.quit:
			return
		}
	}
}

func (d *Display) queue(kind surface.EventKind, o surface.Output) {
	d.queued = append(d.queued, surface.Event{Kind: kind, Output: o})
}

// CreateSurface puts a background layer surface on out and waits for the
// compositor to configure it.
func (d *Display) CreateSurface(ctx context.Context, out surface.Output) (surface.Surface, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, surface.ErrClosed
	}
	o, ok := d.outputs[out.ID]
	if !ok || !o.announced {
		d.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", out.Name, surface.ErrOutputUnavailable)
	}

	s := &Surface{
		d:          d,
		output:     o.info,
		configured: make(chan struct{}),
	}
	s.key = register(s)

	s.wl = C.wl_compositor_create_surface(d.compositor)
	if s.wl == nil {
		d.mu.Unlock()
		unregister(s.key)
		return nil, fmt.Errorf("failed to create wl_surface for %s", out.Name)
	}

	ns := C.CString(namespace)
	defer C.free(unsafe.Pointer(ns))
	s.layer = C.wp_get_layer_surface(d.layerShell, s.wl, o.proxy, C.WP_LAYER_BACKGROUND, ns)
	if s.layer == nil {
		C.wl_surface_destroy(s.wl)
		d.mu.Unlock()
		unregister(s.key)
		return nil, fmt.Errorf("failed to create layer surface for %s", out.Name)
	}
	C.wp_add_layer_surface_listener(s.layer, C.uintptr_t(s.key))
	C.wp_layer_surface_setup(s.layer)
	C.wl_surface_commit(s.wl)
	d.surfaces[s] = struct{}{}
	d.mu.Unlock()

	C.wl_display_flush(d.dpy)

	timer := time.NewTimer(configureTimeout)
	defer timer.Stop()

	select {
	case <-s.configured:
		size := s.Size()
		log.Debugf("%s: layer surface configured: %dx%d@%dx", out.Name, size.Width, size.Height, size.Scale)
		return s, nil
	case <-ctx.Done():
		s.Destroy()
		return nil, ctx.Err()
	case <-d.quit:
		s.Destroy()
		return nil, surface.ErrClosed
	case <-timer.C:
		s.Destroy()
		return nil, fmt.Errorf("%s: timeout waiting for layer surface configure", out.Name)
	}
}

// Close destroys every surface and disconnects. Events is closed once the
// dispatch goroutine has exited.
func (d *Display) Close() error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		surfaces := make([]*Surface, 0, len(d.surfaces))
		for s := range d.surfaces {
			surfaces = append(surfaces, s)
		}
		d.mu.Unlock()

		close(d.quit)
		unix.Write(d.wake[1], []byte{0})
		<-d.loopDone

		for _, s := range surfaces {
			s.Destroy()
		}
		unix.Close(d.wake[0])
		unix.Close(d.wake[1])
		d.disconnect()
	})
	return nil
}

// disconnect releases the globals and the connection. The dispatch loop
// must not be running.
func (d *Display) disconnect() {
	for id, o := range d.outputs {
		releaseOutput(o)
		delete(d.outputs, id)
	}
	if d.viewporter != nil {
		C.wp_viewporter_destroy(d.viewporter)
		d.viewporter = nil
	}
	if d.shm != nil {
		C.wl_shm_destroy(d.shm)
		d.shm = nil
	}
	if d.compositor != nil {
		C.wl_compositor_destroy(d.compositor)
		d.compositor = nil
	}
	if d.registry != nil {
		C.wl_registry_destroy(d.registry)
		d.registry = nil
	}
	// zwlr_layer_shell_v1 has no destroy request before version 3
	d.layerShell = nil

	C.wl_display_flush(d.dpy)
	C.wl_display_disconnect(d.dpy)
	unregister(d.key)
}

func releaseOutput(o *output) {
	if o.version >= 3 {
		C.wl_output_release(o.proxy)
	} else {
		C.wl_output_destroy(o.proxy)
	}
	unregister(o.key)
}

func minVersion(offered C.uint32_t, want uint32) C.uint32_t {
	if uint32(offered) < want {
		return offered
	}
	return C.uint32_t(want)
}

//export goRegistryGlobal
func goRegistryGlobal(key C.uintptr_t, registry *C.struct_wl_registry, name C.uint32_t, iface *C.char, version C.uint32_t) {
	d, ok := lookup[*Display](uintptr(key))
	if !ok {
		return
	}

	switch C.GoString(iface) {
	case "wl_compositor":
		// wl_surface.damage_buffer needs version 4
		v := minVersion(version, 4)
		d.compositor = (*C.struct_wl_compositor)(C.wl_registry_bind(registry, name, &C.wl_compositor_interface, v))
		d.compositorVersion = uint32(v)
		log.Debug("bound wl_compositor")
	case "wl_shm":
		d.shm = (*C.struct_wl_shm)(C.wl_registry_bind(registry, name, &C.wl_shm_interface, 1))
		log.Debug("bound wl_shm")
	case "zwlr_layer_shell_v1":
		d.layerShell = (*C.struct_zwlr_layer_shell_v1)(C.wl_registry_bind(registry, name, &C.zwlr_layer_shell_v1_interface, 1))
		log.Debug("bound zwlr_layer_shell_v1")
	case "wp_viewporter":
		d.viewporter = (*C.struct_wp_viewporter)(C.wl_registry_bind(registry, name, &C.wp_viewporter_interface, 1))
		log.Debug("bound wp_viewporter")
	case "wl_output":
		// name and description arrive with version 4
		v := minVersion(version, 4)
		o := &output{
			d:       d,
			proxy:   (*C.struct_wl_output)(C.wl_registry_bind(registry, name, &C.wl_output_interface, v)),
			version: uint32(v),
			info: surface.Output{
				ID:    uint32(name),
				Name:  fmt.Sprintf("output-%d", uint32(name)),
				Scale: 1,
			},
		}
		o.key = register(o)
		C.wp_add_output_listener(o.proxy, C.uintptr_t(o.key))

		d.mu.Lock()
		d.outputs[uint32(name)] = o
		d.mu.Unlock()
		log.Debugf("bound wl_output id=%d", uint32(name))
	}
}

//export goRegistryGlobalRemove
func goRegistryGlobalRemove(key C.uintptr_t, name C.uint32_t) {
	d, ok := lookup[*Display](uintptr(key))
	if !ok {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.outputs[uint32(name)]
	if !ok {
		return
	}
	delete(d.outputs, uint32(name))

	for s := range d.surfaces {
		if s.output.ID == o.info.ID {
			s.lost = true
		}
	}
	if o.announced {
		d.queue(surface.OutputRemoved, o.info)
	}
	releaseOutput(o)
}

// updateOutput applies an output property event under the display lock.
func updateOutput(key C.uintptr_t, fn func(o *output)) {
	o, ok := lookup[*output](uintptr(key))
	if !ok {
		return
	}
	o.d.mu.Lock()
	fn(o)
	o.d.mu.Unlock()
}

//export goOutputMode
func goOutputMode(key C.uintptr_t, width, height C.int32_t) {
	updateOutput(key, func(o *output) {
		o.info.Width, o.info.Height = int(width), int(height)
	})
}

//export goOutputScale
func goOutputScale(key C.uintptr_t, factor C.int32_t) {
	updateOutput(key, func(o *output) {
		o.info.Scale = max(int(factor), 1)
	})
}

//export goOutputName
func goOutputName(key C.uintptr_t, name *C.char) {
	n := C.GoString(name)
	updateOutput(key, func(o *output) {
		o.info.Name = n
	})
}

//export goOutputDescription
func goOutputDescription(key C.uintptr_t, description *C.char) {
	desc := C.GoString(description)
	updateOutput(key, func(o *output) {
		o.info.Description = desc
	})
}

//export goOutputDone
func goOutputDone(key C.uintptr_t) {
	updateOutput(key, func(o *output) {
		if !o.d.ready || o.announced {
			return
		}
		o.announced = true
		log.Infof("output added: %s", o.info)
		o.d.queue(surface.OutputAdded, o.info)
	})
}

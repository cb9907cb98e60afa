package wlsurface

/*
#include "wlsurface.h"
*/
import "C"

import (
	"fmt"

	"github.com/matjam/waypaper/internal/surface"
	"golang.org/x/sys/unix"
)

// buffer is an XRGB8888 wl_buffer backed by its own memfd mapping.
type buffer struct {
	d      *Display
	key    uintptr
	wl     *C.struct_wl_buffer
	data   []byte
	width  int
	height int
	stride int
	busy   bool
}

func newBuffer(d *Display, width, height int) (*buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", width, height)
	}
	stride := width * 4
	size := stride * height

	fd, err := unix.MemfdCreate("waypaper-shm", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("ftruncate shm: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap shm: %w", err)
	}

	pool := C.wl_shm_create_pool(d.shm, C.int32_t(fd), C.int32_t(size))
	if pool == nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("failed to create shm pool")
	}
	wl := C.wl_shm_pool_create_buffer(pool, 0, C.int32_t(width), C.int32_t(height), C.int32_t(stride), C.WL_SHM_FORMAT_XRGB8888)
	// the buffer keeps the pool's memory alive
	C.wl_shm_pool_destroy(pool)
	if wl == nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("failed to create shm buffer")
	}

	b := &buffer{d: d, wl: wl, data: data, width: width, height: height, stride: stride}
	b.key = register(b)
	C.wp_add_buffer_listener(wl, C.uintptr_t(b.key))
	return b, nil
}

func (b *buffer) destroy() {
	unregister(b.key)
	C.wl_buffer_destroy(b.wl)
	unix.Munmap(b.data)
	b.data = nil
}

// copyFrame copies f row by row into dst. Rows of f that are wider than the
// destination stride are cut, missing rows are left untouched.
func copyFrame(dst []byte, dstStride int, f *surface.Frame) {
	row := min(f.Width*4, dstStride)
	for y := 0; y < f.Height; y++ {
		d := y * dstStride
		s := y * f.Stride
		if d+row > len(dst) || s+row > len(f.Pix) {
			return
		}
		copy(dst[d:d+row], f.Pix[s:s+row])
	}
}

//export goBufferRelease
func goBufferRelease(key C.uintptr_t) {
	b, ok := lookup[*buffer](uintptr(key))
	if !ok {
		return
	}
	b.d.mu.Lock()
	b.busy = false
	b.d.mu.Unlock()
}

package wlsurface

import (
	"bytes"
	"context"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/matjam/waypaper/internal/surface"
)

func TestCopyFrame_HonoursStride(t *testing.T) {
	f := &surface.Frame{Width: 2, Height: 2, Stride: 12, Pix: []byte{
		1, 2, 3, 4, 5, 6, 7, 8, 0xee, 0xee, 0xee, 0xee,
		9, 10, 11, 12, 13, 14, 15, 16, 0xee, 0xee, 0xee, 0xee,
	}}
	dst := make([]byte, 16)

	copyFrame(dst, 8, f)

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if !bytes.Equal(dst, want) {
		t.Fatalf("got %v, want %v", dst, want)
	}
}

func TestCopyFrame_ShortSource(t *testing.T) {
	f := &surface.Frame{Width: 1, Height: 3, Stride: 4, Pix: []byte{1, 1, 1, 1, 2, 2, 2, 2}}
	dst := bytes.Repeat([]byte{0xff}, 12)

	copyFrame(dst, 4, f)

	want := []byte{1, 1, 1, 1, 2, 2, 2, 2, 0xff, 0xff, 0xff, 0xff}
	if !bytes.Equal(dst, want) {
		t.Fatalf("got %v, want %v", dst, want)
	}
}

func TestRegistry_LateEventsAreDropped(t *testing.T) {
	b := &buffer{busy: true}
	key := register(b)

	if got, ok := lookup[*buffer](key); !ok || got != b {
		t.Fatalf("lookup returned %v, %v", got, ok)
	}
	unregister(key)
	if _, ok := lookup[*buffer](key); ok {
		t.Fatal("lookup found an unregistered object")
	}
	if _, ok := lookup[*Surface](register(b)); ok {
		t.Fatal("lookup ignored the object type")
	}
}

// TestConnect runs against the session compositor when there is one.
func TestConnect(t *testing.T) {
	if os.Getenv("WAYLAND_DISPLAY") == "" {
		t.Skip("no Wayland session")
	}

	d, err := Connect()
	if err != nil {
		t.Skipf("compositor unusable: %v", err)
	}
	defer d.Close()

	outs := d.Outputs()
	if len(outs) == 0 {
		t.Skip("compositor has no outputs")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := d.CreateSurface(ctx, outs[0])
	if err != nil {
		t.Fatalf("CreateSurface: %v", err)
	}
	defer s.Destroy()

	size := s.Size()
	if size.Width <= 0 || size.Height <= 0 {
		t.Fatalf("unconfigured size %+v", size)
	}

	f := surface.NewFrame(size.Native())
	if err := s.Commit(f); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestOutputs_SortedByRegistryName(t *testing.T) {
	d := &Display{outputs: make(map[uint32]*output)}
	for _, id := range []uint32{42, 7, 19, 3, 56} {
		d.outputs[id] = &output{
			info:      surface.Output{ID: id, Name: "out", Scale: 1},
			announced: id != 19,
		}
	}

	for range 5 {
		outs := d.Outputs()
		var ids []uint32
		for _, o := range outs {
			ids = append(ids, o.ID)
		}
		if want := []uint32{3, 7, 42, 56}; !slices.Equal(ids, want) {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}
